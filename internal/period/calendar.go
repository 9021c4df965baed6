// Package period maps wall-clock dates onto forecasting periods.
//
// A periodicity is the number of forecast periods per year: 12 calendar
// months, 13 four-week periods, or 52 ISO weeks. Period numbers are
// 1-based. All arithmetic wraps across year boundaries.
package period

import (
	"fmt"
	"time"
)

// Supported periodicities.
const (
	Monthly    = 12 // calendar months
	FourWeekly = 13 // thirteen 28-day periods
	Weekly     = 52 // ISO weeks
)

// Valid reports whether p is a supported periodicity.
func Valid(p int) bool {
	return p == Monthly || p == FourWeekly || p == Weekly
}

// Current maps a date to its (year, period) under periodicity p.
func Current(now time.Time, p int) (year, per int, err error) {
	switch p {
	case Monthly:
		return now.Year(), int(now.Month()), nil
	case FourWeekly:
		per = (now.YearDay()-1)/28 + 1
		if per > FourWeekly {
			// days 365 and 366 spill into the next year's first period
			return now.Year() + 1, 1, nil
		}
		return now.Year(), per, nil
	case Weekly:
		// ISOWeek assigns boundary days to the right ISO year: early
		// January can be week 52/53 of the prior year, late December
		// week 1 of the next.
		y, w := now.ISOWeek()
		if w > Weekly {
			w = Weekly // long ISO years fold week 53 into period 52
		}
		return y, w, nil
	default:
		return 0, 0, fmt.Errorf("invalid periodicity %d", p)
	}
}

// Previous returns the period immediately before (year, per), wrapping
// at period 1 back to period p of the prior year.
func Previous(year, per, p int) (int, int) {
	if per <= 1 {
		return year - 1, p
	}
	return year, per - 1
}

// Next returns the period immediately after (year, per).
func Next(year, per, p int) (int, int) {
	if per >= p {
		return year + 1, 1
	}
	return year, per + 1
}

// Shift moves n periods from (year, per); n may be negative.
func Shift(year, per, p, n int) (int, int) {
	idx := year*p + (per - 1) + n
	return idx / p, idx%p + 1
}

// Span returns how many periods separate a from b, positive when a is
// later than b.
func Span(aYear, aPer, bYear, bPer, p int) int {
	return (aYear-bYear)*p + (aPer - bPer)
}

// IsLastDay reports whether now is the final day of its period, the day
// the period-end pipeline is allowed to run.
func IsLastDay(now time.Time, p int) bool {
	y1, p1, err := Current(now, p)
	if err != nil {
		return false
	}
	y2, p2, _ := Current(now.AddDate(0, 0, 1), p)
	return y1 != y2 || p1 != p2
}

// DaysIn returns the nominal length of one period in days.
func DaysIn(p int) float64 {
	switch p {
	case Monthly:
		return 365.0 / 12.0
	case FourWeekly:
		return 28
	case Weekly:
		return 7
	default:
		return 0
	}
}
