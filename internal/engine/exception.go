package engine

import (
	"fmt"
	"time"
)

// ExceptionScanInput is one SKU's period-end exception scan. The
// statistical rules compare the closed period's actual against the
// stats the SKU carried before reforecasting, so callers snapshot
// those first. ActualDemand and ForecastBefore share a space; the
// period-end pipeline passes base (deseasonalized) units.
type ExceptionScanInput struct {
	SKU          *SKU
	ActualDemand float64
	PeriodYear   int
	PeriodNumber int
	Now          time.Time

	ForecastBefore float64
	MADPBefore     float64
	TrackBefore    float64

	DemandFilterHigh float64 // sigma multiples above forecast
	DemandFilterLow  float64 // sigma multiples below forecast
	TrackLimit       float64

	// Existing holds the unresolved exception types already on file
	// for this (sku, year, period). Those are not raised again.
	Existing map[ExceptionType]bool
}

// ScanExceptions raises the typed exceptions the closed period
// justifies. A zero forecast with positive demand raises the infinity
// check and suppresses the demand filters, whose sigma would be
// meaningless. Scanning is independent of reforecasting, so frozen and
// externally forecast SKUs are still reviewed.
func ScanExceptions(in ExceptionScanInput) ([]Exception, error) {
	s := in.SKU
	if s == nil {
		return nil, fmt.Errorf("%w: exception scan needs a sku", ErrValidation)
	}

	var out []Exception
	add := func(t ExceptionType) {
		if in.Existing[t] {
			return
		}
		out = append(out, Exception{
			SkuID:          s.SkuID,
			PeriodYear:     in.PeriodYear,
			PeriodNumber:   in.PeriodNumber,
			Type:           t,
			ForecastBefore: in.ForecastBefore,
			ForecastAfter:  s.PeriodForecast,
			MADPBefore:     in.MADPBefore,
			MADPAfter:      s.MADP,
			TrackBefore:    in.TrackBefore,
			TrackAfter:     s.Track,
			ActualDemand:   in.ActualDemand,
			CreatedAt:      in.Now,
		})
	}

	f := in.ForecastBefore
	switch {
	case f <= epsilon:
		if in.ActualDemand > epsilon {
			add(ExcInfinityCheck)
		}
	default:
		sigma := DemandSigma(in.MADPBefore, f)
		if sigma <= epsilon {
			// a zero-MADP forecast trips on a doubling or a halving
			if in.ActualDemand > 2*f {
				add(ExcDemandFilterHigh)
			} else if in.ActualDemand < 0.5*f {
				add(ExcDemandFilterLow)
			}
		} else {
			if in.ActualDemand > f+in.DemandFilterHigh*sigma {
				add(ExcDemandFilterHigh)
			} else if in.ActualDemand < f-in.DemandFilterLow*sigma {
				add(ExcDemandFilterLow)
			}
		}
	}

	if in.TrackLimit > 0 {
		switch {
		case in.TrackBefore > in.TrackLimit:
			add(ExcTrackingSignalHigh)
		case in.TrackBefore < -in.TrackLimit:
			add(ExcTrackingSignalLow)
		}
	}

	if s.ServiceLevelGoal > 0 && s.ServiceLevelAttained < 0.95*s.ServiceLevelGoal {
		add(ExcServiceLevelCheck)
	}

	switch s.BuyerClass {
	case BuyerWatch:
		add(ExcWatchSku)
	case BuyerManual:
		add(ExcManualSku)
	case BuyerDiscontinued:
		add(ExcDiscontinuedSku)
	}
	if s.ProfileID != "" {
		add(ExcSeasonalSku)
	}
	if s.SystemClass == SystemNew {
		add(ExcNewSku)
	}
	return out, nil
}

// Resolve marks the exception handled.
func (e *Exception) Resolve(resolution string, now time.Time) {
	e.IsResolved = true
	e.Resolution = resolution
	e.ResolvedAt = now
}

// ArchiveEligible reports whether a resolved exception has aged out of
// the live table. Unresolved exceptions never archive.
func (e *Exception) ArchiveEligible(now time.Time, keepDays int) bool {
	if !e.IsResolved {
		return false
	}
	ref := e.ResolvedAt
	if ref.IsZero() {
		ref = e.CreatedAt
	}
	return now.Sub(ref) > time.Duration(keepDays)*24*time.Hour
}
