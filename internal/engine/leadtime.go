package engine

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// trendThreshold is the fraction of the mean a receipt trend must
// exceed before it feeds the forecast.
const trendThreshold = 0.10

// minOwnObservations is how many receipts a SKU needs before it keeps
// its own lead time instead of inheriting the vendor's.
const minOwnObservations = 3

// LeadTimeObservation is one completed receipt. ExpectedDays of zero
// means no promised delivery was recorded.
type LeadTimeObservation struct {
	OrderDate    time.Time
	ReceiptDate  time.Time
	ExpectedDays float64
	Expedited    bool
	Delayed      bool
}

// Days is the realized lead time of the observation.
func (o LeadTimeObservation) Days() float64 {
	return o.ReceiptDate.Sub(o.OrderDate).Hours() / 24
}

// LeadTimeStats describes the usable observation set.
type LeadTimeStats struct {
	Count       int     `json:"count"`
	MeanDays    float64 `json:"mean_days"`
	MedianDays  float64 `json:"median_days"`
	MinDays     float64 `json:"min_days"`
	MaxDays     float64 `json:"max_days"`
	SigmaDays   float64 `json:"sigma_days"`
	VariancePct float64 `json:"variance_pct"`
	TrendDays   float64 `json:"trend_days"` // recent window mean minus oldest window mean
}

// LeadTimeForecast is the forecast the replenishment math consumes.
type LeadTimeForecast struct {
	Days           float64       `json:"days"`
	VariancePct    float64       `json:"variance_pct"`
	Seasonal       bool          `json:"seasonal"`
	MonthlyIndices []float64     `json:"monthly_indices"` // 12 entries, 1.0 where no receipts
	Stats          LeadTimeStats `json:"stats"`
}

// UsableLeadTimes drops observations that would poison the forecast:
// missing dates, non-positive lead times, expedited or delayed orders,
// and receipts far outside the promised window. The survivors come back
// in receipt order.
func UsableLeadTimes(obs []LeadTimeObservation) []LeadTimeObservation {
	out := make([]LeadTimeObservation, 0, len(obs))
	for _, o := range obs {
		if o.OrderDate.IsZero() || o.ReceiptDate.IsZero() {
			continue
		}
		if o.Expedited || o.Delayed {
			continue
		}
		lt := o.Days()
		if lt <= 0 {
			continue
		}
		if o.ExpectedDays > 0 && (lt < 0.7*o.ExpectedDays || lt > 1.5*o.ExpectedDays) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceiptDate.Before(out[j].ReceiptDate) })
	return out
}

// ForecastLeadTime builds a lead-time forecast from receipt history.
// The forecast rides the median, nudged by half the trend when the
// trend is significant, floored at one day. Variance percent floors at
// five.
func ForecastLeadTime(obs []LeadTimeObservation, applyTrend bool) (LeadTimeForecast, error) {
	usable := UsableLeadTimes(obs)
	if len(usable) == 0 {
		return LeadTimeForecast{}, fmt.Errorf("%w: no usable lead time observations", ErrValidation)
	}

	days := make([]float64, len(usable))
	for i, o := range usable {
		days[i] = o.Days()
	}

	st := LeadTimeStats{
		Count:      len(days),
		MeanDays:   mean(days),
		MedianDays: median(days),
		MinDays:    days[0],
		MaxDays:    days[0],
		SigmaDays:  stdDev(days),
	}
	for _, d := range days {
		st.MinDays = math.Min(st.MinDays, d)
		st.MaxDays = math.Max(st.MaxDays, d)
	}
	if st.MeanDays > epsilon {
		st.VariancePct = 100 * st.SigmaDays / st.MeanDays
	}
	st.TrendDays = leadTimeTrend(days)

	fc := LeadTimeForecast{Days: st.MedianDays, VariancePct: st.VariancePct, Stats: st}
	if applyTrend && math.Abs(st.TrendDays) > trendThreshold*st.MeanDays {
		fc.Days += st.TrendDays / 2
	}
	if fc.Days < 1 {
		fc.Days = 1
	}
	if fc.VariancePct < 5 {
		fc.VariancePct = 5
	}
	fc.Seasonal, fc.MonthlyIndices = monthlyLeadTimeProfile(usable, st.MeanDays)
	return fc, nil
}

// leadTimeTrend compares the mean of the most recent window against the
// oldest one. Windows shrink below three when history is short.
func leadTimeTrend(days []float64) float64 {
	if len(days) < 2 {
		return 0
	}
	w := 3
	if len(days) < w {
		w = len(days)
	}
	return mean(days[len(days)-w:]) - mean(days[:w])
}

// monthlyLeadTimeProfile normalizes per-receipt-month means against the
// overall mean. A spread above 0.2 between the strongest and weakest
// month marks the vendor seasonal.
func monthlyLeadTimeProfile(obs []LeadTimeObservation, overall float64) (bool, []float64) {
	indices := make([]float64, 12)
	for i := range indices {
		indices[i] = 1
	}
	if overall < epsilon {
		return false, indices
	}

	sums := make([]float64, 12)
	counts := make([]int, 12)
	for _, o := range obs {
		m := int(o.ReceiptDate.Month()) - 1
		sums[m] += o.Days()
		counts[m]++
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	covered := false
	for m := range sums {
		if counts[m] == 0 {
			continue
		}
		indices[m] = (sums[m] / float64(counts[m])) / overall
		lo = math.Min(lo, indices[m])
		hi = math.Max(hi, indices[m])
		covered = true
	}
	if !covered {
		return false, indices
	}
	return hi-lo > 0.2, indices
}

// ApplyVendorLeadTime installs a forecast on the vendor record.
func ApplyVendorLeadTime(v *Vendor, fc LeadTimeForecast) {
	v.LeadTimeForecastDays = fc.Days
	v.LeadTimeVariancePct = fc.VariancePct
	v.LeadTimeIsSeasonal = fc.Seasonal
}

// ApplySKULeadTime installs an individually computed forecast on a SKU
// and remembers how many receipts back it.
func ApplySKULeadTime(s *SKU, fc LeadTimeForecast) {
	s.LeadTimeForecastDays = fc.Days
	s.LeadTimeVariancePct = fc.VariancePct
	s.OwnLeadTimeCount = fc.Stats.Count
}

// PropagateLeadTime copies the vendor forecast onto every SKU that does
// not maintain its own, returning how many were touched.
func PropagateLeadTime(v *Vendor, skus []*SKU) int {
	var n int
	for _, s := range skus {
		if s.OwnLeadTimeCount >= minOwnObservations {
			continue
		}
		s.LeadTimeForecastDays = v.LeadTimeForecastDays
		s.LeadTimeVariancePct = v.LeadTimeVariancePct
		n++
	}
	return n
}
