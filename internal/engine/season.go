package engine

import (
	"fmt"
	"math"
)

// BuildIndices derives seasonal indices from multi-year per-period
// demand. years[0] is the most recent year and at most four years
// contribute. Each row must have the same length (the periodicity).
//
// The composite line is a weighted mean across years: the newest year
// gets recentWeight (default 0.5) and older years split the remainder
// with weights proportional to exp(-0.5*(i-1)). Indices are the
// composite divided by its mean, then 3-point circularly smoothed with
// factor smoothing, then renormalized so their mean is exactly 1.
func BuildIndices(years [][]float64, recentWeight, smoothing float64) ([]float64, error) {
	if len(years) == 0 || len(years[0]) < 2 {
		return nil, fmt.Errorf("%w: need at least one year of period demand", ErrValidation)
	}
	if len(years) > 4 {
		years = years[:4]
	}
	p := len(years[0])
	for i, y := range years {
		if len(y) != p {
			return nil, fmt.Errorf("%w: year %d has %d periods, want %d", ErrValidation, i, len(y), p)
		}
	}

	weights := yearWeights(len(years), clamp01(recentWeight))

	composite := make([]float64, p)
	for i, y := range years {
		for j, v := range y {
			composite[j] += weights[i] * v
		}
	}

	m := mean(composite)
	if m < epsilon {
		return nil, fmt.Errorf("%w: history carries no demand", ErrValidation)
	}

	raw := make([]float64, p)
	for j := range composite {
		raw[j] = composite[j] / m
	}

	smoothed := smoothCircular(raw, clamp01(smoothing))

	// smoothing preserves the mean up to float drift; renormalize anyway
	sm := mean(smoothed)
	for j := range smoothed {
		smoothed[j] = sanitizeFloat(smoothed[j] / sm)
	}
	return smoothed, nil
}

// yearWeights splits weight across n years, newest first.
func yearWeights(n int, recent float64) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	w[0] = recent
	var rest float64
	for i := 1; i < n; i++ {
		w[i] = math.Exp(-0.5 * float64(i-1))
		rest += w[i]
	}
	for i := 1; i < n; i++ {
		w[i] = w[i] / rest * (1 - recent)
	}
	return w
}

// smoothCircular blends each entry with its circular neighbors:
// out[i] = (1-s)*in[i] + s/2*(in[i-1] + in[i+1]).
func smoothCircular(in []float64, s float64) []float64 {
	n := len(in)
	out := make([]float64, n)
	for i := range in {
		prev := in[(i-1+n)%n]
		next := in[(i+1)%n]
		out[i] = (1-s)*in[i] + s/2*(prev+next)
	}
	return out
}

// Seasonalize applies the profile's index for a 1-based period.
func Seasonalize(base float64, prof *Profile, period int) float64 {
	return base * prof.Index(period)
}

// Deseasonalize removes the profile's index from an observed value.
// Indices at or below epsilon pass the value through untouched.
func Deseasonalize(observed float64, prof *Profile, period int) float64 {
	idx := prof.Index(period)
	if idx < epsilon {
		return observed
	}
	return observed / idx
}

// AdoptProfile links a SKU to a profile. When deseason is set the stored
// forecast is divided by the current period's index once, so future
// reseasonalized uses keep the same level.
func AdoptProfile(sku *SKU, prof *Profile, currentPeriod int, deseason bool) {
	sku.ProfileID = prof.ProfileID
	if deseason {
		sku.PeriodForecast = Deseasonalize(sku.PeriodForecast, prof, currentPeriod)
	}
}
