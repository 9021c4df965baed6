package engine

import (
	"math"
	"sort"
)

// epsilon guards quotients against storage-precision noise. Numbers
// closer to zero than this are treated as zero.
const epsilon = 1e-9

// MAD computes the mean absolute deviation between actuals and matched
// forecasts. Returns 0 when the slices are empty or lengths differ.
func MAD(actuals, forecasts []float64) float64 {
	if len(actuals) == 0 || len(actuals) != len(forecasts) {
		return 0
	}
	var sum float64
	for i := range actuals {
		sum += math.Abs(actuals[i] - forecasts[i])
	}
	return sum / float64(len(actuals))
}

// MADP computes the mean absolute deviation as a percentage of the
// forecast, skipping entries whose forecast is zero. Returns 0 when no
// entry qualifies.
func MADP(actuals, forecasts []float64) float64 {
	if len(actuals) == 0 || len(actuals) != len(forecasts) {
		return 0
	}
	var sum float64
	var n int
	for i := range actuals {
		f := math.Abs(forecasts[i])
		if f < epsilon {
			continue
		}
		sum += math.Abs(actuals[i]-forecasts[i]) / f
		n++
	}
	if n == 0 {
		return 0
	}
	return 100 * sum / float64(n)
}

// TrackingSignal computes the signed forecast bias, the error sum
// normalized by MAD and sample count, bounded to [-1, 1]. A positive
// track means demand has been running above forecast.
func TrackingSignal(actuals, forecasts []float64) float64 {
	if len(actuals) == 0 || len(actuals) != len(forecasts) {
		return 0
	}
	mad := MAD(actuals, forecasts)
	if mad < epsilon {
		return 0
	}
	var sum float64
	for i := range actuals {
		sum += actuals[i] - forecasts[i]
	}
	return clampRange(sum/(mad*float64(len(actuals))), -1, 1)
}

// DemandSigma estimates the demand standard deviation from MADP. The
// 1.25 factor converts a mean absolute deviation into a normal sigma.
func DemandSigma(madp, forecast float64) float64 {
	return (madp / 100) * forecast * 1.25
}

// ExpectedZeroPeriods estimates how many of twelve periods should see
// zero demand given the forecast level and its MADP. Tight forecasts
// (z above 6) expect none.
func ExpectedZeroPeriods(forecast, madp float64) float64 {
	sigma := DemandSigma(madp, forecast)
	if forecast < epsilon || sigma < epsilon {
		return 0
	}
	z := forecast / sigma
	if z > 6 {
		return 0
	}
	return 12 * (1 - NormalCDF(z))
}

// NormalCDF is the standard normal cumulative distribution function.
func NormalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

// ServiceFactor converts a service-level goal in percent into the
// normal safety factor z. The goal is clamped to [50, 99.99] first, so
// the factor is always non-negative and finite.
func ServiceFactor(slgPct float64) float64 {
	return normalQuantile(clampRange(slgPct, 50, 99.99) / 100)
}

// normalQuantile is the inverse of NormalCDF on (0, 1). Acklam's
// rational approximation, relative error below 1.2e-9.
func normalQuantile(p float64) float64 {
	const (
		a1 = -39.69683028665376
		a2 = 220.9460984245205
		a3 = -275.9285104469687
		a4 = 138.3577518672690
		a5 = -30.66479806614716
		a6 = 2.506628277459239

		b1 = -54.47609879822406
		b2 = 161.5858368580409
		b3 = -155.6989798598866
		b4 = 66.80131188771972
		b5 = -13.28068155288572

		c1 = -0.007784894002430293
		c2 = -0.3223964580411365
		c3 = -2.400758277161838
		c4 = -2.549732539343734
		c5 = 4.374664141464968
		c6 = 2.938163982698783

		d1 = 0.007784695709041462
		d2 = 0.3224671290700398
		d3 = 2.445134137142996
		d4 = 3.754408661907416

		plow  = 0.02425
		phigh = 1 - plow
	)

	switch {
	case p <= 0:
		return math.Inf(-1)
	case p >= 1:
		return math.Inf(1)
	case p < plow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c1*q+c2)*q+c3)*q+c4)*q+c5)*q + c6) /
			((((d1*q+d2)*q+d3)*q+d4)*q + 1)
	case p > phigh:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c1*q+c2)*q+c3)*q+c4)*q+c5)*q + c6) /
			((((d1*q+d2)*q+d3)*q+d4)*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a1*r+a2)*r+a3)*r+a4)*r+a5)*r + a6) * q /
			(((((b1*r+b2)*r+b3)*r+b4)*r+b5)*r + 1)
	}
}

// RoundToMultiple rounds units up to the next whole buying multiple.
// Multiples at or below 1 just ceil to whole units. The epsilon shave
// keeps product noise like 60*1.1 from rounding up a phantom unit.
func RoundToMultiple(units, multiple float64) float64 {
	if units <= epsilon {
		return 0
	}
	if multiple <= 1 {
		return math.Ceil(units - epsilon)
	}
	return math.Ceil(units/multiple-epsilon) * multiple
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func clampRange(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clamp01(x float64) float64 {
	return clampRange(x, 0, 1)
}

// sanitizeFloat flattens NaN and infinities to 0 before values reach
// storage or JSON.
func sanitizeFloat(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
