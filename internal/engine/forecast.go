package engine

import (
	"fmt"
	"math"
	"time"

	"stockcast/internal/period"
)

// Forecast initialization seeds for a brand-new SKU.
const (
	InitialMADP  = 25
	InitialTrack = 0.2
)

// matureAgeDays is the age at which a SKU leaves New and competes for
// the Regular/Slow/Lumpy classes.
const matureAgeDays = 180

// AVSAlpha derives the smoothing weight from the tracking signal. A
// strongly biased forecast reacts faster; the alpha factor scales the
// whole scheme (10 is neutral).
func AVSAlpha(track, alphaFactor float64) float64 {
	return clamp01(math.Min(math.Abs(track), 0.5) * (alphaFactor / 10))
}

// RegularAVS smooths the most recent demand into the forecast level.
func RegularAVS(oldForecast, demand, track, alphaFactor float64) float64 {
	a := AVSAlpha(track, alphaFactor)
	return a*demand + (1-a)*oldForecast
}

// EnhancedInput is one intermittent-demand reforecast step.
type EnhancedInput struct {
	OldForecast      float64
	Demand           float64 // most recent period, already deseasonalized
	Track            float64
	MADP             float64
	AlphaFactor      float64
	DemandLimit      float64 // at or below is insignificant
	Impact           float64 // multiplicative damping U in (0,1]
	ImpactControl    float64 // scales the forced-decrease trigger
	ZeroStreak       int     // consecutive insignificant periods, k
	SinceSignificant int     // periods since the last significant demand, s >= 1
}

// EnhancedResult is the outcome of one Enhanced AVS step.
type EnhancedResult struct {
	Forecast float64
	Track    float64
	Updated  bool // the level moved
}

// EnhancedAVS reforecasts intermittent demand. Significant demand
// smooths like Regular AVS with alpha damped by U^(s-1); insignificant
// demand leaves the level alone and decays the track by U^k, except
// that a zero streak far beyond what the demand distribution expects
// forces the level down.
func EnhancedAVS(in EnhancedInput) EnhancedResult {
	u := in.Impact
	if u <= 0 || u > 1 {
		u = 0.95
	}

	if in.Demand > in.DemandLimit {
		s := in.SinceSignificant
		if s < 1 {
			s = 1
		}
		a := AVSAlpha(in.Track, in.AlphaFactor) * math.Pow(u, float64(s-1))
		if a < 0.01 {
			a = 0.01
		}
		a = clamp01(a)
		return EnhancedResult{
			Forecast: a*in.Demand + (1-a)*in.OldForecast,
			Track:    in.Track,
			Updated:  true,
		}
	}

	k := in.ZeroStreak
	out := EnhancedResult{
		Forecast: in.OldForecast,
		Track:    in.Track * math.Pow(u, float64(k)),
	}

	expected := ExpectedZeroPeriods(in.OldForecast, in.MADP) * in.ImpactControl
	if k > 0 && float64(k) >= expected {
		out.Forecast = in.OldForecast / (1 + 0.5*(float64(k)/u))
		out.Updated = true
	}
	return out
}

// InitialForecast seeds a brand-new SKU's period forecast. History is
// most recent first and wins when present; otherwise the peer mean,
// otherwise 1.0.
func InitialForecast(history []float64, peerMean float64) float64 {
	if len(history) > 0 {
		var num, den float64
		for i, h := range history {
			w := math.Exp(-0.1 * float64(i))
			num += w * h
			den += w
		}
		if den > epsilon {
			return num / den
		}
	}
	if peerMean > epsilon {
		return peerMean
	}
	return 1.0
}

// SetHorizons recomputes the weekly, quarterly and yearly forecasts
// from the period forecast under the SKU's periodicity.
func SetHorizons(sku *SKU) {
	switch sku.Periodicity {
	case period.Weekly:
		sku.WeeklyForecast = sku.PeriodForecast
		sku.QuarterlyForecast = sku.PeriodForecast * 13
		sku.YearlyForecast = sku.PeriodForecast * 52
	case period.Monthly:
		sku.WeeklyForecast = sku.PeriodForecast * 12 / 52
		sku.QuarterlyForecast = sku.PeriodForecast * 3
		sku.YearlyForecast = sku.PeriodForecast * 12
	default:
		sku.WeeklyForecast = sku.PeriodForecast / 4
		sku.QuarterlyForecast = sku.PeriodForecast * 3
		sku.YearlyForecast = sku.PeriodForecast * 13
	}
}

// Reclassify applies the maturity-gated system class transition. Young,
// alternate-sourced, manual and discontinued SKUs keep their class.
func Reclassify(sku *SKU, now time.Time, madpHigh, slowLimit float64) {
	if sku.AgeDays(now) < matureAgeDays {
		return
	}
	if sku.ForecastMethod == MethodAlternate {
		return
	}
	if sku.BuyerClass == BuyerManual || sku.BuyerClass == BuyerDiscontinued {
		return
	}
	switch {
	case sku.MADP >= madpHigh:
		sku.SystemClass = SystemLumpy
	case sku.YearlyForecast < slowLimit:
		sku.SystemClass = SystemSlow
	default:
		sku.SystemClass = SystemRegular
	}
}

// ReforecastInput carries one SKU's period-end update.
type ReforecastInput struct {
	SKU     *SKU
	History []HistoryRecord // most recent first, current closed period at [0]
	Profile *Profile        // nil when the SKU is not seasonal
	Now     time.Time

	PeerMean float64 // mean period forecast of initialized vendor peers

	AlphaFactor   float64
	DemandLimit   float64
	Impact        float64
	ImpactControl float64
	MADPHigh      float64
	SlowLimit     float64
}

// Reforecast runs one SKU through its period-end update, mutating its
// forecast state. It returns true when the forecast level or statistics
// moved. Frozen SKUs and externally forecast methods are skipped.
func Reforecast(in ReforecastInput) (bool, error) {
	sku := in.SKU
	if sku == nil {
		return false, fmt.Errorf("%w: nil sku", ErrValidation)
	}
	if !period.Valid(sku.Periodicity) {
		return false, fmt.Errorf("%w: sku %s periodicity %d", ErrValidation, sku.SkuID, sku.Periodicity)
	}

	switch sku.ForecastMethod {
	case MethodDemandImport, MethodAlternate:
		return false, nil
	}
	if sku.Frozen(in.Now) {
		return false, nil
	}

	if sku.BuyerClass == BuyerUninitialized || sku.SystemClass == SystemUninitialized {
		initialize(in)
		return true, nil
	}

	usable := usableHistory(in.History)
	if len(usable) == 0 {
		return false, nil
	}

	demand := usable[0].TotalDemand
	if in.Profile != nil {
		demand = Deseasonalize(demand, in.Profile, usable[0].PeriodNumber)
	}

	old := sku.PeriodForecast
	switch sku.ForecastMethod {
	case MethodEnhancedAVS:
		res := EnhancedAVS(EnhancedInput{
			OldForecast:      old,
			Demand:           demand,
			Track:            sku.Track,
			MADP:             sku.MADP,
			AlphaFactor:      in.AlphaFactor,
			DemandLimit:      in.DemandLimit,
			Impact:           in.Impact,
			ImpactControl:    in.ImpactControl,
			ZeroStreak:       sku.PeriodsWithZeroDemand,
			SinceSignificant: sku.PeriodsWithZeroDemand + 1,
		})
		sku.PeriodForecast = res.Forecast
		sku.Track = res.Track
		if res.Updated && demand > in.DemandLimit {
			refreshErrorStats(sku, usable, in.Profile, old)
		}
	default:
		sku.PeriodForecast = RegularAVS(old, demand, sku.Track, in.AlphaFactor)
		refreshErrorStats(sku, usable, in.Profile, old)
	}

	if demand > in.DemandLimit {
		sku.PeriodsWithZeroDemand = 0
	} else {
		sku.PeriodsWithZeroDemand++
	}

	sku.PeriodForecast = sanitizeFloat(math.Max(sku.PeriodForecast, 0))
	sku.MADP = clampRange(sanitizeFloat(sku.MADP), 0, 100)
	sku.Track = clampRange(sanitizeFloat(sku.Track), -1, 1)
	SetHorizons(sku)
	Reclassify(sku, in.Now, in.MADPHigh, in.SlowLimit)
	sku.LastForecastDate = in.Now
	return true, nil
}

// initialize seeds forecast state for an uninitialized SKU and moves it
// into the New class.
func initialize(in ReforecastInput) {
	sku := in.SKU
	var demands []float64
	for _, h := range usableHistory(in.History) {
		d := h.TotalDemand
		if in.Profile != nil {
			d = Deseasonalize(d, in.Profile, h.PeriodNumber)
		}
		demands = append(demands, d)
	}
	sku.PeriodForecast = InitialForecast(demands, in.PeerMean)
	sku.MADP = InitialMADP
	sku.Track = InitialTrack
	sku.PeriodsWithZeroDemand = 0
	if sku.BuyerClass == BuyerUninitialized {
		sku.BuyerClass = BuyerRegular
	}
	sku.SystemClass = SystemNew
	SetHorizons(sku)
	sku.LastForecastDate = in.Now
	if sku.DateCreated.IsZero() {
		sku.DateCreated = in.Now
	}
}

// refreshErrorStats recomputes MADP and track over the usable window,
// comparing deseasonalized actuals against the level that forecast
// them.
func refreshErrorStats(sku *SKU, usable []HistoryRecord, prof *Profile, oldForecast float64) {
	if len(usable) == 0 || oldForecast < epsilon {
		return
	}
	actuals := make([]float64, 0, len(usable))
	forecasts := make([]float64, 0, len(usable))
	for _, h := range usable {
		d := h.TotalDemand
		if prof != nil {
			d = Deseasonalize(d, prof, h.PeriodNumber)
		}
		actuals = append(actuals, d)
		forecasts = append(forecasts, oldForecast)
	}
	sku.MADP = clampRange(MADP(actuals, forecasts), 0, 100)
	sku.Track = TrackingSignal(actuals, forecasts)
}

// usableHistory drops ignored records.
func usableHistory(records []HistoryRecord) []HistoryRecord {
	out := make([]HistoryRecord, 0, len(records))
	for _, h := range records {
		if h.IsIgnored {
			continue
		}
		out = append(out, h)
	}
	return out
}
