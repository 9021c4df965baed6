package engine

import (
	"fmt"
	"math"
)

// SafetyStockInput is one safety-stock evaluation in day space.
type SafetyStockInput struct {
	ServiceLevelGoal float64 // percent
	MADP             float64
	LeadTimeDays     float64
	LeadTimeVarPct   float64
	OrderCycleDays   float64
	Attenuate        bool
}

// SafetyStockDays sizes the buffer against demand and lead-time noise
// over the effective replenishment window of lead time plus half the
// order cycle.
func SafetyStockDays(in SafetyStockInput) float64 {
	z := ServiceFactor(in.ServiceLevelGoal)
	window := in.LeadTimeDays + in.OrderCycleDays/2
	sigmaD := (in.MADP / 100) * 1.25
	sigmaLT := in.LeadTimeDays * in.LeadTimeVarPct / 100

	ss := z * math.Sqrt(window*sigmaD*sigmaD+sigmaLT)
	if in.Attenuate {
		ss *= CycleAttenuation(in.OrderCycleDays)
	}
	return math.Max(sanitizeFloat(ss), 0)
}

// CycleAttenuation discounts safety stock on long cycles, where the
// cycle stock itself already covers most of the exposure. Bounded to
// [0.5, 1].
func CycleAttenuation(cycleDays float64) float64 {
	if cycleDays <= 1 {
		return 1
	}
	return clampRange(1-0.1*math.Log10(cycleDays), 0.5, 1)
}

// StockPointsInput is one SKU's order-point recomputation. The company
// defaults are the last tier of each fallback chain, behind the SKU and
// its vendor.
type StockPointsInput struct {
	SKU          *SKU
	Vendor       *Vendor
	Profile      *Profile // nil when the SKU is not seasonal
	PeriodNumber int      // current period, for the seasonal index
	Attenuate    bool

	DefaultServiceLevel   float64 // percent
	DefaultLeadTimeDays   float64
	DefaultLeadTimeVarPct float64
}

// ComputeStockPoints recomputes safety stock, order points and the
// order-up-to level on the SKU. Lead time, variance and service level
// fall back sku, then vendor, then company default.
func ComputeStockPoints(in StockPointsInput) error {
	sku, vendor := in.SKU, in.Vendor
	if sku == nil || vendor == nil {
		return fmt.Errorf("%w: stock points need a sku and its vendor", ErrValidation)
	}

	lt := sku.LeadTimeForecastDays
	if lt <= 0 {
		lt = vendor.LeadTimeForecastDays
	}
	if lt <= 0 {
		lt = vendor.LeadTimeQuotedDays
	}
	if lt <= 0 {
		lt = in.DefaultLeadTimeDays
	}
	lt = math.Max(lt, 1)

	ltvar := sku.LeadTimeVariancePct
	if ltvar <= 0 {
		ltvar = vendor.LeadTimeVariancePct
	}
	if ltvar <= 0 {
		ltvar = in.DefaultLeadTimeVarPct
	}
	ltvar = math.Max(ltvar, 5)

	slg := sku.ServiceLevelGoal
	if slg <= 0 {
		slg = vendor.ServiceLevelGoalDefault
	}
	if slg <= 0 {
		slg = in.DefaultServiceLevel
	}

	effCycle := math.Max(vendor.OrderCycleDays, sku.ItemOrderCycleDays)

	ssDays := SafetyStockDays(SafetyStockInput{
		ServiceLevelGoal: slg,
		MADP:             sku.MADP,
		LeadTimeDays:     lt,
		LeadTimeVarPct:   ltvar,
		OrderCycleDays:   effCycle,
		Attenuate:        in.Attenuate,
	})
	if in.Profile != nil {
		ssDays *= in.Profile.Index(in.PeriodNumber)
	}

	dd := sku.DailyDemand()
	ssUnits := ssDays * dd
	switch sku.SSType {
	case SSLesserOf:
		ssUnits = math.Min(ssUnits, sku.ManualSafetyStock)
	case SSAlways:
		ssUnits = sku.ManualSafetyStock
	}
	ssUnits = math.Max(ssUnits, sku.MinPresentationStock)
	if dd > epsilon {
		ssDays = ssUnits / dd
	}

	sku.SafetyStockDays = ssDays
	sku.ItemOrderPointDays = ssDays + lt
	sku.ItemOrderPointUnits = math.Max(sku.ItemOrderPointDays*dd, ssUnits)
	sku.VendorOrderPointDays = sku.ItemOrderPointDays + vendor.OrderCycleDays
	sku.OrderUpToLevelDays = sku.ItemOrderPointDays + effCycle
	sku.OrderUpToLevelUnits = math.Max(sku.OrderUpToLevelDays*dd, ssUnits)
	if sku.OUTLHardMax > 0 {
		sku.OrderUpToLevelUnits = math.Min(sku.OrderUpToLevelUnits, sku.OUTLHardMax)
	}
	return nil
}

// EmpiricalAdjust nudges safety stock toward the service-level goal
// after a period closes, clamped to the configured maximum swing. The
// applied fraction is returned, zero when nothing moved.
func EmpiricalAdjust(sku *SKU, maxAdjustPct float64) float64 {
	if sku == nil || sku.ServiceLevelAttained <= 0 || sku.ServiceLevelGoal <= 0 {
		return 0
	}
	limit := math.Abs(maxAdjustPct) / 100
	delta := clampRange((sku.ServiceLevelGoal-sku.ServiceLevelAttained)/100, -limit, limit)
	if math.Abs(delta) < epsilon {
		return 0
	}

	old := sku.SafetyStockDays
	sku.SafetyStockDays = old * (1 + delta)
	shift := sku.SafetyStockDays - old
	sku.ItemOrderPointDays += shift
	sku.VendorOrderPointDays += shift
	sku.OrderUpToLevelDays += shift

	dd := sku.DailyDemand()
	if dd > epsilon {
		sku.ItemOrderPointUnits = sku.ItemOrderPointDays * dd
		sku.OrderUpToLevelUnits = sku.OrderUpToLevelDays * dd
		if sku.OUTLHardMax > 0 {
			sku.OrderUpToLevelUnits = math.Min(sku.OrderUpToLevelUnits, sku.OUTLHardMax)
		}
	}
	return delta
}
