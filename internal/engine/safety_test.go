package engine

import (
	"errors"
	"math"
	"testing"
)

func TestSafetyStockDays_StandardCase(t *testing.T) {
	got := SafetyStockDays(SafetyStockInput{
		ServiceLevelGoal: 95,
		MADP:             25,
		LeadTimeDays:     7,
		LeadTimeVarPct:   10,
		OrderCycleDays:   14,
	})
	// z=1.6449, window 7+7=14, sigma_d=0.3125, sigma_lt=0.7
	// 1.6449 * sqrt(14*0.09766 + 0.7) = 2.3649
	if math.Abs(got-2.3649) > 1e-3 {
		t.Fatalf("safety stock = %v days, want 2.3649", got)
	}
}

func TestSafetyStockDays_Attenuated(t *testing.T) {
	in := SafetyStockInput{
		ServiceLevelGoal: 95,
		MADP:             25,
		LeadTimeDays:     7,
		LeadTimeVarPct:   10,
		OrderCycleDays:   14,
	}
	plain := SafetyStockDays(in)
	in.Attenuate = true
	got := SafetyStockDays(in)
	// factor = 1 - 0.1*log10(14) = 0.88539
	want := plain * CycleAttenuation(14)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("attenuated = %v, want %v", got, want)
	}
	if got >= plain {
		t.Fatal("attenuation must shrink safety stock")
	}
}

func TestCycleAttenuation_Bounds(t *testing.T) {
	if got := CycleAttenuation(1); got != 1 {
		t.Errorf("cycle 1 factor = %v, want 1", got)
	}
	if got := CycleAttenuation(0); got != 1 {
		t.Errorf("cycle 0 factor = %v, want 1", got)
	}
	if got := CycleAttenuation(1e9); got != 0.5 {
		t.Errorf("huge cycle factor = %v, want floor 0.5", got)
	}
	got := CycleAttenuation(100)
	if math.Abs(got-0.8) > 1e-9 {
		t.Errorf("cycle 100 factor = %v, want 0.8", got)
	}
}

func stockPointsSKU() *SKU {
	return &SKU{
		SkuID:                "SKU-1",
		WeeklyForecast:       35, // 5 a day
		MADP:                 25,
		ServiceLevelGoal:     95,
		LeadTimeForecastDays: 7,
		LeadTimeVariancePct:  10,
	}
}

func TestComputeStockPoints_DerivedPoints(t *testing.T) {
	sku := stockPointsSKU()
	vendor := &Vendor{VendorID: "V1", OrderCycleDays: 14}

	if err := ComputeStockPoints(StockPointsInput{SKU: sku, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}

	// ss 2.3649, then +7 lead time, +14 cycle on top for the OUTL
	if math.Abs(sku.SafetyStockDays-2.3649) > 1e-3 {
		t.Errorf("safety stock = %v, want 2.3649", sku.SafetyStockDays)
	}
	if math.Abs(sku.ItemOrderPointDays-(sku.SafetyStockDays+7)) > 1e-9 {
		t.Errorf("item OP days = %v, want ss+7", sku.ItemOrderPointDays)
	}
	if math.Abs(sku.ItemOrderPointUnits-sku.ItemOrderPointDays*5) > 1e-9 {
		t.Errorf("item OP units = %v, want days*5", sku.ItemOrderPointUnits)
	}
	if math.Abs(sku.VendorOrderPointDays-(sku.ItemOrderPointDays+14)) > 1e-9 {
		t.Errorf("vendor OP days = %v, want item+14", sku.VendorOrderPointDays)
	}
	if math.Abs(sku.OrderUpToLevelDays-(sku.ItemOrderPointDays+14)) > 1e-9 {
		t.Errorf("OUTL days = %v, want item+14", sku.OrderUpToLevelDays)
	}
	if math.Abs(sku.OrderUpToLevelUnits-sku.OrderUpToLevelDays*5) > 1e-9 {
		t.Errorf("OUTL units = %v, want days*5", sku.OrderUpToLevelUnits)
	}
}

func TestComputeStockPoints_ItemCycleWins(t *testing.T) {
	sku := stockPointsSKU()
	sku.ItemOrderCycleDays = 21
	vendor := &Vendor{VendorID: "V1", OrderCycleDays: 14}

	if err := ComputeStockPoints(StockPointsInput{SKU: sku, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	// effective cycle max(14, 21); the vendor OP still uses the vendor's
	if math.Abs(sku.OrderUpToLevelDays-(sku.ItemOrderPointDays+21)) > 1e-9 {
		t.Errorf("OUTL days = %v, want item+21", sku.OrderUpToLevelDays)
	}
	if math.Abs(sku.VendorOrderPointDays-(sku.ItemOrderPointDays+14)) > 1e-9 {
		t.Errorf("vendor OP days = %v, want item+14", sku.VendorOrderPointDays)
	}
}

func TestComputeStockPoints_VendorFallbacks(t *testing.T) {
	sku := stockPointsSKU()
	sku.LeadTimeForecastDays = 0
	sku.LeadTimeVariancePct = 0
	sku.ServiceLevelGoal = 0
	vendor := &Vendor{
		VendorID:                "V1",
		OrderCycleDays:          14,
		LeadTimeForecastDays:    7,
		LeadTimeVariancePct:     10,
		ServiceLevelGoalDefault: 95,
	}

	if err := ComputeStockPoints(StockPointsInput{SKU: sku, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	if math.Abs(sku.SafetyStockDays-2.3649) > 1e-3 {
		t.Errorf("safety stock with vendor fallbacks = %v, want 2.3649", sku.SafetyStockDays)
	}
}

func TestComputeStockPoints_CompanyDefaults(t *testing.T) {
	sku := stockPointsSKU()
	sku.LeadTimeForecastDays = 0
	sku.LeadTimeVariancePct = 0
	sku.ServiceLevelGoal = 0
	vendor := &Vendor{VendorID: "V1", OrderCycleDays: 14}

	if err := ComputeStockPoints(StockPointsInput{
		SKU:                   sku,
		Vendor:                vendor,
		DefaultServiceLevel:   95,
		DefaultLeadTimeDays:   7,
		DefaultLeadTimeVarPct: 10,
	}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	// same numbers as the vendor-fallback case, sourced from the defaults
	if math.Abs(sku.SafetyStockDays-2.3649) > 1e-3 {
		t.Errorf("safety stock with company defaults = %v, want 2.3649", sku.SafetyStockDays)
	}
	if math.Abs(sku.ItemOrderPointDays-(sku.SafetyStockDays+7)) > 1e-9 {
		t.Errorf("item OP days = %v, want ss + default lead time 7", sku.ItemOrderPointDays)
	}
}

func TestComputeStockPoints_VendorBeatsCompanyDefault(t *testing.T) {
	sku := stockPointsSKU()
	sku.LeadTimeForecastDays = 0
	vendor := &Vendor{VendorID: "V1", OrderCycleDays: 14, LeadTimeQuotedDays: 7}

	if err := ComputeStockPoints(StockPointsInput{
		SKU:                 sku,
		Vendor:              vendor,
		DefaultLeadTimeDays: 30,
	}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	if math.Abs(sku.ItemOrderPointDays-(sku.SafetyStockDays+7)) > 1e-9 {
		t.Errorf("item OP days = %v, want the vendor quote 7 over the company 30", sku.ItemOrderPointDays)
	}
}

func TestComputeStockPoints_ManualOverrides(t *testing.T) {
	vendor := &Vendor{VendorID: "V1", OrderCycleDays: 14}

	always := stockPointsSKU()
	always.SSType = SSAlways
	always.ManualSafetyStock = 10
	if err := ComputeStockPoints(StockPointsInput{SKU: always, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	// 10 units at 5 a day is 2 days
	if math.Abs(always.SafetyStockDays-2) > 1e-9 {
		t.Errorf("always: ss = %v days, want 2", always.SafetyStockDays)
	}

	lesser := stockPointsSKU()
	lesser.SSType = SSLesserOf
	lesser.ManualSafetyStock = 100 // larger than computed, so computed wins
	if err := ComputeStockPoints(StockPointsInput{SKU: lesser, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	if math.Abs(lesser.SafetyStockDays-2.3649) > 1e-3 {
		t.Errorf("lesser-of: ss = %v days, want computed 2.3649", lesser.SafetyStockDays)
	}

	never := stockPointsSKU()
	never.SSType = SSNever
	never.ManualSafetyStock = 1
	if err := ComputeStockPoints(StockPointsInput{SKU: never, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	if math.Abs(never.SafetyStockDays-2.3649) > 1e-3 {
		t.Errorf("never: ss = %v days, want computed 2.3649", never.SafetyStockDays)
	}
}

func TestComputeStockPoints_PresentationMinimumAndCap(t *testing.T) {
	vendor := &Vendor{VendorID: "V1", OrderCycleDays: 14}

	sku := stockPointsSKU()
	sku.MinPresentationStock = 20
	if err := ComputeStockPoints(StockPointsInput{SKU: sku, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	// 20 units at 5 a day is 4 days of safety stock
	if math.Abs(sku.SafetyStockDays-4) > 1e-9 {
		t.Errorf("presentation ss = %v days, want 4", sku.SafetyStockDays)
	}

	capped := stockPointsSKU()
	capped.OUTLHardMax = 50
	if err := ComputeStockPoints(StockPointsInput{SKU: capped, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	if capped.OrderUpToLevelUnits != 50 {
		t.Errorf("OUTL units = %v, want hard max 50", capped.OrderUpToLevelUnits)
	}
}

func TestComputeStockPoints_SeasonalIndex(t *testing.T) {
	vendor := &Vendor{VendorID: "V1", OrderCycleDays: 14}
	prof := &Profile{ProfileID: "P1", Periodicity: 13, Indices: []float64{1, 2, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0}}

	sku := stockPointsSKU()
	base := stockPointsSKU()
	if err := ComputeStockPoints(StockPointsInput{SKU: base, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	if err := ComputeStockPoints(StockPointsInput{SKU: sku, Vendor: vendor, Profile: prof, PeriodNumber: 2}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	if math.Abs(sku.SafetyStockDays-2*base.SafetyStockDays) > 1e-9 {
		t.Errorf("peak period ss = %v, want doubled %v", sku.SafetyStockDays, 2*base.SafetyStockDays)
	}
}

func TestComputeStockPoints_Validation(t *testing.T) {
	if err := ComputeStockPoints(StockPointsInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if err := ComputeStockPoints(StockPointsInput{SKU: stockPointsSKU()}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing vendor error = %v, want validation", err)
	}
}

func TestEmpiricalAdjust(t *testing.T) {
	sku := stockPointsSKU()
	vendor := &Vendor{VendorID: "V1", OrderCycleDays: 14}
	if err := ComputeStockPoints(StockPointsInput{SKU: sku, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	before := sku.SafetyStockDays

	sku.ServiceLevelAttained = 90
	delta := EmpiricalAdjust(sku, 10)
	// goal 95 attained 90: +5%
	if math.Abs(delta-0.05) > 1e-9 {
		t.Fatalf("delta = %v, want 0.05", delta)
	}
	if math.Abs(sku.SafetyStockDays-before*1.05) > 1e-9 {
		t.Errorf("ss after adjust = %v, want %v", sku.SafetyStockDays, before*1.05)
	}
	if math.Abs(sku.ItemOrderPointUnits-sku.ItemOrderPointDays*5) > 1e-9 {
		t.Errorf("order point units not rederived: %v", sku.ItemOrderPointUnits)
	}

	// a huge miss clamps at the configured swing
	sku = stockPointsSKU()
	if err := ComputeStockPoints(StockPointsInput{SKU: sku, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	sku.ServiceLevelAttained = 40
	if delta := EmpiricalAdjust(sku, 10); math.Abs(delta-0.10) > 1e-9 {
		t.Errorf("clamped delta = %v, want 0.10", delta)
	}

	// overachievement shrinks the buffer
	sku = stockPointsSKU()
	if err := ComputeStockPoints(StockPointsInput{SKU: sku, Vendor: vendor}); err != nil {
		t.Fatalf("ComputeStockPoints: %v", err)
	}
	sku.ServiceLevelAttained = 99
	if delta := EmpiricalAdjust(sku, 10); math.Abs(delta-(-0.04)) > 1e-9 {
		t.Errorf("shrink delta = %v, want -0.04", delta)
	}

	// nothing attained yet means nothing to learn from
	idle := stockPointsSKU()
	if delta := EmpiricalAdjust(idle, 10); delta != 0 {
		t.Errorf("idle delta = %v, want 0", delta)
	}
}
