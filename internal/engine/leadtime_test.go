package engine

import (
	"errors"
	"math"
	"testing"
	"time"
)

// receiptAfter builds an observation that took days to arrive, received
// at the given date.
func receiptAfter(received time.Time, days float64) LeadTimeObservation {
	return LeadTimeObservation{
		OrderDate:   received.Add(-time.Duration(days * 24 * float64(time.Hour))),
		ReceiptDate: received,
	}
}

func TestUsableLeadTimes_Filtering(t *testing.T) {
	rcv := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	expedited := receiptAfter(rcv, 9)
	expedited.Expedited = true
	delayed := receiptAfter(rcv, 9)
	delayed.Delayed = true
	early := receiptAfter(rcv, 6) // below 0.7 of the promised 10
	early.ExpectedDays = 10
	late := receiptAfter(rcv, 16) // above 1.5 of the promised 10
	late.ExpectedDays = 10
	keep := receiptAfter(rcv, 12)
	keep.ExpectedDays = 10

	obs := []LeadTimeObservation{
		{},
		{ReceiptDate: rcv},
		receiptAfter(rcv, -2),
		{OrderDate: rcv, ReceiptDate: rcv},
		expedited,
		delayed,
		early,
		late,
		keep,
	}

	usable := UsableLeadTimes(obs)
	if len(usable) != 1 {
		t.Fatalf("kept %d observations, want 1", len(usable))
	}
	if math.Abs(usable[0].Days()-12) > 1e-9 {
		t.Fatalf("kept the wrong observation: %v days", usable[0].Days())
	}
}

func TestUsableLeadTimes_SortsByReceipt(t *testing.T) {
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	obs := []LeadTimeObservation{
		receiptAfter(base.AddDate(0, 2, 0), 9),
		receiptAfter(base, 7),
		receiptAfter(base.AddDate(0, 1, 0), 8),
	}
	usable := UsableLeadTimes(obs)
	if len(usable) != 3 {
		t.Fatalf("kept %d observations, want 3", len(usable))
	}
	for i := 1; i < len(usable); i++ {
		if usable[i].ReceiptDate.Before(usable[i-1].ReceiptDate) {
			t.Fatal("observations not in receipt order")
		}
	}
}

func TestForecastLeadTime_MedianWithTrend(t *testing.T) {
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	days := []float64{10, 10, 10, 14, 14, 14}
	obs := make([]LeadTimeObservation, len(days))
	for i, d := range days {
		obs[i] = receiptAfter(base.AddDate(0, 0, i*10), d)
	}

	fc, err := ForecastLeadTime(obs, true)
	if err != nil {
		t.Fatalf("ForecastLeadTime: %v", err)
	}
	// median 12, trend 14-10=4 beats 10% of mean 12, half applies: 14
	if math.Abs(fc.Days-14) > 1e-9 {
		t.Errorf("forecast = %v days, want 14", fc.Days)
	}
	if math.Abs(fc.Stats.TrendDays-4) > 1e-9 {
		t.Errorf("trend = %v, want 4", fc.Stats.TrendDays)
	}
	if fc.Stats.MinDays != 10 || fc.Stats.MaxDays != 14 {
		t.Errorf("min/max = %v/%v, want 10/14", fc.Stats.MinDays, fc.Stats.MaxDays)
	}

	// same history with trend application off keeps the median
	fc, err = ForecastLeadTime(obs, false)
	if err != nil {
		t.Fatalf("ForecastLeadTime: %v", err)
	}
	if math.Abs(fc.Days-12) > 1e-9 {
		t.Errorf("forecast without trend = %v days, want 12", fc.Days)
	}
}

func TestForecastLeadTime_Floors(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	obs := []LeadTimeObservation{
		receiptAfter(base, 7),
		receiptAfter(base.AddDate(0, 0, 7), 7),
		receiptAfter(base.AddDate(0, 0, 14), 7),
	}
	fc, err := ForecastLeadTime(obs, true)
	if err != nil {
		t.Fatalf("ForecastLeadTime: %v", err)
	}
	if fc.Days != 7 {
		t.Errorf("forecast = %v, want 7", fc.Days)
	}
	if fc.VariancePct != 5 {
		t.Errorf("variance floor = %v, want 5", fc.VariancePct)
	}

	short := []LeadTimeObservation{receiptAfter(base, 0.5)}
	fc, err = ForecastLeadTime(short, true)
	if err != nil {
		t.Fatalf("ForecastLeadTime: %v", err)
	}
	if fc.Days != 1 {
		t.Errorf("sub-day forecast = %v, want floor 1", fc.Days)
	}
}

func TestForecastLeadTime_SeasonalSpread(t *testing.T) {
	jan := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	jul := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	obs := []LeadTimeObservation{
		receiptAfter(jan, 20),
		receiptAfter(jan.AddDate(0, 0, 3), 20),
		receiptAfter(jul, 10),
		receiptAfter(jul.AddDate(0, 0, 3), 10),
	}
	fc, err := ForecastLeadTime(obs, false)
	if err != nil {
		t.Fatalf("ForecastLeadTime: %v", err)
	}
	// january runs 20/15=1.333, july 10/15=0.667, spread 0.667
	if !fc.Seasonal {
		t.Fatal("expected a seasonal vendor")
	}
	if math.Abs(fc.MonthlyIndices[0]-20.0/15) > 1e-9 {
		t.Errorf("january index = %v, want 1.3333", fc.MonthlyIndices[0])
	}
	if math.Abs(fc.MonthlyIndices[6]-10.0/15) > 1e-9 {
		t.Errorf("july index = %v, want 0.6667", fc.MonthlyIndices[6])
	}
	if fc.MonthlyIndices[3] != 1 {
		t.Errorf("empty month index = %v, want 1", fc.MonthlyIndices[3])
	}
}

func TestForecastLeadTime_NoUsableObservations(t *testing.T) {
	_, err := ForecastLeadTime(nil, true)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestPropagateLeadTime(t *testing.T) {
	v := &Vendor{VendorID: "V1", LeadTimeForecastDays: 12, LeadTimeVariancePct: 15}
	own := &SKU{SkuID: "A", OwnLeadTimeCount: 5, LeadTimeForecastDays: 8, LeadTimeVariancePct: 20}
	inherits := &SKU{SkuID: "B"}

	n := PropagateLeadTime(v, []*SKU{own, inherits})
	if n != 1 {
		t.Fatalf("propagated to %d SKUs, want 1", n)
	}
	if own.LeadTimeForecastDays != 8 || own.LeadTimeVariancePct != 20 {
		t.Errorf("own-forecast SKU overwritten: %v days %v%%", own.LeadTimeForecastDays, own.LeadTimeVariancePct)
	}
	if inherits.LeadTimeForecastDays != 12 || inherits.LeadTimeVariancePct != 15 {
		t.Errorf("inheriting SKU = %v days %v%%, want 12 / 15", inherits.LeadTimeForecastDays, inherits.LeadTimeVariancePct)
	}
}

func TestApplyLeadTimeForecasts(t *testing.T) {
	fc := LeadTimeForecast{Days: 9, VariancePct: 11, Seasonal: true, Stats: LeadTimeStats{Count: 4}}

	v := &Vendor{VendorID: "V1"}
	ApplyVendorLeadTime(v, fc)
	if v.LeadTimeForecastDays != 9 || v.LeadTimeVariancePct != 11 || !v.LeadTimeIsSeasonal {
		t.Errorf("vendor after apply = %+v", v)
	}

	s := &SKU{SkuID: "A"}
	ApplySKULeadTime(s, fc)
	if s.LeadTimeForecastDays != 9 || s.LeadTimeVariancePct != 11 || s.OwnLeadTimeCount != 4 {
		t.Errorf("sku after apply = lead %v var %v count %d", s.LeadTimeForecastDays, s.LeadTimeVariancePct, s.OwnLeadTimeCount)
	}
}
