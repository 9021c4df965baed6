package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func orderableSKU(id string) *SKU {
	return &SKU{
		SkuID:               id,
		WarehouseID:         "W1",
		VendorID:            "V1",
		BuyerClass:          BuyerRegular,
		SystemClass:         SystemRegular,
		WeeklyForecast:      35, // 5 a day
		PeriodForecast:      140,
		ServiceLevelGoal:    95,
		PurchasePrice:       decimal.NewFromInt(10),
		ItemOrderPointUnits: 50,
		OrderUpToLevelUnits: 120,
	}
}

func TestBuildOrder_SuggestedQuantity(t *testing.T) {
	sku := orderableSKU("A")
	sku.OnHand = 60
	sku.BuyingMultiple = 8
	vendor := &Vendor{VendorID: "V1", WarehouseID: "W1", LeadTimeForecastDays: 7}

	now := time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)
	order, err := BuildOrder(OrderBuildInput{Vendor: vendor, SKUs: []*SKU{sku}, Now: now, OpPrimeLimit: 97})
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if order == nil || len(order.Lines) != 1 {
		t.Fatalf("order = %+v, want one line", order)
	}

	ln := order.Lines[0]
	// OUTL 120 less available 60 is 60, up to the multiple of 8: 64
	if ln.SOQUnits != 64 {
		t.Errorf("SOQ = %v units, want 64", ln.SOQUnits)
	}
	if math.Abs(ln.SOQDays-12.8) > 1e-9 {
		t.Errorf("SOQ days = %v, want 12.8", ln.SOQDays)
	}
	// available 60 against order point 50 leaves 2 days of headroom
	if math.Abs(ln.ItemDelay-2) > 1e-9 {
		t.Errorf("item delay = %v, want 2", ln.ItemDelay)
	}
	if ln.IsOrderPointDriven {
		t.Error("line above its order point marked driven")
	}
	if !ln.ExtendedAmount.Equal(decimal.NewFromInt(640)) {
		t.Errorf("extended amount = %s, want 640", ln.ExtendedAmount)
	}
	if !order.Independent.Amount.Equal(decimal.NewFromInt(640)) || order.Independent.Eaches != 64 {
		t.Errorf("independent totals = %+v", order.Independent)
	}
	if order.Status != OrderPlanned {
		t.Errorf("status = %v, want planned with no due trigger", order.Status)
	}
	if !order.ExpectedDeliveryDate.Equal(now.AddDate(0, 0, 7)) {
		t.Errorf("expected delivery = %v, want now+7d", order.ExpectedDeliveryDate)
	}
	if math.Abs(order.OrderDelay-2) > 1e-9 {
		t.Errorf("order delay = %v, want 2", order.OrderDelay)
	}
}

func TestBuildOrder_MinimumQuantityFloor(t *testing.T) {
	sku := orderableSKU("A")
	sku.OnHand = 110 // OUTL 120 leaves a 10-unit need
	sku.MinimumQuantity = 20
	sku.BuyingMultiple = 8
	vendor := &Vendor{VendorID: "V1", WarehouseID: "W1"}

	order, err := BuildOrder(OrderBuildInput{Vendor: vendor, SKUs: []*SKU{sku}, Now: time.Now()})
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if order == nil || len(order.Lines) != 1 {
		t.Fatalf("order = %+v, want one line", order)
	}
	// floored to the 20-unit minimum, then up to the multiple of 8
	if order.Lines[0].SOQUnits != 24 {
		t.Errorf("SOQ = %v units, want 24", order.Lines[0].SOQUnits)
	}
}

func TestBuildOrder_NothingNeeded(t *testing.T) {
	sku := orderableSKU("A")
	sku.OnHand = 500
	vendor := &Vendor{VendorID: "V1", WarehouseID: "W1"}

	order, err := BuildOrder(OrderBuildInput{Vendor: vendor, SKUs: []*SKU{sku}, Now: time.Now()})
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if order != nil {
		t.Fatalf("expected no order, got %+v", order)
	}
}

func TestBuildOrder_ManualCoversBackordersOnly(t *testing.T) {
	stocked := orderableSKU("M1")
	stocked.BuyerClass = BuyerManual
	stocked.OnHand = 10 // no unmet backorder, no line

	short := orderableSKU("M2")
	short.BuyerClass = BuyerDiscontinued
	short.OnHand = 2
	short.CustomerBackOrder = 7 // 5 unmet

	vendor := &Vendor{VendorID: "V1", WarehouseID: "W1"}
	order, err := BuildOrder(OrderBuildInput{Vendor: vendor, SKUs: []*SKU{stocked, short}, Now: time.Now()})
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if order == nil || len(order.Lines) != 1 {
		t.Fatalf("order = %+v, want only the backordered line", order)
	}
	if order.Lines[0].SkuID != "M2" || order.Lines[0].SOQUnits != 5 {
		t.Errorf("line = %+v, want 5 units of M2", order.Lines[0])
	}
}

func TestBuildOrder_Checks(t *testing.T) {
	a := orderableSKU("A")
	a.ServiceLevelGoal = 98
	a.OnHand = 10 // below order point 50

	b := orderableSKU("B")
	b.ServiceLevelGoal = 90
	b.OnHand = 10

	w := orderableSKU("W")
	w.BuyerClass = BuyerWatch
	w.OnHand = 60

	m := orderableSKU("M")
	m.BuyerClass = BuyerManual
	m.ServiceLevelGoal = 0
	m.ItemOrderPointUnits = 0
	m.OnHand = 0
	m.CustomerBackOrder = 5

	n := orderableSKU("N")
	n.SystemClass = SystemNew
	n.OnHand = 60

	q := orderableSKU("Q")
	q.WeeklyForecast = 3.5
	q.PeriodForecast = 1
	q.ItemOrderPointUnits = 0
	q.OrderUpToLevelUnits = 20
	q.OnHand = 1

	s := orderableSKU("S")
	s.WeeklyForecast = 70
	s.PeriodForecast = 200
	s.ShelfLifeDays = 10
	s.ItemOrderPointUnits = 40
	s.OrderUpToLevelUnits = 200
	s.OnHand = 50

	u := orderableSKU("U")
	u.BuyerClass = BuyerUninitialized
	u.ServiceLevelGoal = 95
	u.ItemOrderPointUnits = 1
	u.OrderUpToLevelUnits = 10
	u.OnHand = 2

	vendor := &Vendor{VendorID: "V1", WarehouseID: "W1"}
	order, err := BuildOrder(OrderBuildInput{
		Vendor:       vendor,
		SKUs:         []*SKU{a, b, w, m, n, q, s, u},
		Now:          time.Now(),
		OpPrimeLimit: 97,
	})
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if order == nil {
		t.Fatal("expected an order")
	}

	c := order.Checks
	if c.OrderPointA != 1 {
		t.Errorf("order point A = %d, want 1", c.OrderPointA)
	}
	// B below its point, plus the manual backorder line sitting below its
	if c.OrderPoint != 2 {
		t.Errorf("order point = %d, want 2", c.OrderPoint)
	}
	if c.Watch != 1 || c.Manual != 1 || c.New != 1 || c.Uninitialized != 1 {
		t.Errorf("class checks = %+v", c)
	}
	// Q orders 19 against a six-month supply of 9
	if c.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", c.Quantity)
	}
	// S orders 15 days of a 10-day shelf life
	if c.ShelfLife != 1 {
		t.Errorf("shelf life = %d, want 1", c.ShelfLife)
	}
}

func TestIsOrderDue(t *testing.T) {
	now := time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC) // a Monday

	v := &Vendor{VendorID: "V1", OrderDaysInWeek: 1} // Monday bit
	if d := IsOrderDue(v, nil, OrderTotals{}, nil, now, 0); !d.Due || d.Reason != "scheduled order day" {
		t.Errorf("schedule decision = %+v", d)
	}

	v = &Vendor{VendorID: "V1", NextOrderDate: now.AddDate(0, 0, -1)}
	if d := IsOrderDue(v, nil, OrderTotals{}, nil, now, 0); !d.Due {
		t.Error("past next-order date should be due")
	}
	v.NextOrderDate = now.AddDate(0, 0, 1)
	if d := IsOrderDue(v, nil, OrderTotals{}, nil, now, 0); d.Due {
		t.Error("future next-order date should not be due")
	}

	v = &Vendor{VendorID: "V1", OrderWhenMinimumMet: true, CurrentBracket: 1}
	brackets := []Bracket{{VendorID: "V1", BracketNumber: 1, Unit: UnitAmount, Minimum: decimal.NewFromInt(500)}}
	met := OrderTotals{Amount: decimal.NewFromInt(600)}
	if d := IsOrderDue(v, nil, met, brackets, now, 0); !d.Due || d.Reason != "bracket minimum met" {
		t.Errorf("minimum-met decision = %+v", d)
	}
	light := OrderTotals{Amount: decimal.NewFromInt(400)}
	if d := IsOrderDue(v, nil, light, brackets, now, 0); d.Due {
		t.Error("below-minimum order should not be due")
	}

	atRisk := orderableSKU("R1")
	atRisk.OnHand = 10
	atRisk.VendorOrderPointDays = 24 // 120 units at 5 a day
	fine1 := orderableSKU("R2")
	fine1.OnHand = 600
	fine2 := orderableSKU("R3")
	fine2.OnHand = 600
	v = &Vendor{VendorID: "V1"}
	skus := []*SKU{atRisk, fine1, fine2}
	if d := IsOrderDue(v, skus, OrderTotals{}, nil, now, 0.20); !d.Due {
		t.Error("one of three at risk should trip a 20% threshold")
	}
	if d := IsOrderDue(v, skus, OrderTotals{}, nil, now, 0.50); d.Due {
		t.Error("one of three at risk should not trip a 50% threshold")
	}
}

func TestIsOrderDue_WeekParity(t *testing.T) {
	now := time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC) // a Monday
	_, week := now.ISOWeek()
	match, miss := 1, 2
	if week%2 == 0 {
		match, miss = 2, 1
	}

	v := &Vendor{VendorID: "V1", OrderDaysInWeek: 1, OrderWeekParity: match}
	if d := IsOrderDue(v, nil, OrderTotals{}, nil, now, 0); !d.Due {
		t.Error("matching parity week should be due")
	}
	v.OrderWeekParity = miss
	if d := IsOrderDue(v, nil, OrderTotals{}, nil, now, 0); d.Due {
		t.Error("off-parity week should not be due")
	}
}

func TestBuildOrder_RebuildToBracket(t *testing.T) {
	a := orderableSKU("A")
	a.OnHand = 60 // orders 60 at 10 each: 600

	b := orderableSKU("B")
	b.WeeklyForecast = 14 // 2 a day
	b.PurchasePrice = decimal.NewFromInt(5)
	b.ItemOrderPointUnits = 40
	b.OrderUpToLevelUnits = 90
	b.OnHand = 100 // fully stocked, joins only through the rebuild

	vendor := &Vendor{
		VendorID:         "V1",
		WarehouseID:      "W1",
		AutomaticRebuild: 4,
		CurrentBracket:   1,
	}
	brackets := []Bracket{{
		VendorID:      "V1",
		BracketNumber: 1,
		Unit:          UnitAmount,
		Minimum:       decimal.NewFromInt(1000),
		DiscountPct:   2,
	}}

	order, err := BuildOrder(OrderBuildInput{
		Vendor:   vendor,
		SKUs:     []*SKU{a, b},
		Brackets: brackets,
		Now:      time.Date(2026, 8, 26, 2, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if order == nil {
		t.Fatal("expected an order")
	}

	// deficit 400 over a daily value of 5*10 + 2*5 = 60: 7 days
	if order.ExtraDays != 7 {
		t.Fatalf("extra days = %v, want 7", order.ExtraDays)
	}
	if !order.Independent.Amount.Equal(decimal.NewFromInt(600)) {
		t.Errorf("independent amount = %s, want 600", order.Independent.Amount)
	}
	// A grows to 95 units (950), B joins with 14 (70)
	if !order.AutoAdjust.Amount.Equal(decimal.NewFromInt(1020)) {
		t.Errorf("auto-adjust amount = %s, want 1020", order.AutoAdjust.Amount)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(order.Lines))
	}
	if order.Lines[0].SOQUnits != 95 || order.Lines[1].SOQUnits != 14 {
		t.Errorf("line units = %v and %v, want 95 and 14", order.Lines[0].SOQUnits, order.Lines[1].SOQUnits)
	}
	if !order.FinalAdjust.Amount.Equal(order.AutoAdjust.Amount) {
		t.Errorf("final adjust should start at auto adjust")
	}
}

func TestRebuildToBracket_AlreadyMetAndNoDemand(t *testing.T) {
	order := &Order{
		VendorID:    "V1",
		Independent: OrderTotals{Amount: decimal.NewFromInt(2000)},
	}
	br := Bracket{VendorID: "V1", BracketNumber: 1, Unit: UnitAmount, Minimum: decimal.NewFromInt(1000)}
	days, err := RebuildToBracket(order, nil, br)
	if err != nil || days != 0 {
		t.Fatalf("met bracket: days=%v err=%v, want 0 and nil", days, err)
	}

	idle := &SKU{SkuID: "A", BuyerClass: BuyerRegular} // no demand
	order = &Order{VendorID: "V1", Independent: OrderTotals{Amount: decimal.NewFromInt(100)}}
	_, err = RebuildToBracket(order, []*SKU{idle}, br)
	if !errors.Is(err, ErrPolicy) {
		t.Fatalf("no-demand rebuild error = %v, want policy", err)
	}
}

func TestApplyManualEdit(t *testing.T) {
	a := orderableSKU("A")
	a.OnHand = 60
	vendor := &Vendor{VendorID: "V1", WarehouseID: "W1"}
	order, err := BuildOrder(OrderBuildInput{Vendor: vendor, SKUs: []*SKU{a}, Now: time.Now()})
	if err != nil || order == nil {
		t.Fatalf("BuildOrder: order=%v err=%v", order, err)
	}

	if err := ApplyManualEdit(order, a, 100); err != nil {
		t.Fatalf("ApplyManualEdit: %v", err)
	}
	ln := order.Lines[0]
	if !ln.IsFrozen || !ln.IsManual || ln.SOQUnits != 100 {
		t.Errorf("edited line = %+v", ln)
	}
	if !order.FinalAdjust.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("final adjust = %s, want 1000", order.FinalAdjust.Amount)
	}
	// independent and auto-adjust keep the computed picture
	if !order.Independent.Amount.Equal(decimal.NewFromInt(600)) {
		t.Errorf("independent moved to %s", order.Independent.Amount)
	}

	extra := orderableSKU("C")
	extra.PurchasePrice = decimal.NewFromInt(2)
	if err := ApplyManualEdit(order, extra, 5); err != nil {
		t.Fatalf("manual add: %v", err)
	}
	if len(order.Lines) != 2 || !order.FinalAdjust.Amount.Equal(decimal.NewFromInt(1010)) {
		t.Errorf("after add: %d lines, final %s", len(order.Lines), order.FinalAdjust.Amount)
	}

	if err := ApplyManualEdit(order, a, -1); !errors.Is(err, ErrValidation) {
		t.Errorf("negative qty error = %v, want validation", err)
	}
	order.Status = OrderAccepted
	if err := ApplyManualEdit(order, a, 10); !errors.Is(err, ErrValidation) {
		t.Errorf("accepted-order edit error = %v, want validation", err)
	}
}

func TestOrderTransitions(t *testing.T) {
	now := time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)

	o := &Order{ID: 1, Status: OrderPlanned}
	steps := []OrderStatus{OrderDue, OrderPlanned, OrderDue, OrderAccepted, OrderReceived}
	for _, s := range steps {
		if err := o.Transition(s, now); err != nil {
			t.Fatalf("transition to %v: %v", s, err)
		}
	}
	if o.ApprovalDate.IsZero() || o.ReceiptDate.IsZero() {
		t.Error("accept and receive should stamp their dates")
	}

	if err := o.Transition(OrderAccepted, now); !errors.Is(err, ErrValidation) {
		t.Errorf("received to accepted error = %v, want validation", err)
	}
	if err := o.Transition(OrderDeactivated, now); err != nil {
		t.Errorf("deactivate from received: %v", err)
	}
	if err := o.Transition(OrderDeactivated, now); !errors.Is(err, ErrValidation) {
		t.Errorf("double deactivate error = %v, want validation", err)
	}

	o = &Order{ID: 2, Status: OrderPlanned}
	if err := o.Transition(OrderReceived, now); !errors.Is(err, ErrValidation) {
		t.Errorf("planned to received error = %v, want validation", err)
	}
	o = &Order{ID: 3, Status: OrderAccepted}
	if err := o.Transition(OrderPurged, now); err != nil {
		t.Errorf("accepted to purged: %v", err)
	}
}
