package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// OrderCategory tags generated replenishment orders.
const OrderCategory = "replenishment"

// OrderBuildInput is one vendor's order-build pass.
type OrderBuildInput struct {
	Vendor   *Vendor
	SKUs     []*SKU
	Brackets []Bracket
	Now      time.Time

	OpPrimeLimit    float64 // service level separating A order points
	AtRiskThreshold float64 // fraction of SKUs at or below vendor OP
}

// BuildOrder assembles a vendor's suggested order. A nil order with a
// nil error means nothing needs ordering.
func BuildOrder(in OrderBuildInput) (*Order, error) {
	v := in.Vendor
	if v == nil {
		return nil, fmt.Errorf("%w: order build needs a vendor", ErrValidation)
	}

	var lines []OrderLine
	for _, sku := range in.SKUs {
		ln, ok := buildLine(sku)
		if !ok {
			continue
		}
		lines = append(lines, ln)
	}
	if len(lines) == 0 {
		return nil, nil
	}

	lt := v.LeadTimeForecastDays
	if lt <= 0 {
		lt = v.LeadTimeQuotedDays
	}

	order := &Order{
		VendorID:             v.VendorID,
		WarehouseID:          v.WarehouseID,
		Status:               OrderPlanned,
		Category:             OrderCategory,
		OrderDate:            in.Now,
		ExpectedDeliveryDate: in.Now.AddDate(0, 0, int(math.Ceil(lt))),
		CurrentBracket:       v.CurrentBracket,
		Lines:                lines,
	}
	order.Independent = TotalsOf(lines)
	order.Checks = countChecks(lines, in.SKUs, in.OpPrimeLimit)
	order.OrderDelay = minItemDelay(lines)

	order.AutoAdjust = order.Independent
	if v.AutomaticRebuild == 4 || v.AutomaticRebuild == 5 {
		if br, ok := findBracket(in.Brackets, v.CurrentBracket); ok {
			days, err := RebuildToBracket(order, in.SKUs, br)
			switch {
			case err == nil:
				order.ExtraDays = days
			case errors.Is(err, ErrPolicy):
				// nothing to pad with, ship the order as computed
			default:
				return nil, err
			}
		}
	}
	order.FinalAdjust = order.AutoAdjust

	if IsOrderDue(v, in.SKUs, order.Independent, in.Brackets, in.Now, in.AtRiskThreshold).Due {
		order.Status = OrderDue
	}
	return order, nil
}

// buildLine computes one SKU's suggested quantity. Manual and
// discontinued SKUs order only enough to cover unmet back-orders. The
// SKU's minimum quantity floors the line before multiple rounding.
func buildLine(sku *SKU) (OrderLine, bool) {
	if sku == nil {
		return OrderLine{}, false
	}
	available := sku.AvailableBalance()

	var soq float64
	switch sku.BuyerClass {
	case BuyerManual, BuyerDiscontinued:
		if available >= 0 {
			return OrderLine{}, false
		}
		soq = -available
	default:
		soq = sku.OrderUpToLevelUnits - available
	}
	if soq <= 0 {
		return OrderLine{}, false
	}
	if sku.MinimumQuantity > 0 {
		soq = math.Max(soq, sku.MinimumQuantity)
	}
	soq = roundForSKU(soq, sku)

	dd := sku.DailyDemand()
	ln := OrderLine{
		SkuID:              sku.SkuID,
		SOQUnits:           soq,
		PurchasePrice:      sku.PurchasePrice,
		ExtendedAmount:     sku.PurchasePrice.Mul(decimal.NewFromFloat(soq)),
		UnitWeight:         sku.UnitWeight,
		UnitVolume:         sku.UnitVolume,
		IsOrderPointDriven: available <= sku.ItemOrderPointUnits,
	}
	if dd > epsilon {
		ln.SOQDays = soq / dd
		ln.ItemDelay = (available - sku.ItemOrderPointUnits) / dd
	}
	return ln, true
}

// roundForSKU applies a SKU's buying multiple, or plain whole units
// when the multiple is absent or ignored.
func roundForSKU(units float64, sku *SKU) float64 {
	if sku != nil && !sku.IgnoreMultiple && sku.BuyingMultiple > 1 {
		return RoundToMultiple(units, sku.BuyingMultiple)
	}
	return RoundToMultiple(units, 1)
}

// TotalsOf sums lines across the four bracket dimensions.
func TotalsOf(lines []OrderLine) OrderTotals {
	var t OrderTotals
	for _, ln := range lines {
		t.Amount = t.Amount.Add(ln.ExtendedAmount)
		t.Eaches += ln.SOQUnits
		t.Weight += ln.SOQUnits * ln.UnitWeight
		t.Volume += ln.SOQUnits * ln.UnitVolume
	}
	return t
}

// countChecks tallies the per-line review flags for the order header.
func countChecks(lines []OrderLine, skus []*SKU, opPrimeLimit float64) CheckCounts {
	byID := make(map[string]*SKU, len(skus))
	for _, s := range skus {
		byID[s.SkuID] = s
	}

	var c CheckCounts
	for _, ln := range lines {
		sku := byID[ln.SkuID]
		if sku == nil {
			continue
		}
		if ln.IsOrderPointDriven {
			if sku.ServiceLevelGoal >= opPrimeLimit {
				c.OrderPointA++
			} else {
				c.OrderPoint++
			}
		}
		switch sku.BuyerClass {
		case BuyerWatch:
			c.Watch++
		case BuyerManual:
			c.Manual++
		}
		if sku.SystemClass == SystemNew {
			c.New++
		}
		if sku.BuyerClass == BuyerUninitialized || sku.SystemClass == SystemUninitialized {
			c.Uninitialized++
		}
		if sku.PeriodForecast > epsilon && ln.SOQUnits > 6*sku.PeriodForecast*1.5 {
			c.Quantity++
		}
		if sku.ShelfLifeDays > 0 && ln.SOQDays > sku.ShelfLifeDays {
			c.ShelfLife++
		}
	}
	return c
}

func minItemDelay(lines []OrderLine) float64 {
	if len(lines) == 0 {
		return 0
	}
	lowest := lines[0].ItemDelay
	for _, ln := range lines[1:] {
		lowest = math.Min(lowest, ln.ItemDelay)
	}
	return lowest
}

// DueDecision explains an is-order-due outcome.
type DueDecision struct {
	Due    bool
	Reason string
}

// IsOrderDue runs the four due tests in order: calendar schedule,
// next-order date, bracket minimum met, and the at-risk fraction of
// SKUs sitting at or below the vendor order point.
func IsOrderDue(v *Vendor, skus []*SKU, independent OrderTotals, brackets []Bracket, now time.Time, atRiskThreshold float64) DueDecision {
	if v == nil {
		return DueDecision{}
	}
	if v.OrdersToday(now) {
		return DueDecision{Due: true, Reason: "scheduled order day"}
	}
	if !v.NextOrderDate.IsZero() && !v.NextOrderDate.After(now) {
		return DueDecision{Due: true, Reason: "next order date reached"}
	}
	if v.OrderWhenMinimumMet {
		if br, ok := findBracket(brackets, v.CurrentBracket); ok {
			if totalInUnit(independent, br.Unit).Cmp(br.Minimum) >= 0 {
				return DueDecision{Due: true, Reason: "bracket minimum met"}
			}
		}
	}
	if atRiskThreshold > 0 {
		var active, atRisk int
		for _, s := range skus {
			if s.BuyerClass != BuyerRegular && s.BuyerClass != BuyerWatch {
				continue
			}
			active++
			if s.AvailableBalance() <= s.VendorOrderPointDays*s.DailyDemand() {
				atRisk++
			}
		}
		if active > 0 && float64(atRisk)/float64(active) > atRiskThreshold {
			return DueDecision{Due: true, Reason: "at-risk fraction exceeded"}
		}
	}
	return DueDecision{}
}

// RebuildToBracket pads every eligible line with whole days of supply
// until the order reaches the bracket minimum, returning the days
// added. SKUs without a line join the order.
func RebuildToBracket(order *Order, skus []*SKU, bracket Bracket) (float64, error) {
	if order == nil {
		return 0, fmt.Errorf("%w: rebuild needs an order", ErrValidation)
	}

	current := totalInUnit(order.Independent, bracket.Unit)
	if current.Cmp(bracket.Minimum) >= 0 {
		order.AutoAdjust = order.Independent
		return 0, nil
	}
	deficit := bracket.Minimum.Sub(current).InexactFloat64()

	days, err := padDays(order, skus, bracket.Unit, deficit)
	if err != nil {
		return 0, err
	}
	padLines(order, skus, days)
	order.AutoAdjust = TotalsOf(order.Lines)
	return days, nil
}

// padDays sizes a pad as whole days of supply covering the deficit in
// the bracket's unit.
func padDays(order *Order, skus []*SKU, unit BracketUnit, deficit float64) (float64, error) {
	frozen := frozenLines(order)
	var dailyValue float64
	for _, s := range skus {
		if !padEligible(s, frozen) {
			continue
		}
		dd := s.DailyDemand()
		switch unit {
		case UnitEaches:
			dailyValue += dd
		case UnitWeight:
			dailyValue += dd * s.UnitWeight
		case UnitVolume:
			dailyValue += dd * s.UnitVolume
		default:
			dailyValue += dd * priceFloat(s.PurchasePrice)
		}
	}
	if dailyValue <= epsilon {
		return 0, fmt.Errorf("%w: vendor %s has no demand value to build with", ErrPolicy, order.VendorID)
	}
	return math.Ceil(deficit/dailyValue - epsilon), nil
}

// padLines adds days of supply to every eligible line, joining SKUs
// that have none, and re-rounds to buying multiples.
func padLines(order *Order, skus []*SKU, days float64) {
	if days <= 0 {
		return
	}
	frozen := frozenLines(order)
	byID := make(map[string]int, len(order.Lines))
	for i, ln := range order.Lines {
		byID[ln.SkuID] = i
	}
	for _, s := range skus {
		if !padEligible(s, frozen) {
			continue
		}
		add := s.DailyDemand() * days
		i, ok := byID[s.SkuID]
		if !ok {
			order.Lines = append(order.Lines, paddedLine(s, add))
			continue
		}
		raw := roundForSKU(order.Lines[i].SOQUnits+add, s)
		order.Lines[i].SOQUnits = raw
		order.Lines[i].ExtendedAmount = s.PurchasePrice.Mul(decimal.NewFromFloat(raw))
		if dd := s.DailyDemand(); dd > epsilon {
			order.Lines[i].SOQDays = raw / dd
		}
	}
}

func frozenLines(order *Order) map[string]bool {
	frozen := make(map[string]bool)
	for _, ln := range order.Lines {
		if ln.IsFrozen {
			frozen[ln.SkuID] = true
		}
	}
	return frozen
}

// padEligible says whether a SKU may absorb pad quantity. Manual and
// discontinued SKUs and frozen lines stay untouched.
func padEligible(s *SKU, frozen map[string]bool) bool {
	if s == nil || frozen[s.SkuID] {
		return false
	}
	if s.BuyerClass == BuyerManual || s.BuyerClass == BuyerDiscontinued {
		return false
	}
	return s.DailyDemand() > epsilon
}

// paddedLine is a rebuild-only line for a SKU the independent pass
// skipped.
func paddedLine(sku *SKU, units float64) OrderLine {
	units = roundForSKU(units, sku)
	ln := OrderLine{
		SkuID:          sku.SkuID,
		SOQUnits:       units,
		PurchasePrice:  sku.PurchasePrice,
		ExtendedAmount: sku.PurchasePrice.Mul(decimal.NewFromFloat(units)),
		UnitWeight:     sku.UnitWeight,
		UnitVolume:     sku.UnitVolume,
	}
	if dd := sku.DailyDemand(); dd > epsilon {
		ln.SOQDays = units / dd
		ln.ItemDelay = (sku.AvailableBalance() - sku.ItemOrderPointUnits) / dd
	}
	return ln
}

// ApplyManualEdit pins a line to a buyer-chosen quantity. The line
// freezes against rebuilds and only the final-adjust totals move.
func ApplyManualEdit(order *Order, sku *SKU, qty float64) error {
	if order == nil || sku == nil {
		return fmt.Errorf("%w: manual edit needs an order and a sku", ErrValidation)
	}
	if qty < 0 {
		return fmt.Errorf("%w: negative quantity %v", ErrValidation, qty)
	}
	switch order.Status {
	case OrderPlanned, OrderDue:
	default:
		return fmt.Errorf("%w: cannot edit a %s order", ErrValidation, order.Status)
	}

	idx := -1
	for i := range order.Lines {
		if order.Lines[i].SkuID == sku.SkuID {
			idx = i
			break
		}
	}
	if idx < 0 {
		order.Lines = append(order.Lines, OrderLine{
			SkuID:         sku.SkuID,
			PurchasePrice: sku.PurchasePrice,
			UnitWeight:    sku.UnitWeight,
			UnitVolume:    sku.UnitVolume,
		})
		idx = len(order.Lines) - 1
	}

	ln := &order.Lines[idx]
	ln.SOQUnits = qty
	ln.ExtendedAmount = ln.PurchasePrice.Mul(decimal.NewFromFloat(qty))
	ln.IsFrozen = true
	ln.IsManual = true
	if dd := sku.DailyDemand(); dd > epsilon {
		ln.SOQDays = qty / dd
	} else {
		ln.SOQDays = 0
	}
	order.FinalAdjust = TotalsOf(order.Lines)
	return nil
}

// Transition moves the order through its lifecycle. Planned and Due
// swap freely; everything else is one way.
func (o *Order) Transition(to OrderStatus, now time.Time) error {
	from := o.Status
	ok := false
	switch to {
	case OrderPlanned:
		ok = from == OrderDue
	case OrderDue:
		ok = from == OrderPlanned
	case OrderAccepted:
		ok = from == OrderPlanned || from == OrderDue
	case OrderReceived, OrderPurged:
		ok = from == OrderAccepted
	case OrderDeactivated:
		ok = from != OrderDeactivated
	}
	if !ok {
		return fmt.Errorf("%w: cannot move order %d from %s to %s", ErrValidation, o.ID, from, to)
	}

	o.Status = to
	switch to {
	case OrderAccepted:
		o.ApprovalDate = now
	case OrderReceived:
		o.ReceiptDate = now
	}
	return nil
}

// totalInUnit measures the totals in the bracket's dimension.
func totalInUnit(t OrderTotals, unit BracketUnit) decimal.Decimal {
	switch unit {
	case UnitEaches:
		return decimal.NewFromFloat(t.Eaches)
	case UnitWeight:
		return decimal.NewFromFloat(t.Weight)
	case UnitVolume:
		return decimal.NewFromFloat(t.Volume)
	default:
		return t.Amount
	}
}

func findBracket(brackets []Bracket, number int) (Bracket, bool) {
	for _, b := range brackets {
		if b.BracketNumber == number {
			return b, true
		}
	}
	return Bracket{}, false
}

func priceFloat(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
