package engine

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// CandidateCycles are the order cycles the policy analyzer searches.
var CandidateCycles = []float64{1, 3, 7, 14, 21, 28, 35, 42, 56, 70, 84}

// CycleEvaluation is the annualized economics of one candidate cycle.
type CycleEvaluation struct {
	CycleDays       float64         `json:"cycle_days"`
	OrderAmount     decimal.Decimal `json:"order_amount"`
	Lines           int             `json:"lines"`
	BracketNumber   int             `json:"bracket_number"` // 0 when no bracket applies
	DiscountPct     float64         `json:"discount_pct"`
	OrdersPerYear   float64         `json:"orders_per_year"`
	AcquisitionCost float64         `json:"acquisition_cost"`
	CarryingCost    float64         `json:"carrying_cost"`
	DiscountSavings float64         `json:"discount_savings"`
	ProfitImpact    float64         `json:"profit_impact"`
}

// PolicyInput is one vendor's order-cycle study.
type PolicyInput struct {
	Vendor       *Vendor
	SKUs         []*SKU
	Brackets     []Bracket
	CarryingRate float64 // fraction of inventory value per year
}

// PolicyResult ranks the candidate cycles for a vendor.
type PolicyResult struct {
	VendorID    string            `json:"vendor_id"`
	Evaluations []CycleEvaluation `json:"evaluations"`
	Best        CycleEvaluation   `json:"best"`
}

// AnalyzeOrderPolicy simulates an order per candidate cycle and scores
// each by discount savings net of acquisition and carrying cost. The
// best cycle maximizes that profit impact; ties keep the shorter cycle.
func AnalyzeOrderPolicy(in PolicyInput) (PolicyResult, error) {
	v := in.Vendor
	if v == nil {
		return PolicyResult{}, fmt.Errorf("%w: policy analysis needs a vendor", ErrValidation)
	}

	var annualValue, ssValue float64
	active := make([]*SKU, 0, len(in.SKUs))
	for _, s := range in.SKUs {
		if s.BuyerClass != BuyerRegular && s.BuyerClass != BuyerWatch {
			continue
		}
		dd := s.DailyDemand()
		if dd <= epsilon {
			continue
		}
		active = append(active, s)
		annualValue += dd * 365 * priceFloat(s.PurchasePrice)
		ssValue += s.SafetyStockDays * dd * priceFloat(s.PurchasePrice)
	}
	if annualValue <= epsilon {
		return PolicyResult{}, fmt.Errorf("%w: vendor %s has no active demand to analyze", ErrPolicy, v.VendorID)
	}

	header := priceFloat(v.HeaderCost)
	lineCost := priceFloat(v.LineCost)

	res := PolicyResult{VendorID: v.VendorID, Evaluations: make([]CycleEvaluation, 0, len(CandidateCycles))}
	for _, cycle := range CandidateCycles {
		var totals OrderTotals
		lines := 0
		for _, s := range active {
			units := roundForSKU(s.DailyDemand()*cycle, s)
			if units <= 0 {
				continue
			}
			lines++
			totals.Amount = totals.Amount.Add(s.PurchasePrice.Mul(decimal.NewFromFloat(units)))
			totals.Eaches += units
			totals.Weight += units * s.UnitWeight
			totals.Volume += units * s.UnitVolume
		}

		var discount float64
		var bracketNo int
		if br, ok := ApplicableBracket(in.Brackets, totals); ok {
			discount = br.DiscountPct
			bracketNo = br.BracketNumber
		}

		ordersPerYear := 365 / cycle
		acquisition := (header + lineCost*float64(lines)) * ordersPerYear
		avgInventory := annualValue*cycle/365/2 + ssValue
		carrying := avgInventory * (1 - discount/100) * in.CarryingRate
		savings := annualValue * discount / 100

		eval := CycleEvaluation{
			CycleDays:       cycle,
			OrderAmount:     totals.Amount,
			Lines:           lines,
			BracketNumber:   bracketNo,
			DiscountPct:     discount,
			OrdersPerYear:   ordersPerYear,
			AcquisitionCost: acquisition,
			CarryingCost:    carrying,
			DiscountSavings: savings,
			ProfitImpact:    savings - acquisition - carrying,
		}
		res.Evaluations = append(res.Evaluations, eval)
		if len(res.Evaluations) == 1 || eval.ProfitImpact > res.Best.ProfitImpact {
			res.Best = eval
		}
	}
	return res, nil
}

// ApplicableBracket maps order totals to the highest bracket whose
// window contains them, each bracket measured in its own unit. A zero
// maximum is unbounded.
func ApplicableBracket(brackets []Bracket, totals OrderTotals) (Bracket, bool) {
	var best Bracket
	found := false
	for _, b := range brackets {
		v := totalInUnit(totals, b.Unit)
		if v.Cmp(b.Minimum) < 0 {
			continue
		}
		if b.Maximum.IsPositive() && v.Cmp(b.Maximum) > 0 {
			continue
		}
		if !found || b.Minimum.Cmp(best.Minimum) > 0 {
			best, found = b, true
		}
	}
	return best, found
}

// EOQ is the closed-form economic order quantity for one SKU, returned
// as units and days of supply. Days round to whole weeks and clamp to
// [7, 90].
func EOQ(sku *SKU, lineCost decimal.Decimal, carryingRate float64) (units, days float64) {
	if sku == nil {
		return 0, 0
	}
	demand := sku.YearlyForecast
	holding := carryingRate * priceFloat(sku.PurchasePrice)
	ordering := priceFloat(lineCost)
	if demand <= epsilon || holding <= epsilon || ordering <= 0 {
		return 0, 0
	}
	units = math.Sqrt(2 * demand * ordering / holding)
	days = math.Round(units*365/demand/7) * 7
	days = clampRange(days, 7, 90)
	return units, days
}

// BracketSimulation is a projected bracket-build outcome.
type BracketSimulation struct {
	Bracket         Bracket     `json:"bracket"`
	DaysAdded       float64     `json:"days_added"`
	Projected       OrderTotals `json:"projected"`
	MinimumMet      bool        `json:"minimum_met"`
	MaximumExceeded bool        `json:"maximum_exceeded"`
}

// SimulateBracketBuild projects order totals after padding add_days of
// supply, without touching the order.
func SimulateBracketBuild(order *Order, skus []*SKU, bracket Bracket, addDays float64) (BracketSimulation, error) {
	if order == nil {
		return BracketSimulation{}, fmt.Errorf("%w: simulation needs an order", ErrValidation)
	}
	scratch := &Order{VendorID: order.VendorID, Lines: append([]OrderLine(nil), order.Lines...)}
	padLines(scratch, skus, addDays)
	projected := TotalsOf(scratch.Lines)
	v := totalInUnit(projected, bracket.Unit)
	return BracketSimulation{
		Bracket:         bracket,
		DaysAdded:       addDays,
		Projected:       projected,
		MinimumMet:      v.Cmp(bracket.Minimum) >= 0,
		MaximumExceeded: bracket.Maximum.IsPositive() && v.Cmp(bracket.Maximum) > 0,
	}, nil
}

// OptimizeToBracket grows the order just enough to enter the target
// bracket and refreshes the final-adjust totals. Orders already past
// the bracket maximum, or that cannot fit inside it, fail with a
// policy error.
func OptimizeToBracket(order *Order, skus []*SKU, bracket Bracket) (BracketSimulation, error) {
	if order == nil {
		return BracketSimulation{}, fmt.Errorf("%w: optimization needs an order", ErrValidation)
	}
	current := TotalsOf(order.Lines)
	v := totalInUnit(current, bracket.Unit)
	if bracket.Maximum.IsPositive() && v.Cmp(bracket.Maximum) > 0 {
		return BracketSimulation{}, fmt.Errorf("%w: order %d already beyond bracket %d maximum", ErrPolicy, order.ID, bracket.BracketNumber)
	}
	if v.Cmp(bracket.Minimum) >= 0 {
		return BracketSimulation{Bracket: bracket, Projected: current, MinimumMet: true}, nil
	}

	deficit := bracket.Minimum.Sub(v).InexactFloat64()
	days, err := padDays(order, skus, bracket.Unit, deficit)
	if err != nil {
		return BracketSimulation{}, err
	}
	sim, err := SimulateBracketBuild(order, skus, bracket, days)
	if err != nil {
		return BracketSimulation{}, err
	}
	if sim.MaximumExceeded {
		return BracketSimulation{}, fmt.Errorf("%w: bracket %d window too narrow for vendor %s", ErrPolicy, bracket.BracketNumber, order.VendorID)
	}

	padLines(order, skus, days)
	order.ExtraDays += days
	order.FinalAdjust = TotalsOf(order.Lines)
	return sim, nil
}

// ForwardBuyInput sizes a buy ahead of an announced price increase.
type ForwardBuyInput struct {
	Order        *Order
	SKUs         []*SKU
	IncreasePct  float64
	CarryingRate float64 // fraction per year
	CycleDays    float64
	MaxDays      float64 // cap on days bought ahead, default 90
}

// ForwardBuyResult reports what the forward buy added and whether it
// pays for itself.
type ForwardBuyResult struct {
	Days         float64         `json:"days"`
	AddedAmount  decimal.Decimal `json:"added_amount"`
	Savings      float64         `json:"savings"`
	CarryingCost float64         `json:"carrying_cost"`
}

// ForwardBuy pads the order with the days of supply worth owning before
// a price increase lands: the break-even horizon of increase against
// carrying cost, less the half cycle already covered. Zero days means
// the increase is too small to beat the carrying cost.
func ForwardBuy(in ForwardBuyInput) (ForwardBuyResult, error) {
	if in.Order == nil {
		return ForwardBuyResult{}, fmt.Errorf("%w: forward buy needs an order", ErrValidation)
	}
	if in.IncreasePct <= 0 {
		return ForwardBuyResult{}, fmt.Errorf("%w: price increase must be positive, got %v", ErrValidation, in.IncreasePct)
	}
	carryPct := in.CarryingRate * 100
	if carryPct <= epsilon {
		return ForwardBuyResult{}, fmt.Errorf("%w: carrying rate must be positive", ErrValidation)
	}
	maxDays := in.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}

	days := math.Floor(365*(in.IncreasePct/carryPct) - in.CycleDays/2 + epsilon)
	days = clampRange(days, 0, maxDays)
	res := ForwardBuyResult{Days: days, AddedAmount: decimal.Zero}
	if days == 0 {
		return res, nil
	}

	before := TotalsOf(in.Order.Lines)
	padLines(in.Order, in.SKUs, days)
	in.Order.FinalAdjust = TotalsOf(in.Order.Lines)

	res.AddedAmount = in.Order.FinalAdjust.Amount.Sub(before.Amount)
	added := res.AddedAmount.InexactFloat64()
	res.Savings = added * in.IncreasePct / 100
	res.CarryingCost = added * in.CarryingRate * (days / 2) / 365
	return res, nil
}

// AdjustPct scales every non-frozen, non-manual line by pct percent,
// re-rounds to buying multiples and refreshes the final totals.
func AdjustPct(order *Order, skus []*SKU, pct float64) error {
	if order == nil {
		return fmt.Errorf("%w: percentage adjust needs an order", ErrValidation)
	}
	if pct <= -100 {
		return fmt.Errorf("%w: adjust of %v%% would wipe the order", ErrValidation, pct)
	}
	byID := make(map[string]*SKU, len(skus))
	for _, s := range skus {
		byID[s.SkuID] = s
	}

	factor := 1 + pct/100
	for i := range order.Lines {
		ln := &order.Lines[i]
		if ln.IsFrozen || ln.IsManual {
			continue
		}
		sku := byID[ln.SkuID]
		raw := roundForSKU(ln.SOQUnits*factor, sku)
		ln.SOQUnits = raw
		ln.ExtendedAmount = ln.PurchasePrice.Mul(decimal.NewFromFloat(raw))
		if sku != nil {
			if dd := sku.DailyDemand(); dd > epsilon {
				ln.SOQDays = raw / dd
			}
		}
	}
	order.FinalAdjust = TotalsOf(order.Lines)
	return nil
}
