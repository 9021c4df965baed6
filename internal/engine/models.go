package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// BuyerClass is the buyer-facing classification of a SKU.
type BuyerClass int

const (
	BuyerUninitialized BuyerClass = iota
	BuyerRegular
	BuyerWatch
	BuyerManual
	BuyerDiscontinued
)

func (b BuyerClass) String() string {
	switch b {
	case BuyerRegular:
		return "regular"
	case BuyerWatch:
		return "watch"
	case BuyerManual:
		return "manual"
	case BuyerDiscontinued:
		return "discontinued"
	default:
		return "uninitialized"
	}
}

// SystemClass is the classification the forecaster maintains.
type SystemClass int

const (
	SystemUninitialized SystemClass = iota
	SystemRegular
	SystemSlow
	SystemLumpy
	SystemNew
	SystemAlternate
)

func (s SystemClass) String() string {
	switch s {
	case SystemRegular:
		return "regular"
	case SystemSlow:
		return "slow"
	case SystemLumpy:
		return "lumpy"
	case SystemNew:
		return "new"
	case SystemAlternate:
		return "alternate"
	default:
		return "uninitialized"
	}
}

// ForecastMethod selects the reforecast algorithm for a SKU.
type ForecastMethod int

const (
	MethodRegularAVS ForecastMethod = iota
	MethodEnhancedAVS
	MethodDemandImport
	MethodAlternate
)

func (m ForecastMethod) String() string {
	switch m {
	case MethodEnhancedAVS:
		return "enhanced_avs"
	case MethodDemandImport:
		return "demand_import"
	case MethodAlternate:
		return "alternate"
	default:
		return "regular_avs"
	}
}

// SafetyStockType says how a manual safety stock interacts with the
// computed one.
type SafetyStockType int

const (
	SSNever    SafetyStockType = iota // ignore the manual value
	SSLesserOf                        // min(computed, manual)
	SSAlways                          // manual wins
)

func (s SafetyStockType) String() string {
	switch s {
	case SSLesserOf:
		return "lesser_of"
	case SSAlways:
		return "always"
	default:
		return "never"
	}
}

// OrderStatus is the lifecycle state of a purchase order.
type OrderStatus int

const (
	OrderPlanned OrderStatus = iota
	OrderDue
	OrderAccepted
	OrderReceived
	OrderPurged
	OrderDeactivated
)

func (s OrderStatus) String() string {
	switch s {
	case OrderDue:
		return "due"
	case OrderAccepted:
		return "accepted"
	case OrderReceived:
		return "received"
	case OrderPurged:
		return "purged"
	case OrderDeactivated:
		return "deactivated"
	default:
		return "planned"
	}
}

// BracketUnit is the dimension a vendor bracket measures.
type BracketUnit int

const (
	UnitAmount BracketUnit = iota
	UnitEaches
	UnitWeight
	UnitVolume
)

func (u BracketUnit) String() string {
	switch u {
	case UnitEaches:
		return "eaches"
	case UnitWeight:
		return "weight"
	case UnitVolume:
		return "volume"
	default:
		return "amount"
	}
}

// ExceptionType is the taxonomy of review exceptions.
type ExceptionType int

const (
	ExcDemandFilterHigh ExceptionType = iota
	ExcDemandFilterLow
	ExcTrackingSignalHigh
	ExcTrackingSignalLow
	ExcServiceLevelCheck
	ExcInfinityCheck
	ExcWatchSku
	ExcSeasonalSku
	ExcNewSku
	ExcManualSku
	ExcDiscontinuedSku
)

func (e ExceptionType) String() string {
	switch e {
	case ExcDemandFilterHigh:
		return "demand_filter_high"
	case ExcDemandFilterLow:
		return "demand_filter_low"
	case ExcTrackingSignalHigh:
		return "tracking_signal_high"
	case ExcTrackingSignalLow:
		return "tracking_signal_low"
	case ExcServiceLevelCheck:
		return "service_level_check"
	case ExcInfinityCheck:
		return "infinity_check"
	case ExcWatchSku:
		return "watch_sku"
	case ExcSeasonalSku:
		return "seasonal_sku"
	case ExcNewSku:
		return "new_sku"
	case ExcManualSku:
		return "manual_sku"
	case ExcDiscontinuedSku:
		return "discontinued_sku"
	default:
		return "unknown"
	}
}

// SKU is one stocked item at one warehouse, assigned to one vendor.
// Vendor and seasonal profile are identifier references resolved through
// the store, never embedded pointers.
type SKU struct {
	SkuID       string `json:"sku_id"`
	WarehouseID string `json:"warehouse_id"`
	VendorID    string `json:"vendor_id"`
	Description string `json:"description"`

	BuyerClass     BuyerClass     `json:"buyer_class"`
	SystemClass    SystemClass    `json:"system_class"`
	ForecastMethod ForecastMethod `json:"forecast_method"`
	Periodicity    int            `json:"periodicity"` // 12, 13 or 52
	ProfileID      string         `json:"profile_id"`  // empty = not seasonal

	PurchasePrice   decimal.Decimal `json:"purchase_price"`
	SalesPrice      decimal.Decimal `json:"sales_price"`
	BuyingMultiple  float64         `json:"buying_multiple"` // >= 1
	IgnoreMultiple  bool            `json:"ignore_multiple"`
	MinimumQuantity float64         `json:"minimum_quantity"`
	ShelfLifeDays   float64         `json:"shelf_life_days"` // 0 = no limit
	UnitWeight      float64         `json:"unit_weight"`
	UnitVolume      float64         `json:"unit_volume"`

	OnHand            float64 `json:"on_hand"`
	OnOrder           float64 `json:"on_order"`
	CustomerBackOrder float64 `json:"customer_back_order"`
	Reserved          float64 `json:"reserved"`
	QuantityHeld      float64 `json:"quantity_held"`
	OutOfStockDays    int     `json:"out_of_stock_days"` // current period, so far

	WeeklyForecast        float64   `json:"weekly_forecast"`
	PeriodForecast        float64   `json:"period_forecast"` // base (deseasonalized) units
	QuarterlyForecast     float64   `json:"quarterly_forecast"`
	YearlyForecast        float64   `json:"yearly_forecast"`
	MADP                  float64   `json:"madp"`  // percent
	Track                 float64   `json:"track"` // bounded [-1, 1]
	LastForecastDate      time.Time `json:"last_forecast_date"`
	FreezeUntilDate       time.Time `json:"freeze_until_date"`
	PeriodsWithZeroDemand int       `json:"periods_with_zero_demand"`
	DateCreated           time.Time `json:"date_created"`

	ServiceLevelGoal     float64         `json:"service_level_goal"`     // percent
	ServiceLevelAttained float64         `json:"service_level_attained"` // percent
	LeadTimeForecastDays float64         `json:"lead_time_forecast_days"`
	LeadTimeVariancePct  float64         `json:"lead_time_variance_pct"`
	OwnLeadTimeCount     int             `json:"own_lead_time_count"` // observations behind an own forecast
	ItemOrderCycleDays   float64         `json:"item_order_cycle_days"`
	SafetyStockDays      float64         `json:"safety_stock_days"`
	ItemOrderPointDays   float64         `json:"item_order_point_days"`
	ItemOrderPointUnits  float64         `json:"item_order_point_units"`
	VendorOrderPointDays float64         `json:"vendor_order_point_days"`
	OrderUpToLevelDays   float64         `json:"order_up_to_level_days"`
	OrderUpToLevelUnits  float64         `json:"order_up_to_level_units"`
	ManualSafetyStock    float64         `json:"manual_safety_stock"` // units
	SSType               SafetyStockType `json:"ss_type"`
	MinPresentationStock float64         `json:"min_presentation_stock"`
	OUTLHardMax          float64         `json:"outl_hard_max"` // units, 0 = uncapped
}

// AvailableBalance is the stock position the order builder nets against.
func (s *SKU) AvailableBalance() float64 {
	return s.OnHand + s.OnOrder - s.CustomerBackOrder - s.Reserved - s.QuantityHeld
}

// DailyDemand converts the weekly forecast into units per day.
func (s *SKU) DailyDemand() float64 {
	return s.WeeklyForecast / 7
}

// AgeDays is the SKU's age at now, used to gate class transitions.
func (s *SKU) AgeDays(now time.Time) float64 {
	if s.DateCreated.IsZero() {
		return 0
	}
	return now.Sub(s.DateCreated).Hours() / 24
}

// Frozen reports whether reforecasting is suppressed at now.
func (s *SKU) Frozen(now time.Time) bool {
	return !s.FreezeUntilDate.IsZero() && s.FreezeUntilDate.After(now)
}

// Vendor is one supplier serving one warehouse.
type Vendor struct {
	VendorID    string `json:"vendor_id"`
	WarehouseID string `json:"warehouse_id"`
	Name        string `json:"name"`

	OrderCycleDays          float64         `json:"order_cycle_days"`
	HeaderCost              decimal.Decimal `json:"header_cost"`
	LineCost                decimal.Decimal `json:"line_cost"`
	ServiceLevelGoalDefault float64         `json:"service_level_goal_default"`
	LeadTimeQuotedDays      float64         `json:"lead_time_quoted_days"`
	LeadTimeForecastDays    float64         `json:"lead_time_forecast_days"`
	LeadTimeVariancePct     float64         `json:"lead_time_variance_pct"`
	LeadTimeIsSeasonal      bool            `json:"lead_time_is_seasonal"`

	OrderDaysInWeek     int       `json:"order_days_in_week"` // bitmap, Mon=bit0 .. Sun=bit6
	OrderWeekParity     int       `json:"order_week_parity"`  // 0 any, 1 odd ISO weeks, 2 even
	OrderDayInMonth     int       `json:"order_day_in_month"` // 0 = unused
	NextOrderDate       time.Time `json:"next_order_date"`
	LastOrderDate       time.Time `json:"last_order_date"`
	OrderWhenMinimumMet bool      `json:"order_when_minimum_met"`
	AutomaticRebuild    int       `json:"automatic_rebuild"` // policies 4 and 5 build to bracket
	CurrentBracket      int       `json:"current_bracket"`   // 0 = none
	ActiveItemsCount    int       `json:"active_items_count"`
}

// OrdersToday reports whether the vendor's schedule matches the date.
func (v *Vendor) OrdersToday(now time.Time) bool {
	if v.OrderDayInMonth > 0 {
		return now.Day() == v.OrderDayInMonth
	}
	if v.OrderDaysInWeek == 0 {
		return false
	}
	bit := (int(now.Weekday()) + 6) % 7 // Monday is bit 0
	if v.OrderDaysInWeek&(1<<bit) == 0 {
		return false
	}
	if v.OrderWeekParity != 0 {
		_, week := now.ISOWeek()
		odd := week%2 == 1
		if v.OrderWeekParity == 1 && !odd {
			return false
		}
		if v.OrderWeekParity == 2 && odd {
			return false
		}
	}
	return true
}

// Bracket is one discount tier on a vendor. Maximum zero means unbounded.
type Bracket struct {
	VendorID      string          `json:"vendor_id"`
	BracketNumber int             `json:"bracket_number"`
	Unit          BracketUnit     `json:"unit"`
	Minimum       decimal.Decimal `json:"minimum"`
	Maximum       decimal.Decimal `json:"maximum"`
	DiscountPct   float64         `json:"discount_pct"`
}

// HistoryRecord is one period of demand for one SKU.
type HistoryRecord struct {
	SkuID             string  `json:"sku_id"`
	PeriodYear        int     `json:"period_year"`
	PeriodNumber      int     `json:"period_number"`
	Shipped           float64 `json:"shipped"`
	LostSales         float64 `json:"lost_sales"`
	PromotionalDemand float64 `json:"promotional_demand"`
	TotalDemand       float64 `json:"total_demand"`
	OutOfStockDays    int     `json:"out_of_stock_days"`
	IsIgnored         bool    `json:"is_ignored"`
	IsAdjusted        bool    `json:"is_adjusted"`
}

// Recompute restores the total-demand identity after a component change.
func (h *HistoryRecord) Recompute() {
	h.TotalDemand = h.Shipped + h.LostSales - h.PromotionalDemand
}

// Profile is a shared seasonal profile. Indices[0] is period 1.
type Profile struct {
	ProfileID   string    `json:"profile_id"`
	Periodicity int       `json:"periodicity"`
	Indices     []float64 `json:"indices"`
}

// Index returns the multiplicative index for a 1-based period, 1.0 when
// the profile is missing or the period is out of range.
func (p *Profile) Index(period int) float64 {
	if p == nil || period < 1 || period > len(p.Indices) {
		return 1
	}
	return p.Indices[period-1]
}

// OrderTotals is one totals row across the four bracket dimensions.
type OrderTotals struct {
	Amount decimal.Decimal `json:"amount"`
	Eaches float64         `json:"eaches"`
	Weight float64         `json:"weight"`
	Volume float64         `json:"volume"`
}

// CheckCounts tallies per-order review flags.
type CheckCounts struct {
	OrderPointA   int `json:"order_point_a"`
	OrderPoint    int `json:"order_point"`
	Watch         int `json:"watch"`
	Manual        int `json:"manual"`
	New           int `json:"new"`
	Uninitialized int `json:"uninitialized"`
	Quantity      int `json:"quantity"`
	ShelfLife     int `json:"shelf_life"`
}

// Order is one vendor purchase order with its lines.
type Order struct {
	ID                   int64       `json:"id"`
	VendorID             string      `json:"vendor_id"`
	WarehouseID          string      `json:"warehouse_id"`
	Status               OrderStatus `json:"status"`
	Category             string      `json:"category"`
	OrderDate            time.Time   `json:"order_date"`
	ApprovalDate         time.Time   `json:"approval_date"`
	ExpectedDeliveryDate time.Time   `json:"expected_delivery_date"`
	ReceiptDate          time.Time   `json:"receipt_date"`
	CurrentBracket       int         `json:"current_bracket"`
	ExtraDays            float64     `json:"extra_days"` // days of supply added by rebuild
	OrderDelay           float64     `json:"order_delay"`
	IsExpedited          bool        `json:"is_expedited"`
	IsDelayed            bool        `json:"is_delayed"`

	Independent OrderTotals `json:"independent"`
	AutoAdjust  OrderTotals `json:"auto_adjust"`
	FinalAdjust OrderTotals `json:"final_adjust"`
	Checks      CheckCounts `json:"checks"`

	Lines []OrderLine `json:"lines"`
}

// OrderLine is one SKU's suggested quantity on an order. Price, weight
// and volume are denormalized at build time so totals survive later
// SKU edits.
type OrderLine struct {
	OrderID            int64           `json:"order_id"`
	SkuID              string          `json:"sku_id"`
	SOQUnits           float64         `json:"soq_units"`
	SOQDays            float64         `json:"soq_days"`
	PurchasePrice      decimal.Decimal `json:"purchase_price"`
	ExtendedAmount     decimal.Decimal `json:"extended_amount"`
	UnitWeight         float64         `json:"unit_weight"`
	UnitVolume         float64         `json:"unit_volume"`
	ItemDelay          float64         `json:"item_delay"` // days of headroom above item OP
	IsFrozen           bool            `json:"is_frozen"`  // manual edit, rebuild keeps hands off
	IsManual           bool            `json:"is_manual"`
	IsOrderPointDriven bool            `json:"is_order_point_driven"`
}

// Exception is one raised review exception with before/after snapshots.
type Exception struct {
	ID             int64         `json:"id"`
	SkuID          string        `json:"sku_id"`
	PeriodYear     int           `json:"period_year"`
	PeriodNumber   int           `json:"period_number"`
	Type           ExceptionType `json:"type"`
	ForecastBefore float64       `json:"forecast_before"`
	ForecastAfter  float64       `json:"forecast_after"`
	MADPBefore     float64       `json:"madp_before"`
	MADPAfter      float64       `json:"madp_after"`
	TrackBefore    float64       `json:"track_before"`
	TrackAfter     float64       `json:"track_after"`
	ActualDemand   float64       `json:"actual_demand"`
	IsResolved     bool          `json:"is_resolved"`
	ResolvedAt     time.Time     `json:"resolved_at"`
	Resolution     string        `json:"resolution"`
	CreatedAt      time.Time     `json:"created_at"`
}

// StageStats counts one pipeline stage's outcomes.
type StageStats struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Errors     int `json:"errors"`
	NotFound   int `json:"not_found,omitempty"`
	Validation int `json:"validation,omitempty"`
	Storage    int `json:"storage,omitempty"`
	Policy     int `json:"policy,omitempty"`
}

// Record tallies one unit of work's outcome into the stage stats.
func (s *StageStats) Record(err error) {
	s.Total++
	if err == nil {
		s.Processed++
		return
	}
	s.Errors++
	switch Classify(err) {
	case "not_found":
		s.NotFound++
	case "validation":
		s.Validation++
	case "policy":
		s.Policy++
	default:
		s.Storage++
	}
}

// Run is one orchestrator execution, persisted to the runs table.
type Run struct {
	RunID       string                `json:"run_id"`
	Kind        string                `json:"kind"` // nightly | period_end
	WarehouseID string                `json:"warehouse_id"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	OK          bool                  `json:"ok"`
	Stages      map[string]StageStats `json:"stages"`
}
