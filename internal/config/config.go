package config

// Settings holds the company-level replenishment parameters. Values are
// persisted as key/value pairs in the store and cached at the start of a
// pipeline run; components read them, never mutate them.
type Settings struct {
	// Defaults applied when a vendor or SKU leaves the field unset.
	DefaultServiceLevel     float64 `json:"default_service_level"`      // percent, clamped to [50, 99.99] on use
	DefaultLeadTime         float64 `json:"default_lead_time"`          // days
	DefaultLeadTimeVariance float64 `json:"default_lead_time_variance"` // percent of lead time

	// Forecasting.
	PeriodicityDefault           int     `json:"forecasting_periodicity_default"` // 12, 13 or 52
	BasicAlphaFactor             float64 `json:"basic_alpha_factor"`              // smoothing scale, alpha = min(|track|,0.5)*(factor/10)
	ForecastDemandLimit          float64 `json:"forecast_demand_limit"`           // units; at or below is "insignificant" demand
	UpdateFrequencyImpact        float64 `json:"update_frequency_impact"`         // multiplicative damping in (0,1]
	UpdateFrequencyImpactControl float64 `json:"update_frequency_impact_control"` // scales the forced-decrease trigger
	TrackingSignalLimit          float64 `json:"tracking_signal_limit"`           // |track| above this raises an exception
	DemandFilterHigh             float64 `json:"demand_filter_high"`              // sigma multiplier
	DemandFilterLow              float64 `json:"demand_filter_low"`               // sigma multiplier
	MADPHighThreshold            float64 `json:"madp_high_threshold"`             // percent; at or above classifies Lumpy
	SlowMoverLimit               float64 `json:"slow_mover_limit"`                // yearly units below which a SKU is Slow

	// Ordering.
	OpPrimeLimit         float64 `json:"op_prime_limit"`          // service level at or above which OP-A is flagged
	CarryingCostRate     float64 `json:"carrying_cost_rate"`      // annual fraction of inventory value
	OrderAtRiskThreshold float64 `json:"order_at_risk_threshold"` // fraction of SKUs at/below VOP that forces Due
	ForwardBuyMaxDays    int     `json:"forward_buy_max_days"`
	OrderPurgeDays       int     `json:"order_purge_days"`

	// Safety stock.
	ServiceLevelMaxAdjust float64 `json:"service_level_max_adjust"` // percent cap on the empirical adjustment

	// Seasonality.
	SeasonalitySmoothing float64 `json:"seasonality_smoothing"` // 3-point circular smoothing factor
	RecentYearWeight     float64 `json:"recent_year_weight"`    // composite-line weight of the newest year

	// Lead time.
	TrendApplication      bool `json:"trend_application"`       // apply half the detected trend to the forecast
	LeadTimeUpdateWeekday int  `json:"leadtime_update_weekday"` // time.Weekday; lead-time refresh runs on this day

	// Retention.
	KeepArchivedExceptionsDays int `json:"keep_archived_exceptions_days"`
	HistoryPeriodsToKeep       int `json:"history_periods_to_keep"`

	// Run control.
	MaxWorkers        int `json:"max_workers"`
	RunTimeoutMinutes int `json:"run_timeout_minutes"`
}

// Default returns the factory settings.
func Default() *Settings {
	return &Settings{
		DefaultServiceLevel:          95,
		DefaultLeadTime:              14,
		DefaultLeadTimeVariance:      25,
		PeriodicityDefault:           13,
		BasicAlphaFactor:             10,
		ForecastDemandLimit:          1,
		UpdateFrequencyImpact:        0.95,
		UpdateFrequencyImpactControl: 4.0,
		TrackingSignalLimit:          0.55,
		DemandFilterHigh:             2.5,
		DemandFilterLow:              2.5,
		MADPHighThreshold:            60,
		SlowMoverLimit:               26,
		OpPrimeLimit:                 97,
		CarryingCostRate:             0.28,
		OrderAtRiskThreshold:         0.20,
		ForwardBuyMaxDays:            90,
		OrderPurgeDays:               365,
		ServiceLevelMaxAdjust:        10,
		SeasonalitySmoothing:         0.3,
		RecentYearWeight:             0.5,
		TrendApplication:             true,
		LeadTimeUpdateWeekday:        1,
		KeepArchivedExceptionsDays:   365,
		HistoryPeriodsToKeep:         39,
		MaxWorkers:                   4,
		RunTimeoutMinutes:            60,
	}
}
