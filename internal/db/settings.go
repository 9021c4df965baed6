package db

import (
	"context"
	"fmt"
	"strconv"

	"stockcast/internal/config"
)

// Settings loads engine settings, overlaying stored values on top of
// defaults so new keys pick up their default until someone sets them.
func (d *DB) Settings(ctx context.Context) (*config.Settings, error) {
	cfg := config.Default()

	rows, err := d.sql.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		stored[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if v, ok := stored["default_service_level"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DefaultServiceLevel = f
		}
	}
	if v, ok := stored["default_lead_time"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DefaultLeadTime = f
		}
	}
	if v, ok := stored["default_lead_time_variance"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DefaultLeadTimeVariance = f
		}
	}
	if v, ok := stored["forecasting_periodicity_default"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PeriodicityDefault = n
		}
	}
	if v, ok := stored["basic_alpha_factor"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BasicAlphaFactor = f
		}
	}
	if v, ok := stored["forecast_demand_limit"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ForecastDemandLimit = f
		}
	}
	if v, ok := stored["update_frequency_impact"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.UpdateFrequencyImpact = f
		}
	}
	if v, ok := stored["update_frequency_impact_control"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.UpdateFrequencyImpactControl = f
		}
	}
	if v, ok := stored["tracking_signal_limit"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TrackingSignalLimit = f
		}
	}
	if v, ok := stored["demand_filter_high"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DemandFilterHigh = f
		}
	}
	if v, ok := stored["demand_filter_low"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DemandFilterLow = f
		}
	}
	if v, ok := stored["madp_high_threshold"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MADPHighThreshold = f
		}
	}
	if v, ok := stored["slow_mover_limit"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SlowMoverLimit = f
		}
	}
	if v, ok := stored["op_prime_limit"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OpPrimeLimit = f
		}
	}
	if v, ok := stored["carrying_cost_rate"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CarryingCostRate = f
		}
	}
	if v, ok := stored["order_at_risk_threshold"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OrderAtRiskThreshold = f
		}
	}
	if v, ok := stored["forward_buy_max_days"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ForwardBuyMaxDays = n
		}
	}
	if v, ok := stored["order_purge_days"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OrderPurgeDays = n
		}
	}
	if v, ok := stored["service_level_max_adjust"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ServiceLevelMaxAdjust = f
		}
	}
	if v, ok := stored["seasonality_smoothing"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SeasonalitySmoothing = f
		}
	}
	if v, ok := stored["recent_year_weight"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RecentYearWeight = f
		}
	}
	if v, ok := stored["trend_application"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TrendApplication = b
		}
	}
	if v, ok := stored["leadtime_update_weekday"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LeadTimeUpdateWeekday = n
		}
	}
	if v, ok := stored["keep_archived_exceptions_days"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KeepArchivedExceptionsDays = n
		}
	}
	if v, ok := stored["history_periods_to_keep"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistoryPeriodsToKeep = n
		}
	}
	if v, ok := stored["max_workers"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxWorkers = n
		}
	}
	if v, ok := stored["run_timeout_minutes"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RunTimeoutMinutes = n
		}
	}

	return cfg, nil
}

// SaveSettings persists every setting as a key/value pair.
func (d *DB) SaveSettings(ctx context.Context, cfg *config.Settings) error {
	pairs := map[string]string{
		"default_service_level":           strconv.FormatFloat(cfg.DefaultServiceLevel, 'f', -1, 64),
		"default_lead_time":               strconv.FormatFloat(cfg.DefaultLeadTime, 'f', -1, 64),
		"default_lead_time_variance":      strconv.FormatFloat(cfg.DefaultLeadTimeVariance, 'f', -1, 64),
		"forecasting_periodicity_default": strconv.Itoa(cfg.PeriodicityDefault),
		"basic_alpha_factor":              strconv.FormatFloat(cfg.BasicAlphaFactor, 'f', -1, 64),
		"forecast_demand_limit":           strconv.FormatFloat(cfg.ForecastDemandLimit, 'f', -1, 64),
		"update_frequency_impact":         strconv.FormatFloat(cfg.UpdateFrequencyImpact, 'f', -1, 64),
		"update_frequency_impact_control": strconv.FormatFloat(cfg.UpdateFrequencyImpactControl, 'f', -1, 64),
		"tracking_signal_limit":           strconv.FormatFloat(cfg.TrackingSignalLimit, 'f', -1, 64),
		"demand_filter_high":              strconv.FormatFloat(cfg.DemandFilterHigh, 'f', -1, 64),
		"demand_filter_low":               strconv.FormatFloat(cfg.DemandFilterLow, 'f', -1, 64),
		"madp_high_threshold":             strconv.FormatFloat(cfg.MADPHighThreshold, 'f', -1, 64),
		"slow_mover_limit":                strconv.FormatFloat(cfg.SlowMoverLimit, 'f', -1, 64),
		"op_prime_limit":                  strconv.FormatFloat(cfg.OpPrimeLimit, 'f', -1, 64),
		"carrying_cost_rate":              strconv.FormatFloat(cfg.CarryingCostRate, 'f', -1, 64),
		"order_at_risk_threshold":         strconv.FormatFloat(cfg.OrderAtRiskThreshold, 'f', -1, 64),
		"forward_buy_max_days":            strconv.Itoa(cfg.ForwardBuyMaxDays),
		"order_purge_days":                strconv.Itoa(cfg.OrderPurgeDays),
		"service_level_max_adjust":        strconv.FormatFloat(cfg.ServiceLevelMaxAdjust, 'f', -1, 64),
		"seasonality_smoothing":           strconv.FormatFloat(cfg.SeasonalitySmoothing, 'f', -1, 64),
		"recent_year_weight":              strconv.FormatFloat(cfg.RecentYearWeight, 'f', -1, 64),
		"trend_application":               strconv.FormatBool(cfg.TrendApplication),
		"leadtime_update_weekday":         strconv.Itoa(cfg.LeadTimeUpdateWeekday),
		"keep_archived_exceptions_days":   strconv.Itoa(cfg.KeepArchivedExceptionsDays),
		"history_periods_to_keep":         strconv.Itoa(cfg.HistoryPeriodsToKeep),
		"max_workers":                     strconv.Itoa(cfg.MaxWorkers),
		"run_timeout_minutes":             strconv.Itoa(cfg.RunTimeoutMinutes),
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare settings upsert: %w", err)
	}
	defer stmt.Close()

	for k, v := range pairs {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("save setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}
