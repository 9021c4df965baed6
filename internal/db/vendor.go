package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stockcast/internal/engine"
)

const vendorColumns = `vendor_id, warehouse_id, name,
	order_cycle_days, header_cost, line_cost, service_level_goal_default,
	lead_time_quoted_days, lead_time_forecast_days, lead_time_variance_pct, lead_time_is_seasonal,
	order_days_in_week, order_week_parity, order_day_in_month,
	next_order_date, last_order_date, order_when_minimum_met,
	automatic_rebuild, current_bracket, active_items_count`

func scanVendor(row scanner) (*engine.Vendor, error) {
	var (
		v                     engine.Vendor
		header, line          string
		next, last            string
		seasonal, whenMinimum int
	)
	err := row.Scan(
		&v.VendorID, &v.WarehouseID, &v.Name,
		&v.OrderCycleDays, &header, &line, &v.ServiceLevelGoalDefault,
		&v.LeadTimeQuotedDays, &v.LeadTimeForecastDays, &v.LeadTimeVariancePct, &seasonal,
		&v.OrderDaysInWeek, &v.OrderWeekParity, &v.OrderDayInMonth,
		&next, &last, &whenMinimum,
		&v.AutomaticRebuild, &v.CurrentBracket, &v.ActiveItemsCount,
	)
	if err != nil {
		return nil, err
	}
	v.HeaderCost = decFromDB(header)
	v.LineCost = decFromDB(line)
	v.NextOrderDate = dateFromDB(next)
	v.LastOrderDate = dateFromDB(last)
	v.LeadTimeIsSeasonal = seasonal != 0
	v.OrderWhenMinimumMet = whenMinimum != 0
	return &v, nil
}

// Vendor loads a single vendor by id.
func (d *DB) Vendor(ctx context.Context, vendorID string) (*engine.Vendor, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+vendorColumns+" FROM vendors WHERE vendor_id = ?", vendorID)
	v, err := scanVendor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vendor %s", engine.ErrNotFound, vendorID)
	}
	if err != nil {
		return nil, fmt.Errorf("load vendor %s: %w", vendorID, err)
	}
	return v, nil
}

// Vendors lists the vendors of a warehouse; an empty warehouse id lists
// every vendor.
func (d *DB) Vendors(ctx context.Context, warehouseID string) ([]*engine.Vendor, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+vendorColumns+" FROM vendors WHERE warehouse_id = ? OR ? = '' ORDER BY vendor_id",
		warehouseID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("load vendors: %w", err)
	}
	defer rows.Close()

	var vendors []*engine.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

// SaveVendor inserts or updates a vendor.
func (d *DB) SaveVendor(ctx context.Context, v *engine.Vendor) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO vendors (`+vendorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vendor_id) DO UPDATE SET
			warehouse_id = excluded.warehouse_id,
			name = excluded.name,
			order_cycle_days = excluded.order_cycle_days,
			header_cost = excluded.header_cost,
			line_cost = excluded.line_cost,
			service_level_goal_default = excluded.service_level_goal_default,
			lead_time_quoted_days = excluded.lead_time_quoted_days,
			lead_time_forecast_days = excluded.lead_time_forecast_days,
			lead_time_variance_pct = excluded.lead_time_variance_pct,
			lead_time_is_seasonal = excluded.lead_time_is_seasonal,
			order_days_in_week = excluded.order_days_in_week,
			order_week_parity = excluded.order_week_parity,
			order_day_in_month = excluded.order_day_in_month,
			next_order_date = excluded.next_order_date,
			last_order_date = excluded.last_order_date,
			order_when_minimum_met = excluded.order_when_minimum_met,
			automatic_rebuild = excluded.automatic_rebuild,
			current_bracket = excluded.current_bracket,
			active_items_count = excluded.active_items_count
	`,
		v.VendorID, v.WarehouseID, v.Name,
		v.OrderCycleDays, decToDB(v.HeaderCost), decToDB(v.LineCost), v.ServiceLevelGoalDefault,
		v.LeadTimeQuotedDays, v.LeadTimeForecastDays, v.LeadTimeVariancePct, boolToDB(v.LeadTimeIsSeasonal),
		v.OrderDaysInWeek, v.OrderWeekParity, v.OrderDayInMonth,
		dateToDB(v.NextOrderDate), dateToDB(v.LastOrderDate), boolToDB(v.OrderWhenMinimumMet),
		v.AutomaticRebuild, v.CurrentBracket, v.ActiveItemsCount,
	)
	if err != nil {
		return fmt.Errorf("%w: save vendor %s: %v", engine.ErrStorage, v.VendorID, err)
	}
	return nil
}

// BracketsForVendor lists a vendor's order brackets, smallest minimum
// first.
func (d *DB) BracketsForVendor(ctx context.Context, vendorID string) ([]engine.Bracket, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT vendor_id, bracket_number, unit, minimum, maximum, discount_pct
		FROM vendor_brackets WHERE vendor_id = ? ORDER BY bracket_number`, vendorID)
	if err != nil {
		return nil, fmt.Errorf("load brackets for vendor %s: %w", vendorID, err)
	}
	defer rows.Close()

	var brackets []engine.Bracket
	for rows.Next() {
		var (
			b        engine.Bracket
			unit     int
			min, max string
		)
		if err := rows.Scan(&b.VendorID, &b.BracketNumber, &unit, &min, &max, &b.DiscountPct); err != nil {
			return nil, fmt.Errorf("scan bracket: %w", err)
		}
		b.Unit = engine.BracketUnit(unit)
		b.Minimum = decFromDB(min)
		b.Maximum = decFromDB(max)
		brackets = append(brackets, b)
	}
	return brackets, rows.Err()
}

// SaveBracket inserts or updates one bracket row.
func (d *DB) SaveBracket(ctx context.Context, b engine.Bracket) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO vendor_brackets (vendor_id, bracket_number, unit, minimum, maximum, discount_pct)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(vendor_id, bracket_number) DO UPDATE SET
			unit = excluded.unit,
			minimum = excluded.minimum,
			maximum = excluded.maximum,
			discount_pct = excluded.discount_pct
	`, b.VendorID, b.BracketNumber, int(b.Unit), decToDB(b.Minimum), decToDB(b.Maximum), b.DiscountPct)
	if err != nil {
		return fmt.Errorf("%w: save bracket %s/%d: %v", engine.ErrStorage, b.VendorID, b.BracketNumber, err)
	}
	return nil
}
