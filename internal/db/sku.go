package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stockcast/internal/engine"
)

const skuColumns = `sku_id, warehouse_id, vendor_id, description,
	buyer_class, system_class, forecast_method, periodicity, profile_id,
	purchase_price, sales_price, buying_multiple, ignore_multiple,
	minimum_quantity, shelf_life_days, unit_weight, unit_volume,
	on_hand, on_order, customer_back_order, reserved, quantity_held, out_of_stock_days,
	weekly_forecast, period_forecast, quarterly_forecast, yearly_forecast,
	madp, track, last_forecast_date, freeze_until_date, periods_with_zero_demand, date_created,
	service_level_goal, service_level_attained,
	lead_time_forecast_days, lead_time_variance_pct, own_lead_time_count,
	item_order_cycle_days, safety_stock_days, item_order_point_days, item_order_point_units,
	vendor_order_point_days, order_up_to_level_days, order_up_to_level_units,
	manual_safety_stock, ss_type, min_presentation_stock, outl_hard_max`

type scanner interface {
	Scan(dest ...any) error
}

func scanSKU(row scanner) (*engine.SKU, error) {
	var (
		s                             engine.SKU
		price, sales                  string
		lastFC, freeze, created       string
		buyer, system, method, ssType int
		ignoreMultiple                int
	)
	err := row.Scan(
		&s.SkuID, &s.WarehouseID, &s.VendorID, &s.Description,
		&buyer, &system, &method, &s.Periodicity, &s.ProfileID,
		&price, &sales, &s.BuyingMultiple, &ignoreMultiple,
		&s.MinimumQuantity, &s.ShelfLifeDays, &s.UnitWeight, &s.UnitVolume,
		&s.OnHand, &s.OnOrder, &s.CustomerBackOrder, &s.Reserved, &s.QuantityHeld, &s.OutOfStockDays,
		&s.WeeklyForecast, &s.PeriodForecast, &s.QuarterlyForecast, &s.YearlyForecast,
		&s.MADP, &s.Track, &lastFC, &freeze, &s.PeriodsWithZeroDemand, &created,
		&s.ServiceLevelGoal, &s.ServiceLevelAttained,
		&s.LeadTimeForecastDays, &s.LeadTimeVariancePct, &s.OwnLeadTimeCount,
		&s.ItemOrderCycleDays, &s.SafetyStockDays, &s.ItemOrderPointDays, &s.ItemOrderPointUnits,
		&s.VendorOrderPointDays, &s.OrderUpToLevelDays, &s.OrderUpToLevelUnits,
		&s.ManualSafetyStock, &ssType, &s.MinPresentationStock, &s.OUTLHardMax,
	)
	if err != nil {
		return nil, err
	}
	s.BuyerClass = engine.BuyerClass(buyer)
	s.SystemClass = engine.SystemClass(system)
	s.ForecastMethod = engine.ForecastMethod(method)
	s.SSType = engine.SafetyStockType(ssType)
	s.IgnoreMultiple = ignoreMultiple != 0
	s.PurchasePrice = decFromDB(price)
	s.SalesPrice = decFromDB(sales)
	s.LastForecastDate = dateFromDB(lastFC)
	s.FreezeUntilDate = dateFromDB(freeze)
	s.DateCreated = dateFromDB(created)
	return &s, nil
}

// SKU loads a single SKU by id.
func (d *DB) SKU(ctx context.Context, skuID string) (*engine.SKU, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+skuColumns+" FROM skus WHERE sku_id = ?", skuID)
	s, err := scanSKU(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sku %s", engine.ErrNotFound, skuID)
	}
	if err != nil {
		return nil, fmt.Errorf("load sku %s: %w", skuID, err)
	}
	return s, nil
}

// SKUsForVendor loads every SKU sourced from a vendor in one query.
func (d *DB) SKUsForVendor(ctx context.Context, vendorID string) ([]*engine.SKU, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+skuColumns+" FROM skus WHERE vendor_id = ? ORDER BY sku_id", vendorID)
	if err != nil {
		return nil, fmt.Errorf("load skus for vendor %s: %w", vendorID, err)
	}
	defer rows.Close()

	var skus []*engine.SKU
	for rows.Next() {
		s, err := scanSKU(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sku: %w", err)
		}
		skus = append(skus, s)
	}
	return skus, rows.Err()
}

// SaveSKU inserts or updates a SKU.
func (d *DB) SaveSKU(ctx context.Context, s *engine.SKU) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO skus (`+skuColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku_id) DO UPDATE SET
			warehouse_id = excluded.warehouse_id,
			vendor_id = excluded.vendor_id,
			description = excluded.description,
			buyer_class = excluded.buyer_class,
			system_class = excluded.system_class,
			forecast_method = excluded.forecast_method,
			periodicity = excluded.periodicity,
			profile_id = excluded.profile_id,
			purchase_price = excluded.purchase_price,
			sales_price = excluded.sales_price,
			buying_multiple = excluded.buying_multiple,
			ignore_multiple = excluded.ignore_multiple,
			minimum_quantity = excluded.minimum_quantity,
			shelf_life_days = excluded.shelf_life_days,
			unit_weight = excluded.unit_weight,
			unit_volume = excluded.unit_volume,
			on_hand = excluded.on_hand,
			on_order = excluded.on_order,
			customer_back_order = excluded.customer_back_order,
			reserved = excluded.reserved,
			quantity_held = excluded.quantity_held,
			out_of_stock_days = excluded.out_of_stock_days,
			weekly_forecast = excluded.weekly_forecast,
			period_forecast = excluded.period_forecast,
			quarterly_forecast = excluded.quarterly_forecast,
			yearly_forecast = excluded.yearly_forecast,
			madp = excluded.madp,
			track = excluded.track,
			last_forecast_date = excluded.last_forecast_date,
			freeze_until_date = excluded.freeze_until_date,
			periods_with_zero_demand = excluded.periods_with_zero_demand,
			date_created = excluded.date_created,
			service_level_goal = excluded.service_level_goal,
			service_level_attained = excluded.service_level_attained,
			lead_time_forecast_days = excluded.lead_time_forecast_days,
			lead_time_variance_pct = excluded.lead_time_variance_pct,
			own_lead_time_count = excluded.own_lead_time_count,
			item_order_cycle_days = excluded.item_order_cycle_days,
			safety_stock_days = excluded.safety_stock_days,
			item_order_point_days = excluded.item_order_point_days,
			item_order_point_units = excluded.item_order_point_units,
			vendor_order_point_days = excluded.vendor_order_point_days,
			order_up_to_level_days = excluded.order_up_to_level_days,
			order_up_to_level_units = excluded.order_up_to_level_units,
			manual_safety_stock = excluded.manual_safety_stock,
			ss_type = excluded.ss_type,
			min_presentation_stock = excluded.min_presentation_stock,
			outl_hard_max = excluded.outl_hard_max
	`,
		s.SkuID, s.WarehouseID, s.VendorID, s.Description,
		int(s.BuyerClass), int(s.SystemClass), int(s.ForecastMethod), s.Periodicity, s.ProfileID,
		decToDB(s.PurchasePrice), decToDB(s.SalesPrice), s.BuyingMultiple, boolToDB(s.IgnoreMultiple),
		s.MinimumQuantity, s.ShelfLifeDays, s.UnitWeight, s.UnitVolume,
		s.OnHand, s.OnOrder, s.CustomerBackOrder, s.Reserved, s.QuantityHeld, s.OutOfStockDays,
		s.WeeklyForecast, s.PeriodForecast, s.QuarterlyForecast, s.YearlyForecast,
		s.MADP, s.Track, dateToDB(s.LastForecastDate), dateToDB(s.FreezeUntilDate),
		s.PeriodsWithZeroDemand, dateToDB(s.DateCreated),
		s.ServiceLevelGoal, s.ServiceLevelAttained,
		s.LeadTimeForecastDays, s.LeadTimeVariancePct, s.OwnLeadTimeCount,
		s.ItemOrderCycleDays, s.SafetyStockDays, s.ItemOrderPointDays, s.ItemOrderPointUnits,
		s.VendorOrderPointDays, s.OrderUpToLevelDays, s.OrderUpToLevelUnits,
		s.ManualSafetyStock, int(s.SSType), s.MinPresentationStock, s.OUTLHardMax,
	)
	if err != nil {
		return fmt.Errorf("%w: save sku %s: %v", engine.ErrStorage, s.SkuID, err)
	}
	return nil
}

func boolToDB(b bool) int {
	if b {
		return 1
	}
	return 0
}
