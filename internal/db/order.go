package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockcast/internal/engine"
)

const orderColumns = `id, vendor_id, warehouse_id, status, category,
	order_date, approval_date, expected_delivery_date, receipt_date,
	current_bracket, extra_days, order_delay, is_expedited, is_delayed,
	ind_amount, ind_eaches, ind_weight, ind_volume,
	auto_amount, auto_eaches, auto_weight, auto_volume,
	final_amount, final_eaches, final_weight, final_volume`

func scanOrder(row scanner) (*engine.Order, error) {
	var (
		o                         engine.Order
		status                    int
		ordered, approved         string
		expected, received        string
		expedited, delayed        int
		indAmt, autoAmt, finalAmt string
	)
	err := row.Scan(
		&o.ID, &o.VendorID, &o.WarehouseID, &status, &o.Category,
		&ordered, &approved, &expected, &received,
		&o.CurrentBracket, &o.ExtraDays, &o.OrderDelay, &expedited, &delayed,
		&indAmt, &o.Independent.Eaches, &o.Independent.Weight, &o.Independent.Volume,
		&autoAmt, &o.AutoAdjust.Eaches, &o.AutoAdjust.Weight, &o.AutoAdjust.Volume,
		&finalAmt, &o.FinalAdjust.Eaches, &o.FinalAdjust.Weight, &o.FinalAdjust.Volume,
	)
	if err != nil {
		return nil, err
	}
	o.Status = engine.OrderStatus(status)
	o.OrderDate = dateFromDB(ordered)
	o.ApprovalDate = dateFromDB(approved)
	o.ExpectedDeliveryDate = dateFromDB(expected)
	o.ReceiptDate = dateFromDB(received)
	o.IsExpedited = expedited != 0
	o.IsDelayed = delayed != 0
	o.Independent.Amount = decFromDB(indAmt)
	o.AutoAdjust.Amount = decFromDB(autoAmt)
	o.FinalAdjust.Amount = decFromDB(finalAmt)
	return &o, nil
}

// SaveOrder persists an order with its lines and check counts. A zero
// ID inserts and assigns the new ID; otherwise the order is rewritten
// in place.
func (d *DB) SaveOrder(ctx context.Context, o *engine.Order) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin order tx: %v", engine.ErrStorage, err)
	}
	defer tx.Rollback()

	if o.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (vendor_id, warehouse_id, status, category,
				order_date, approval_date, expected_delivery_date, receipt_date,
				current_bracket, extra_days, order_delay, is_expedited, is_delayed,
				ind_amount, ind_eaches, ind_weight, ind_volume,
				auto_amount, auto_eaches, auto_weight, auto_volume,
				final_amount, final_eaches, final_weight, final_volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, orderArgs(o)...)
		if err != nil {
			return fmt.Errorf("%w: insert order for vendor %s: %v", engine.ErrStorage, o.VendorID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("order id: %w", err)
		}
		o.ID = id
	} else {
		_, err := tx.ExecContext(ctx, `
			UPDATE orders SET vendor_id = ?, warehouse_id = ?, status = ?, category = ?,
				order_date = ?, approval_date = ?, expected_delivery_date = ?, receipt_date = ?,
				current_bracket = ?, extra_days = ?, order_delay = ?, is_expedited = ?, is_delayed = ?,
				ind_amount = ?, ind_eaches = ?, ind_weight = ?, ind_volume = ?,
				auto_amount = ?, auto_eaches = ?, auto_weight = ?, auto_volume = ?,
				final_amount = ?, final_eaches = ?, final_weight = ?, final_volume = ?
			WHERE id = ?
		`, append(orderArgs(o), o.ID)...)
		if err != nil {
			return fmt.Errorf("%w: update order %d: %v", engine.ErrStorage, o.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM order_lines WHERE order_id = ?", o.ID); err != nil {
			return fmt.Errorf("%w: clear order %d lines: %v", engine.ErrStorage, o.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM order_checks WHERE order_id = ?", o.ID); err != nil {
			return fmt.Errorf("%w: clear order %d checks: %v", engine.ErrStorage, o.ID, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO order_lines (order_id, sku_id, soq_units, soq_days,
			purchase_price, extended_amount, unit_weight, unit_volume,
			item_delay, is_frozen, is_manual, is_order_point_driven)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare order lines: %w", err)
	}
	defer stmt.Close()

	for i := range o.Lines {
		ln := &o.Lines[i]
		ln.OrderID = o.ID
		_, err := stmt.ExecContext(ctx,
			ln.OrderID, ln.SkuID, ln.SOQUnits, ln.SOQDays,
			decToDB(ln.PurchasePrice), decToDB(ln.ExtendedAmount), ln.UnitWeight, ln.UnitVolume,
			ln.ItemDelay, boolToDB(ln.IsFrozen), boolToDB(ln.IsManual), boolToDB(ln.IsOrderPointDriven),
		)
		if err != nil {
			return fmt.Errorf("%w: insert order %d line %s: %v", engine.ErrStorage, o.ID, ln.SkuID, err)
		}
	}

	checkStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO order_checks (order_id, check_name, count) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare order checks: %w", err)
	}
	defer checkStmt.Close()

	for name, count := range checkRows(o.Checks) {
		if count == 0 {
			continue
		}
		if _, err := checkStmt.ExecContext(ctx, o.ID, name, count); err != nil {
			return fmt.Errorf("%w: insert order %d check %s: %v", engine.ErrStorage, o.ID, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit order %d: %v", engine.ErrStorage, o.ID, err)
	}
	return nil
}

func orderArgs(o *engine.Order) []any {
	return []any{
		o.VendorID, o.WarehouseID, int(o.Status), o.Category,
		dateToDB(o.OrderDate), dateToDB(o.ApprovalDate),
		dateToDB(o.ExpectedDeliveryDate), dateToDB(o.ReceiptDate),
		o.CurrentBracket, o.ExtraDays, o.OrderDelay,
		boolToDB(o.IsExpedited), boolToDB(o.IsDelayed),
		decToDB(o.Independent.Amount), o.Independent.Eaches, o.Independent.Weight, o.Independent.Volume,
		decToDB(o.AutoAdjust.Amount), o.AutoAdjust.Eaches, o.AutoAdjust.Weight, o.AutoAdjust.Volume,
		decToDB(o.FinalAdjust.Amount), o.FinalAdjust.Eaches, o.FinalAdjust.Weight, o.FinalAdjust.Volume,
	}
}

func checkRows(c engine.CheckCounts) map[string]int {
	return map[string]int{
		"order_point_a": c.OrderPointA,
		"order_point":   c.OrderPoint,
		"watch":         c.Watch,
		"manual":        c.Manual,
		"new":           c.New,
		"uninitialized": c.Uninitialized,
		"quantity":      c.Quantity,
		"shelf_life":    c.ShelfLife,
	}
}

func applyCheckRow(c *engine.CheckCounts, name string, count int) {
	switch name {
	case "order_point_a":
		c.OrderPointA = count
	case "order_point":
		c.OrderPoint = count
	case "watch":
		c.Watch = count
	case "manual":
		c.Manual = count
	case "new":
		c.New = count
	case "uninitialized":
		c.Uninitialized = count
	case "quantity":
		c.Quantity = count
	case "shelf_life":
		c.ShelfLife = count
	}
}

// Order loads one order with its lines and check counts.
func (d *DB) Order(ctx context.Context, id int64) (*engine.Order, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", engine.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}

	rows, err := d.sql.QueryContext(ctx, `
		SELECT order_id, sku_id, soq_units, soq_days,
			purchase_price, extended_amount, unit_weight, unit_volume,
			item_delay, is_frozen, is_manual, is_order_point_driven
		FROM order_lines WHERE order_id = ? ORDER BY sku_id`, id)
	if err != nil {
		return nil, fmt.Errorf("load order %d lines: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ln                      engine.OrderLine
			price, extended         string
			frozen, manual, opDrive int
		)
		err := rows.Scan(
			&ln.OrderID, &ln.SkuID, &ln.SOQUnits, &ln.SOQDays,
			&price, &extended, &ln.UnitWeight, &ln.UnitVolume,
			&ln.ItemDelay, &frozen, &manual, &opDrive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		ln.PurchasePrice = decFromDB(price)
		ln.ExtendedAmount = decFromDB(extended)
		ln.IsFrozen = frozen != 0
		ln.IsManual = manual != 0
		ln.IsOrderPointDriven = opDrive != 0
		o.Lines = append(o.Lines, ln)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	checks, err := d.sql.QueryContext(ctx,
		"SELECT check_name, count FROM order_checks WHERE order_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("load order %d checks: %w", id, err)
	}
	defer checks.Close()

	for checks.Next() {
		var (
			name  string
			count int
		)
		if err := checks.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan order check: %w", err)
		}
		applyCheckRow(&o.Checks, name, count)
	}
	return o, checks.Err()
}

// Orders lists order headers, newest first. Filters are optional: an
// empty vendor id matches every vendor and a nil status list matches
// every status.
func (d *DB) Orders(ctx context.Context, vendorID string, statuses []engine.OrderStatus) ([]*engine.Order, error) {
	q := "SELECT " + orderColumns + " FROM orders WHERE (vendor_id = ? OR ? = '')"
	args := []any{vendorID, vendorID}
	if len(statuses) > 0 {
		q += " AND status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, int(st))
		}
	}
	q += " ORDER BY order_date DESC, id DESC"

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	defer rows.Close()

	var orders []*engine.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// TransitionOrder moves an order through its lifecycle and persists the
// result.
func (d *DB) TransitionOrder(ctx context.Context, id int64, to engine.OrderStatus, now time.Time) (*engine.Order, error) {
	o, err := d.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.Transition(to, now); err != nil {
		return nil, err
	}
	if err := d.SaveOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// PurgeAcceptedOrders moves accepted orders older than the cutoff to
// purged. Returns the number of orders purged.
func (d *DB) PurgeAcceptedOrders(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE orders SET status = ? WHERE status = ? AND order_date < ?",
		int(engine.OrderPurged), int(engine.OrderAccepted), dateToDB(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: purge orders: %v", engine.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge orders rows: %w", err)
	}
	return int(n), nil
}

// LeadTimeObservations derives lead-time samples from a vendor's
// received orders. The approval date is the start of the lead time when
// present, the order date otherwise.
func (d *DB) LeadTimeObservations(ctx context.Context, vendorID string, since time.Time) ([]engine.LeadTimeObservation, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT order_date, approval_date, expected_delivery_date, receipt_date,
			is_expedited, is_delayed
		FROM orders
		WHERE vendor_id = ? AND status = ? AND receipt_date >= ?
		ORDER BY receipt_date`,
		vendorID, int(engine.OrderReceived), dateToDB(since))
	if err != nil {
		return nil, fmt.Errorf("load lead times for vendor %s: %w", vendorID, err)
	}
	defer rows.Close()

	var obs []engine.LeadTimeObservation
	for rows.Next() {
		var (
			ordered, approved  string
			expected, received string
			expedited, delayed int
		)
		if err := rows.Scan(&ordered, &approved, &expected, &received, &expedited, &delayed); err != nil {
			return nil, fmt.Errorf("scan lead time: %w", err)
		}
		start := dateFromDB(approved)
		if start.IsZero() {
			start = dateFromDB(ordered)
		}
		ob := engine.LeadTimeObservation{
			OrderDate:   start,
			ReceiptDate: dateFromDB(received),
			Expedited:   expedited != 0,
			Delayed:     delayed != 0,
		}
		if exp := dateFromDB(expected); !exp.IsZero() && !start.IsZero() {
			ob.ExpectedDays = exp.Sub(start).Hours() / 24
		}
		obs = append(obs, ob)
	}
	return obs, rows.Err()
}
