package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockcast/internal/engine"
)

const historyColumns = `sku_id, period_year, period_number,
	shipped, lost_sales, promotional_demand, total_demand,
	out_of_stock_days, is_ignored, is_adjusted`

func scanHistory(row scanner) (engine.HistoryRecord, error) {
	var (
		rec               engine.HistoryRecord
		ignored, adjusted int
	)
	err := row.Scan(
		&rec.SkuID, &rec.PeriodYear, &rec.PeriodNumber,
		&rec.Shipped, &rec.LostSales, &rec.PromotionalDemand, &rec.TotalDemand,
		&rec.OutOfStockDays, &ignored, &adjusted,
	)
	if err != nil {
		return rec, err
	}
	rec.IsIgnored = ignored != 0
	rec.IsAdjusted = adjusted != 0
	return rec, nil
}

// HistoryRecordFor loads one demand period for a SKU.
func (d *DB) HistoryRecordFor(ctx context.Context, skuID string, year, per int) (*engine.HistoryRecord, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+historyColumns+" FROM demand_history WHERE sku_id = ? AND period_year = ? AND period_number = ?",
		skuID, year, per)
	rec, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: history %s %d/%d", engine.ErrNotFound, skuID, year, per)
	}
	if err != nil {
		return nil, fmt.Errorf("load history %s %d/%d: %w", skuID, year, per, err)
	}
	return &rec, nil
}

// HistoryForSKU lists a SKU's demand periods, most recent first, capped
// at limit when limit > 0.
func (d *DB) HistoryForSKU(ctx context.Context, skuID string, limit int) ([]engine.HistoryRecord, error) {
	q := "SELECT " + historyColumns + ` FROM demand_history
		WHERE sku_id = ? ORDER BY period_year DESC, period_number DESC`
	args := []any{skuID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load history for sku %s: %w", skuID, err)
	}
	defer rows.Close()

	var recs []engine.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// HistoryForVendorSKUs loads demand history for every SKU of a vendor in
// one query, most recent first per SKU, capped at limit periods each.
func (d *DB) HistoryForVendorSKUs(ctx context.Context, vendorID string, limit int) (map[string][]engine.HistoryRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT h.sku_id, h.period_year, h.period_number,
			h.shipped, h.lost_sales, h.promotional_demand, h.total_demand,
			h.out_of_stock_days, h.is_ignored, h.is_adjusted
		FROM demand_history h
		JOIN skus s ON s.sku_id = h.sku_id
		WHERE s.vendor_id = ?
		ORDER BY h.sku_id, h.period_year DESC, h.period_number DESC`, vendorID)
	if err != nil {
		return nil, fmt.Errorf("load history for vendor %s: %w", vendorID, err)
	}
	defer rows.Close()

	out := make(map[string][]engine.HistoryRecord)
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if limit > 0 && len(out[rec.SkuID]) >= limit {
			continue
		}
		out[rec.SkuID] = append(out[rec.SkuID], rec)
	}
	return out, rows.Err()
}

// UpsertHistory inserts or replaces a demand period.
func (d *DB) UpsertHistory(ctx context.Context, rec *engine.HistoryRecord) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO demand_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku_id, period_year, period_number) DO UPDATE SET
			shipped = excluded.shipped,
			lost_sales = excluded.lost_sales,
			promotional_demand = excluded.promotional_demand,
			total_demand = excluded.total_demand,
			out_of_stock_days = excluded.out_of_stock_days,
			is_ignored = excluded.is_ignored,
			is_adjusted = excluded.is_adjusted
	`,
		rec.SkuID, rec.PeriodYear, rec.PeriodNumber,
		rec.Shipped, rec.LostSales, rec.PromotionalDemand, rec.TotalDemand,
		rec.OutOfStockDays, boolToDB(rec.IsIgnored), boolToDB(rec.IsAdjusted),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert history %s %d/%d: %v",
			engine.ErrStorage, rec.SkuID, rec.PeriodYear, rec.PeriodNumber, err)
	}
	return nil
}

// CreateHistoryPeriod inserts a new demand period and refuses to
// overwrite an existing one.
func (d *DB) CreateHistoryPeriod(ctx context.Context, rec *engine.HistoryRecord) error {
	res, err := d.sql.ExecContext(ctx, `
		INSERT OR IGNORE INTO demand_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SkuID, rec.PeriodYear, rec.PeriodNumber,
		rec.Shipped, rec.LostSales, rec.PromotionalDemand, rec.TotalDemand,
		rec.OutOfStockDays, boolToDB(rec.IsIgnored), boolToDB(rec.IsAdjusted),
	)
	if err != nil {
		return fmt.Errorf("%w: create history %s %d/%d: %v",
			engine.ErrStorage, rec.SkuID, rec.PeriodYear, rec.PeriodNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create history rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: history %s %d/%d", engine.ErrAlreadyExists, rec.SkuID, rec.PeriodYear, rec.PeriodNumber)
	}
	return nil
}

// SetHistoryIgnored marks or unmarks a period as excluded from
// forecasting.
func (d *DB) SetHistoryIgnored(ctx context.Context, skuID string, year, per int, ignored bool) error {
	res, err := d.sql.ExecContext(ctx, `
		UPDATE demand_history SET is_ignored = ?
		WHERE sku_id = ? AND period_year = ? AND period_number = ?`,
		boolToDB(ignored), skuID, year, per)
	if err != nil {
		return fmt.Errorf("%w: set ignored %s %d/%d: %v", engine.ErrStorage, skuID, year, per, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set ignored rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: history %s %d/%d", engine.ErrNotFound, skuID, year, per)
	}
	return nil
}

// CopyHistory copies every demand period of one SKU onto another,
// scaling the demand components. Copied periods are flagged adjusted.
// Returns the number of periods written.
func (d *DB) CopyHistory(ctx context.Context, fromSKU, toSKU string, scale float64) (int, error) {
	src, err := d.HistoryForSKU(ctx, fromSKU, 0)
	if err != nil {
		return 0, err
	}
	if len(src) == 0 {
		return 0, fmt.Errorf("%w: history for sku %s", engine.ErrNotFound, fromSKU)
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin copy tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO demand_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku_id, period_year, period_number) DO UPDATE SET
			shipped = excluded.shipped,
			lost_sales = excluded.lost_sales,
			promotional_demand = excluded.promotional_demand,
			total_demand = excluded.total_demand,
			out_of_stock_days = excluded.out_of_stock_days,
			is_ignored = excluded.is_ignored,
			is_adjusted = excluded.is_adjusted
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}
	defer stmt.Close()

	for _, rec := range src {
		cp := rec
		cp.SkuID = toSKU
		cp.Shipped *= scale
		cp.LostSales *= scale
		cp.PromotionalDemand *= scale
		cp.Recompute()
		cp.IsAdjusted = true
		_, err := stmt.ExecContext(ctx,
			cp.SkuID, cp.PeriodYear, cp.PeriodNumber,
			cp.Shipped, cp.LostSales, cp.PromotionalDemand, cp.TotalDemand,
			cp.OutOfStockDays, boolToDB(cp.IsIgnored), boolToDB(cp.IsAdjusted),
		)
		if err != nil {
			return 0, fmt.Errorf("%w: copy history to %s: %v", engine.ErrStorage, toSKU, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit copy tx: %w", err)
	}
	return len(src), nil
}

// PurgeHistoryBefore deletes demand periods strictly older than the
// given period. An empty skuID purges across all SKUs. Returns the
// number of deleted rows.
func (d *DB) PurgeHistoryBefore(ctx context.Context, skuID string, year, per int) (int, error) {
	res, err := d.sql.ExecContext(ctx, `
		DELETE FROM demand_history
		WHERE (period_year < ? OR (period_year = ? AND period_number < ?))
		  AND (sku_id = ? OR ? = '')`,
		year, year, per, skuID, skuID)
	if err != nil {
		return 0, fmt.Errorf("%w: purge history: %v", engine.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge history rows: %w", err)
	}
	return int(n), nil
}

// ArchiveHistoryBefore moves demand periods strictly older than the
// given period into the archive table. An empty skuID archives across
// all SKUs. Returns the number of moved rows.
func (d *DB) ArchiveHistoryBefore(ctx context.Context, skuID string, year, per int, now time.Time) (int, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO demand_history_archive
			(sku_id, period_year, period_number, shipped, lost_sales, promotional_demand,
			 total_demand, out_of_stock_days, is_ignored, is_adjusted, archived_at)
		SELECT sku_id, period_year, period_number, shipped, lost_sales, promotional_demand,
			total_demand, out_of_stock_days, is_ignored, is_adjusted, ?
		FROM demand_history
		WHERE (period_year < ? OR (period_year = ? AND period_number < ?))
		  AND (sku_id = ? OR ? = '')`,
		tsToDB(now), year, year, per, skuID, skuID)
	if err != nil {
		return 0, fmt.Errorf("%w: archive history: %v", engine.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive history rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM demand_history
		WHERE (period_year < ? OR (period_year = ? AND period_number < ?))
		  AND (sku_id = ? OR ? = '')`,
		year, year, per, skuID, skuID)
	if err != nil {
		return 0, fmt.Errorf("%w: clear archived history: %v", engine.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}
	return int(n), nil
}
