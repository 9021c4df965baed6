package db

import (
	"context"
	"fmt"
	"time"

	"stockcast/internal/engine"
)

const exceptionColumns = `id, sku_id, period_year, period_number, exc_type,
	forecast_before, forecast_after, madp_before, madp_after,
	track_before, track_after, actual_demand,
	is_resolved, resolved_at, resolution, created_at`

func scanException(row scanner) (engine.Exception, error) {
	var (
		e                   engine.Exception
		excType, resolved   int
		resolvedAt, created string
	)
	err := row.Scan(
		&e.ID, &e.SkuID, &e.PeriodYear, &e.PeriodNumber, &excType,
		&e.ForecastBefore, &e.ForecastAfter, &e.MADPBefore, &e.MADPAfter,
		&e.TrackBefore, &e.TrackAfter, &e.ActualDemand,
		&resolved, &resolvedAt, &e.Resolution, &created,
	)
	if err != nil {
		return e, err
	}
	e.Type = engine.ExceptionType(excType)
	e.IsResolved = resolved != 0
	e.ResolvedAt = tsFromDB(resolvedAt)
	e.CreatedAt = tsFromDB(created)
	return e, nil
}

// SaveExceptions inserts a batch of exceptions.
func (d *DB) SaveExceptions(ctx context.Context, excs []engine.Exception) error {
	if len(excs) == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin exceptions tx: %v", engine.ErrStorage, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exceptions (sku_id, period_year, period_number, exc_type,
			forecast_before, forecast_after, madp_before, madp_after,
			track_before, track_after, actual_demand,
			is_resolved, resolved_at, resolution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare exceptions: %w", err)
	}
	defer stmt.Close()

	for _, e := range excs {
		_, err := stmt.ExecContext(ctx,
			e.SkuID, e.PeriodYear, e.PeriodNumber, int(e.Type),
			e.ForecastBefore, e.ForecastAfter, e.MADPBefore, e.MADPAfter,
			e.TrackBefore, e.TrackAfter, e.ActualDemand,
			boolToDB(e.IsResolved), tsToDB(e.ResolvedAt), e.Resolution, tsToDB(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("%w: insert exception %s/%s: %v", engine.ErrStorage, e.SkuID, e.Type, err)
		}
	}
	return tx.Commit()
}

// Exceptions lists exceptions for a SKU, newest first. An empty skuID
// lists every SKU; resolved rows are included only when asked for.
func (d *DB) Exceptions(ctx context.Context, skuID string, includeResolved bool) ([]engine.Exception, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT `+exceptionColumns+` FROM exceptions
		WHERE (sku_id = ? OR ? = '') AND (is_resolved = 0 OR ?)
		ORDER BY created_at DESC, id DESC`,
		skuID, skuID, boolToDB(includeResolved))
	if err != nil {
		return nil, fmt.Errorf("load exceptions: %w", err)
	}
	defer rows.Close()

	var excs []engine.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		excs = append(excs, e)
	}
	return excs, rows.Err()
}

// UnresolvedExceptionTypes reports which exception types are already
// open for a SKU period, so a rescan does not raise duplicates.
func (d *DB) UnresolvedExceptionTypes(ctx context.Context, skuID string, year, per int) (map[engine.ExceptionType]bool, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT DISTINCT exc_type FROM exceptions
		WHERE sku_id = ? AND period_year = ? AND period_number = ? AND is_resolved = 0`,
		skuID, year, per)
	if err != nil {
		return nil, fmt.Errorf("load open exception types for %s: %w", skuID, err)
	}
	defer rows.Close()

	out := make(map[engine.ExceptionType]bool)
	for rows.Next() {
		var t int
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan exception type: %w", err)
		}
		out[engine.ExceptionType(t)] = true
	}
	return out, rows.Err()
}

// ResolveException marks an exception resolved with a note.
func (d *DB) ResolveException(ctx context.Context, id int64, resolution string, now time.Time) error {
	res, err := d.sql.ExecContext(ctx, `
		UPDATE exceptions SET is_resolved = 1, resolved_at = ?, resolution = ?
		WHERE id = ? AND is_resolved = 0`,
		tsToDB(now), resolution, id)
	if err != nil {
		return fmt.Errorf("%w: resolve exception %d: %v", engine.ErrStorage, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve exception rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: open exception %d", engine.ErrNotFound, id)
	}
	return nil
}

// ArchiveResolvedExceptions moves exceptions resolved before the cutoff
// into the archive table. Returns the number of moved rows.
func (d *DB) ArchiveResolvedExceptions(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin exception archive tx: %v", engine.ErrStorage, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO exceptions_archive
			(id, sku_id, period_year, period_number, exc_type,
			 forecast_before, forecast_after, madp_before, madp_after,
			 track_before, track_after, actual_demand,
			 is_resolved, resolved_at, resolution, created_at, archived_at)
		SELECT id, sku_id, period_year, period_number, exc_type,
			forecast_before, forecast_after, madp_before, madp_after,
			track_before, track_after, actual_demand,
			is_resolved, resolved_at, resolution, created_at, ?
		FROM exceptions
		WHERE is_resolved = 1 AND resolved_at != '' AND resolved_at < ?`,
		tsToDB(time.Now()), tsToDB(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: archive exceptions: %v", engine.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive exceptions rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM exceptions
		WHERE is_resolved = 1 AND resolved_at != '' AND resolved_at < ?`,
		tsToDB(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: clear archived exceptions: %v", engine.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit exception archive: %v", engine.ErrStorage, err)
	}
	return int(n), nil
}
