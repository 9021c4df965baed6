package db

import (
	"context"
	"encoding/json"
	"fmt"

	"stockcast/internal/engine"
)

// SaveRun inserts or updates a pipeline run record. Stage statistics
// are stored as a JSON document.
func (d *DB) SaveRun(ctx context.Context, r *engine.Run) error {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("encode run %s stages: %w", r.RunID, err)
	}
	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO runs (run_id, kind, warehouse_id, started_at, finished_at, ok, stages_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			kind = excluded.kind,
			warehouse_id = excluded.warehouse_id,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			ok = excluded.ok,
			stages_json = excluded.stages_json
	`, r.RunID, r.Kind, r.WarehouseID, tsToDB(r.StartedAt), tsToDB(r.FinishedAt), boolToDB(r.OK), string(stages))
	if err != nil {
		return fmt.Errorf("%w: save run %s: %v", engine.ErrStorage, r.RunID, err)
	}
	return nil
}

// Runs lists pipeline runs, newest first, capped at limit when
// limit > 0.
func (d *DB) Runs(ctx context.Context, limit int) ([]*engine.Run, error) {
	q := `SELECT run_id, kind, warehouse_id, started_at, finished_at, ok, stages_json
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	defer rows.Close()

	var runs []*engine.Run
	for rows.Next() {
		var (
			r                 engine.Run
			started, finished string
			ok                int
			stages            string
		)
		if err := rows.Scan(&r.RunID, &r.Kind, &r.WarehouseID, &started, &finished, &ok, &stages); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = tsFromDB(started)
		r.FinishedAt = tsFromDB(finished)
		r.OK = ok != 0
		if err := json.Unmarshal([]byte(stages), &r.Stages); err != nil {
			return nil, fmt.Errorf("decode run %s stages: %w", r.RunID, err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
