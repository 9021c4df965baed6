package db

import (
	"context"
	"encoding/json"
	"fmt"

	"stockcast/internal/engine"
)

// Profiles loads every seasonal profile keyed by id.
func (d *DB) Profiles(ctx context.Context) (map[string]*engine.Profile, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT profile_id, periodicity, indices FROM seasonal_profiles")
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*engine.Profile)
	for rows.Next() {
		var (
			p       engine.Profile
			indices string
		)
		if err := rows.Scan(&p.ProfileID, &p.Periodicity, &indices); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if err := json.Unmarshal([]byte(indices), &p.Indices); err != nil {
			return nil, fmt.Errorf("decode profile %s indices: %w", p.ProfileID, err)
		}
		out[p.ProfileID] = &p
	}
	return out, rows.Err()
}

// SaveProfile inserts or updates a seasonal profile.
func (d *DB) SaveProfile(ctx context.Context, p *engine.Profile) error {
	indices, err := json.Marshal(p.Indices)
	if err != nil {
		return fmt.Errorf("encode profile %s indices: %w", p.ProfileID, err)
	}
	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO seasonal_profiles (profile_id, periodicity, indices)
		VALUES (?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			periodicity = excluded.periodicity,
			indices = excluded.indices
	`, p.ProfileID, p.Periodicity, string(indices))
	if err != nil {
		return fmt.Errorf("%w: save profile %s: %v", engine.ErrStorage, p.ProfileID, err)
	}
	return nil
}
