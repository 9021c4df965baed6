package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"stockcast/internal/engine"
	"stockcast/internal/logger"
)

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
}

// The pipelines drive the store through this surface.
var _ engine.Store = (*DB)(nil)

// DefaultPath resolves the database location. Working directory first so
// the file is stable across go run / go build, executable directory for
// deployed builds.
func DefaultPath() string {
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "stockcast.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "stockcast.db")
}

// Open opens (or creates) the SQLite database at path and runs
// migrations.
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath()
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	// Try to read current version
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS settings (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS skus (
				sku_id                   TEXT PRIMARY KEY,
				warehouse_id             TEXT NOT NULL DEFAULT '',
				vendor_id                TEXT NOT NULL DEFAULT '',
				description              TEXT NOT NULL DEFAULT '',
				buyer_class              INTEGER NOT NULL DEFAULT 0,
				system_class             INTEGER NOT NULL DEFAULT 0,
				forecast_method          INTEGER NOT NULL DEFAULT 0,
				periodicity              INTEGER NOT NULL DEFAULT 13,
				profile_id               TEXT NOT NULL DEFAULT '',
				purchase_price           TEXT NOT NULL DEFAULT '0',
				sales_price              TEXT NOT NULL DEFAULT '0',
				buying_multiple          REAL NOT NULL DEFAULT 1,
				ignore_multiple          INTEGER NOT NULL DEFAULT 0,
				minimum_quantity         REAL NOT NULL DEFAULT 0,
				shelf_life_days          REAL NOT NULL DEFAULT 0,
				unit_weight              REAL NOT NULL DEFAULT 0,
				unit_volume              REAL NOT NULL DEFAULT 0,
				on_hand                  REAL NOT NULL DEFAULT 0,
				on_order                 REAL NOT NULL DEFAULT 0,
				customer_back_order      REAL NOT NULL DEFAULT 0,
				reserved                 REAL NOT NULL DEFAULT 0,
				quantity_held            REAL NOT NULL DEFAULT 0,
				out_of_stock_days        INTEGER NOT NULL DEFAULT 0,
				weekly_forecast          REAL NOT NULL DEFAULT 0,
				period_forecast          REAL NOT NULL DEFAULT 0,
				quarterly_forecast       REAL NOT NULL DEFAULT 0,
				yearly_forecast          REAL NOT NULL DEFAULT 0,
				madp                     REAL NOT NULL DEFAULT 0,
				track                    REAL NOT NULL DEFAULT 0,
				last_forecast_date       TEXT NOT NULL DEFAULT '',
				freeze_until_date        TEXT NOT NULL DEFAULT '',
				periods_with_zero_demand INTEGER NOT NULL DEFAULT 0,
				date_created             TEXT NOT NULL DEFAULT '',
				service_level_goal       REAL NOT NULL DEFAULT 0,
				service_level_attained   REAL NOT NULL DEFAULT 0,
				lead_time_forecast_days  REAL NOT NULL DEFAULT 0,
				lead_time_variance_pct   REAL NOT NULL DEFAULT 0,
				own_lead_time_count      INTEGER NOT NULL DEFAULT 0,
				item_order_cycle_days    REAL NOT NULL DEFAULT 0,
				safety_stock_days        REAL NOT NULL DEFAULT 0,
				item_order_point_days    REAL NOT NULL DEFAULT 0,
				item_order_point_units   REAL NOT NULL DEFAULT 0,
				vendor_order_point_days  REAL NOT NULL DEFAULT 0,
				order_up_to_level_days   REAL NOT NULL DEFAULT 0,
				order_up_to_level_units  REAL NOT NULL DEFAULT 0,
				manual_safety_stock      REAL NOT NULL DEFAULT 0,
				ss_type                  INTEGER NOT NULL DEFAULT 0,
				min_presentation_stock   REAL NOT NULL DEFAULT 0,
				outl_hard_max            REAL NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_skus_vendor ON skus(vendor_id);
			CREATE INDEX IF NOT EXISTS idx_skus_warehouse ON skus(warehouse_id);

			CREATE TABLE IF NOT EXISTS vendors (
				vendor_id                  TEXT PRIMARY KEY,
				warehouse_id               TEXT NOT NULL DEFAULT '',
				name                       TEXT NOT NULL DEFAULT '',
				order_cycle_days           REAL NOT NULL DEFAULT 0,
				header_cost                TEXT NOT NULL DEFAULT '0',
				line_cost                  TEXT NOT NULL DEFAULT '0',
				service_level_goal_default REAL NOT NULL DEFAULT 0,
				lead_time_quoted_days      REAL NOT NULL DEFAULT 0,
				lead_time_forecast_days    REAL NOT NULL DEFAULT 0,
				lead_time_variance_pct     REAL NOT NULL DEFAULT 0,
				lead_time_is_seasonal      INTEGER NOT NULL DEFAULT 0,
				order_days_in_week         INTEGER NOT NULL DEFAULT 0,
				order_week_parity          INTEGER NOT NULL DEFAULT 0,
				order_day_in_month         INTEGER NOT NULL DEFAULT 0,
				next_order_date            TEXT NOT NULL DEFAULT '',
				last_order_date            TEXT NOT NULL DEFAULT '',
				order_when_minimum_met     INTEGER NOT NULL DEFAULT 0,
				automatic_rebuild          INTEGER NOT NULL DEFAULT 0,
				current_bracket            INTEGER NOT NULL DEFAULT 0,
				active_items_count         INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_vendors_warehouse ON vendors(warehouse_id);

			CREATE TABLE IF NOT EXISTS vendor_brackets (
				vendor_id      TEXT NOT NULL,
				bracket_number INTEGER NOT NULL,
				unit           INTEGER NOT NULL DEFAULT 0,
				minimum        TEXT NOT NULL DEFAULT '0',
				maximum        TEXT NOT NULL DEFAULT '0',
				discount_pct   REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (vendor_id, bracket_number)
			);

			CREATE TABLE IF NOT EXISTS seasonal_profiles (
				profile_id  TEXT PRIMARY KEY,
				periodicity INTEGER NOT NULL DEFAULT 13,
				indices     TEXT NOT NULL DEFAULT '[]'
			);

			CREATE TABLE IF NOT EXISTS demand_history (
				sku_id             TEXT NOT NULL,
				period_year        INTEGER NOT NULL,
				period_number      INTEGER NOT NULL,
				shipped            REAL NOT NULL DEFAULT 0,
				lost_sales         REAL NOT NULL DEFAULT 0,
				promotional_demand REAL NOT NULL DEFAULT 0,
				total_demand       REAL NOT NULL DEFAULT 0,
				out_of_stock_days  INTEGER NOT NULL DEFAULT 0,
				is_ignored         INTEGER NOT NULL DEFAULT 0,
				is_adjusted        INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (sku_id, period_year, period_number)
			);

			CREATE TABLE IF NOT EXISTS demand_history_archive (
				sku_id             TEXT NOT NULL,
				period_year        INTEGER NOT NULL,
				period_number      INTEGER NOT NULL,
				shipped            REAL NOT NULL DEFAULT 0,
				lost_sales         REAL NOT NULL DEFAULT 0,
				promotional_demand REAL NOT NULL DEFAULT 0,
				total_demand       REAL NOT NULL DEFAULT 0,
				out_of_stock_days  INTEGER NOT NULL DEFAULT 0,
				is_ignored         INTEGER NOT NULL DEFAULT 0,
				is_adjusted        INTEGER NOT NULL DEFAULT 0,
				archived_at        TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (sku_id, period_year, period_number)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS orders (
				id                     INTEGER PRIMARY KEY AUTOINCREMENT,
				vendor_id              TEXT NOT NULL,
				warehouse_id           TEXT NOT NULL DEFAULT '',
				status                 INTEGER NOT NULL DEFAULT 0,
				category               TEXT NOT NULL DEFAULT '',
				order_date             TEXT NOT NULL DEFAULT '',
				approval_date          TEXT NOT NULL DEFAULT '',
				expected_delivery_date TEXT NOT NULL DEFAULT '',
				receipt_date           TEXT NOT NULL DEFAULT '',
				current_bracket        INTEGER NOT NULL DEFAULT 0,
				extra_days             REAL NOT NULL DEFAULT 0,
				order_delay            REAL NOT NULL DEFAULT 0,
				is_expedited           INTEGER NOT NULL DEFAULT 0,
				is_delayed             INTEGER NOT NULL DEFAULT 0,
				ind_amount             TEXT NOT NULL DEFAULT '0',
				ind_eaches             REAL NOT NULL DEFAULT 0,
				ind_weight             REAL NOT NULL DEFAULT 0,
				ind_volume             REAL NOT NULL DEFAULT 0,
				auto_amount            TEXT NOT NULL DEFAULT '0',
				auto_eaches            REAL NOT NULL DEFAULT 0,
				auto_weight            REAL NOT NULL DEFAULT 0,
				auto_volume            REAL NOT NULL DEFAULT 0,
				final_amount           TEXT NOT NULL DEFAULT '0',
				final_eaches           REAL NOT NULL DEFAULT 0,
				final_weight           REAL NOT NULL DEFAULT 0,
				final_volume           REAL NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_orders_vendor ON orders(vendor_id);
			CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

			CREATE TABLE IF NOT EXISTS order_lines (
				order_id              INTEGER NOT NULL REFERENCES orders(id),
				sku_id                TEXT NOT NULL,
				soq_units             REAL NOT NULL DEFAULT 0,
				soq_days              REAL NOT NULL DEFAULT 0,
				purchase_price        TEXT NOT NULL DEFAULT '0',
				extended_amount       TEXT NOT NULL DEFAULT '0',
				unit_weight           REAL NOT NULL DEFAULT 0,
				unit_volume           REAL NOT NULL DEFAULT 0,
				item_delay            REAL NOT NULL DEFAULT 0,
				is_frozen             INTEGER NOT NULL DEFAULT 0,
				is_manual             INTEGER NOT NULL DEFAULT 0,
				is_order_point_driven INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (order_id, sku_id)
			);

			CREATE TABLE IF NOT EXISTS order_checks (
				order_id   INTEGER NOT NULL REFERENCES orders(id),
				check_name TEXT NOT NULL,
				count      INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (order_id, check_name)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (orders)")
	}

	if version < 3 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS exceptions (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				sku_id          TEXT NOT NULL,
				period_year     INTEGER NOT NULL,
				period_number   INTEGER NOT NULL,
				exc_type        INTEGER NOT NULL,
				forecast_before REAL NOT NULL DEFAULT 0,
				forecast_after  REAL NOT NULL DEFAULT 0,
				madp_before     REAL NOT NULL DEFAULT 0,
				madp_after      REAL NOT NULL DEFAULT 0,
				track_before    REAL NOT NULL DEFAULT 0,
				track_after     REAL NOT NULL DEFAULT 0,
				actual_demand   REAL NOT NULL DEFAULT 0,
				is_resolved     INTEGER NOT NULL DEFAULT 0,
				resolved_at     TEXT NOT NULL DEFAULT '',
				resolution      TEXT NOT NULL DEFAULT '',
				created_at      TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_exceptions_sku ON exceptions(sku_id, period_year, period_number);
			CREATE INDEX IF NOT EXISTS idx_exceptions_open ON exceptions(is_resolved);

			CREATE TABLE IF NOT EXISTS exceptions_archive (
				id              INTEGER PRIMARY KEY,
				sku_id          TEXT NOT NULL,
				period_year     INTEGER NOT NULL,
				period_number   INTEGER NOT NULL,
				exc_type        INTEGER NOT NULL,
				forecast_before REAL NOT NULL DEFAULT 0,
				forecast_after  REAL NOT NULL DEFAULT 0,
				madp_before     REAL NOT NULL DEFAULT 0,
				madp_after      REAL NOT NULL DEFAULT 0,
				track_before    REAL NOT NULL DEFAULT 0,
				track_after     REAL NOT NULL DEFAULT 0,
				actual_demand   REAL NOT NULL DEFAULT 0,
				is_resolved     INTEGER NOT NULL DEFAULT 0,
				resolved_at     TEXT NOT NULL DEFAULT '',
				resolution      TEXT NOT NULL DEFAULT '',
				created_at      TEXT NOT NULL DEFAULT '',
				archived_at     TEXT NOT NULL DEFAULT ''
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (3);
		`)
		if err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		logger.Info("DB", "Applied migration v3 (exceptions)")
	}

	if version < 4 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS runs (
				run_id       TEXT PRIMARY KEY,
				kind         TEXT NOT NULL,
				warehouse_id TEXT NOT NULL DEFAULT '',
				started_at   TEXT NOT NULL DEFAULT '',
				finished_at  TEXT NOT NULL DEFAULT '',
				ok           INTEGER NOT NULL DEFAULT 0,
				stages_json  TEXT NOT NULL DEFAULT '{}'
			);
			CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

			INSERT OR IGNORE INTO schema_version (version) VALUES (4);
		`)
		if err != nil {
			return fmt.Errorf("migration v4: %w", err)
		}
		logger.Info("DB", "Applied migration v4 (runs)")
	}

	return nil
}

// Dates persist as 2006-01-02, timestamps as RFC3339, both UTC so the
// text sorts chronologically. Empty string means the zero time.

func dateToDB(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func dateFromDB(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func tsToDB(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func tsFromDB(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decToDB(v decimal.Decimal) string {
	return v.String()
}

func decFromDB(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}
	}
	return v
}
