package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add lookup indices for plans and runs",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_ws_probe_configs_plan ON ws_probe_configs(plan_file);
			CREATE INDEX IF NOT EXISTS idx_ws_probe_runs_plan ON ws_probe_runs(plan_file);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_ws_probe_configs_plan;
			DROP INDEX IF EXISTS idx_ws_probe_runs_plan;
		`,
	},
	{
		Version: 2,
		Name:    "Add failure breakdown indices for metrics",
		Up: `
			-- Failure reports group by close code and outcome per run
			CREATE INDEX IF NOT EXISTS idx_ws_probe_metrics_close_code ON ws_probe_metrics(run_id, close_code);
			CREATE INDEX IF NOT EXISTS idx_ws_probe_metrics_outcome ON ws_probe_metrics(run_id, outcome);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_ws_probe_metrics_close_code;
			DROP INDEX IF EXISTS idx_ws_probe_metrics_outcome;
		`,
	},
}

// InitSchema creates all tables required across all modules
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ws_probe_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		plan_file TEXT NOT NULL,
		profile_name TEXT,
		concurrent_connections INTEGER NOT NULL DEFAULT 1,
		total_iterations INTEGER NOT NULL DEFAULT 1,
		ramp_up_duration_sec INTEGER DEFAULT 0,
		test_duration_sec INTEGER DEFAULT 0,
		pause_ms INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS ws_probe_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		config_id INTEGER,
		config_name TEXT NOT NULL,
		plan_file TEXT NOT NULL,
		profile_name TEXT,
		target_url TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		total_iterations_sent INTEGER DEFAULT 0,
		total_iterations_completed INTEGER DEFAULT 0,
		total_connect_failures INTEGER DEFAULT 0,
		total_abnormal_closes INTEGER DEFAULT 0,
		total_timeouts INTEGER DEFAULT 0,
		avg_duration_ms REAL DEFAULT 0,
		min_duration_ms INTEGER DEFAULT 0,
		max_duration_ms INTEGER DEFAULT 0,
		p50_duration_ms INTEGER DEFAULT 0,
		p95_duration_ms INTEGER DEFAULT 0,
		p99_duration_ms INTEGER DEFAULT 0,
		FOREIGN KEY (config_id) REFERENCES ws_probe_configs(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ws_probe_runs_started_at ON ws_probe_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_ws_probe_runs_config_id ON ws_probe_runs(config_id);
	CREATE INDEX IF NOT EXISTS idx_ws_probe_runs_status ON ws_probe_runs(status);

	CREATE TABLE IF NOT EXISTS ws_probe_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		worker INTEGER NOT NULL DEFAULT 0,
		iteration INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		close_code INTEGER NOT NULL DEFAULT 0,
		reused INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL DEFAULT 0,
		connect_ms INTEGER DEFAULT 0,
		response_ms INTEGER DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		sent_size INTEGER DEFAULT 0,
		received_size INTEGER DEFAULT 0,
		error_message TEXT,
		FOREIGN KEY (run_id) REFERENCES ws_probe_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_ws_probe_metrics_run_id ON ws_probe_metrics(run_id);
	CREATE INDEX IF NOT EXISTS idx_ws_probe_metrics_elapsed ON ws_probe_metrics(run_id, elapsed_ms);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		if err := apply(db, migration); err != nil {
			return err
		}
	}

	return nil
}

// apply runs one migration and records it in the same transaction
func apply(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.Up); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		migration.Version,
		migration.Name,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
