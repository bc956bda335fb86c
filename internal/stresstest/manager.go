package stresstest

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/studiowebux/wsprobe/internal/migrations"
)

// Manager handles load test data persistence
type Manager struct {
	db *sql.DB
}

// NewManager opens the sqlite database at dbPath and applies migrations
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	m := &Manager{db: db}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const configColumns = `id, name, plan_file, COALESCE(profile_name, ''), concurrent_connections, total_iterations,
	COALESCE(ramp_up_duration_sec, 0), COALESCE(test_duration_sec, 0), COALESCE(pause_ms, 0), created_at, updated_at`

func scanConfig(row rowScanner) (*Config, error) {
	config := &Config{}
	err := row.Scan(&config.ID, &config.Name, &config.PlanFile, &config.ProfileName,
		&config.ConcurrentConns, &config.TotalIterations, &config.RampUpDurationSec,
		&config.TestDurationSec, &config.PauseMs, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves or updates a load test configuration
func (m *Manager) SaveConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	if config.ID == 0 {
		result, err := m.db.Exec(`
			INSERT INTO ws_probe_configs
			(name, plan_file, profile_name, concurrent_connections, total_iterations, ramp_up_duration_sec, test_duration_sec, pause_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, config.Name, config.PlanFile, config.ProfileName, config.ConcurrentConns, config.TotalIterations,
			config.RampUpDurationSec, config.TestDurationSec, config.PauseMs)
		if err != nil {
			return fmt.Errorf("failed to insert config: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		config.ID = id
		return nil
	}

	_, err := m.db.Exec(`
		UPDATE ws_probe_configs
		SET name = ?, plan_file = ?, profile_name = ?, concurrent_connections = ?, total_iterations = ?,
		    ramp_up_duration_sec = ?, test_duration_sec = ?, pause_ms = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, config.Name, config.PlanFile, config.ProfileName, config.ConcurrentConns, config.TotalIterations,
		config.RampUpDurationSec, config.TestDurationSec, config.PauseMs, config.ID)
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}
	return nil
}

// GetConfig retrieves a config by ID
func (m *Manager) GetConfig(id int64) (*Config, error) {
	return scanConfig(m.db.QueryRow("SELECT "+configColumns+" FROM ws_probe_configs WHERE id = ?", id))
}

// GetConfigByName retrieves a config by name and profile
func (m *Manager) GetConfigByName(name string, profileName string) (*Config, error) {
	return scanConfig(m.db.QueryRow(
		"SELECT "+configColumns+" FROM ws_probe_configs WHERE name = ? AND (profile_name = ? OR profile_name IS NULL)",
		name, profileName,
	))
}

// ListConfigs returns all saved configurations for the specified profile
func (m *Manager) ListConfigs(profileName string) ([]*Config, error) {
	rows, err := m.db.Query(`
		SELECT `+configColumns+`
		FROM ws_probe_configs
		WHERE profile_name = ? OR (profile_name IS NULL AND ? = '')
		ORDER BY updated_at DESC
	`, profileName, profileName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		config, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

// DeleteConfig deletes a configuration
func (m *Manager) DeleteConfig(id int64) error {
	_, err := m.db.Exec("DELETE FROM ws_probe_configs WHERE id = ?", id)
	return err
}

// CreateRun creates a new run record
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO ws_probe_runs
		(config_id, config_name, plan_file, profile_name, target_url, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ConfigID, run.ConfigName, run.PlanFile, run.ProfileName, run.TargetURL, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun stores the final state of a run
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE ws_probe_runs
		SET completed_at = ?, status = ?, total_iterations_sent = ?, total_iterations_completed = ?,
		    total_connect_failures = ?, total_abnormal_closes = ?, total_timeouts = ?,
		    avg_duration_ms = ?, min_duration_ms = ?, max_duration_ms = ?,
		    p50_duration_ms = ?, p95_duration_ms = ?, p99_duration_ms = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.TotalIterationsSent, run.TotalIterationsCompleted,
		run.TotalConnectFailures, run.TotalAbnormalCloses, run.TotalTimeouts,
		run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs, run.ID)
	return err
}

const runColumns = `id, config_id, config_name, plan_file, COALESCE(profile_name, ''), target_url, started_at, completed_at, status,
	COALESCE(total_iterations_sent, 0), COALESCE(total_iterations_completed, 0), COALESCE(total_connect_failures, 0),
	COALESCE(total_abnormal_closes, 0), COALESCE(total_timeouts, 0),
	COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0),
	COALESCE(p50_duration_ms, 0), COALESCE(p95_duration_ms, 0), COALESCE(p99_duration_ms, 0)`

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var configID sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &configID, &run.ConfigName, &run.PlanFile, &run.ProfileName, &run.TargetURL,
		&run.StartedAt, &completedAt, &run.Status, &run.TotalIterationsSent, &run.TotalIterationsCompleted,
		&run.TotalConnectFailures, &run.TotalAbnormalCloses, &run.TotalTimeouts,
		&run.AvgDurationMs, &run.MinDurationMs, &run.MaxDurationMs,
		&run.P50DurationMs, &run.P95DurationMs, &run.P99DurationMs)
	if err != nil {
		return nil, err
	}

	if configID.Valid {
		run.ConfigID = &configID.Int64
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	return scanRun(m.db.QueryRow("SELECT "+runColumns+" FROM ws_probe_runs WHERE id = ?", id))
}

// ListRuns returns the runs of the specified profile, newest first
func (m *Manager) ListRuns(profileName string, limit int) ([]*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM ws_probe_runs
		WHERE profile_name = ? OR (profile_name IS NULL AND ? = '')
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query, profileName, profileName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run and all its metrics
func (m *Manager) DeleteRun(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM ws_probe_metrics WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete metrics: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM ws_probe_runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return tx.Commit()
}

const insertMetric = `
	INSERT INTO ws_probe_metrics
	(run_id, worker, iteration, timestamp, elapsed_ms, outcome, close_code, reused, matched,
	 connect_ms, response_ms, duration_ms, sent_size, received_size, error_message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func metricArgs(metric *Metric) []any {
	return []any{
		metric.RunID, metric.Worker, metric.Iteration, metric.Timestamp, metric.ElapsedMs,
		metric.Outcome, metric.CloseCode, metric.Reused, metric.Matched,
		metric.ConnectMs, metric.ResponseMs, metric.DurationMs,
		metric.SentSize, metric.ReceivedSize, metric.ErrorMessage,
	}
}

// SaveMetric saves a single iteration metric
func (m *Manager) SaveMetric(metric *Metric) error {
	result, err := m.db.Exec(insertMetric, metricArgs(metric)...)
	if err != nil {
		return fmt.Errorf("failed to save metric: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	metric.ID = id
	return nil
}

// SaveMetricsBatch saves multiple metrics in a single transaction
func (m *Manager) SaveMetricsBatch(metrics []*Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertMetric)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, metric := range metrics {
		if _, err := stmt.Exec(metricArgs(metric)...); err != nil {
			return fmt.Errorf("failed to insert metric: %w", err)
		}
	}

	return tx.Commit()
}

// GetMetrics retrieves all metrics for a run in elapsed order
func (m *Manager) GetMetrics(runID int64) ([]*Metric, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, worker, iteration, timestamp, elapsed_ms, outcome, close_code, reused, matched,
		       COALESCE(connect_ms, 0), COALESCE(response_ms, 0), duration_ms,
		       COALESCE(sent_size, 0), COALESCE(received_size, 0), error_message
		FROM ws_probe_metrics
		WHERE run_id = ?
		ORDER BY elapsed_ms, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*Metric
	for rows.Next() {
		metric := &Metric{}
		var errorMsg sql.NullString

		err := rows.Scan(&metric.ID, &metric.RunID, &metric.Worker, &metric.Iteration, &metric.Timestamp,
			&metric.ElapsedMs, &metric.Outcome, &metric.CloseCode, &metric.Reused, &metric.Matched,
			&metric.ConnectMs, &metric.ResponseMs, &metric.DurationMs,
			&metric.SentSize, &metric.ReceivedSize, &errorMsg)
		if err != nil {
			return nil, err
		}
		if errorMsg.Valid {
			metric.ErrorMessage = errorMsg.String
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

// OutcomeCounts returns the number of iterations per outcome for a run
func (m *Manager) OutcomeCounts(runID int64) (map[string]int, error) {
	rows, err := m.db.Query(`
		SELECT outcome, COUNT(*)
		FROM ws_probe_metrics
		WHERE run_id = ?
		GROUP BY outcome
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// CloseCodeCounts returns the number of abnormal closes per close code for a run
func (m *Manager) CloseCodeCounts(runID int64) (map[int]int, error) {
	rows, err := m.db.Query(`
		SELECT close_code, COUNT(*)
		FROM ws_probe_metrics
		WHERE run_id = ? AND close_code != 0
		GROUP BY close_code
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var code, n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		counts[code] = n
	}
	return counts, rows.Err()
}
