package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/olegiv/bms-telemetry-go/internal/alert"
	"github.com/olegiv/bms-telemetry-go/internal/derive"
)

// Storage keeps the history of analysed BMS runs.
type Storage struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Run is one analysed BMS log. AI fields stay empty when insights are
// disabled or failed.
type Run struct {
	ID        string // ULID, sortable by creation time
	Timestamp time.Time
	Pack      string // pack ID, empty in single-pack mode
	Source    string // log file path

	Records         int
	SkippedBlocks   int
	Dropped         int
	DurationSeconds float64

	NetKWh            float64
	ChargedKWh        float64
	DischargedKWh     float64
	EfficiencyPercent float64

	RuntimeHours float64
	UnitPrice    float64
	TotalCost    float64
	CostPerHour  float64
	HourlyCosts  []derive.HourlyCost // written by SaveRun, loaded by GetHourlyCosts

	Alerts []alert.Alert

	SystemStatus string
	Summary      string
	InputTokens  int
	OutputTokens int
	AICostUSD    float64
}

// Database configuration constants
const (
	// busyTimeoutMs is how long SQLite waits when database is locked
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns = 1
	maxIdleConns = 1
	// connMaxLifetime is how long a connection can be reused
	connMaxLifetime = 30 * time.Minute
)

// New opens (or creates) the run history database at dbPath.
func New(dbPath string) (*Storage, error) {
	// 0700: run history is owner-only
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// currentSchemaVersion is the latest schema version.
// Increment this when adding new migrations.
const currentSchemaVersion = 2

// initSchema creates the schema_version table and runs pending migrations.
func (s *Storage) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	if err := s.migrateSchema(s.SchemaVersion()); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// SchemaVersion returns the current schema version (0 if not set).
func (s *Storage) SchemaVersion() int {
	var version int
	if err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return 0
	}
	return version
}

func (s *Storage) setSchemaVersion(version int) error {
	if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version)
	return err
}

// migrateSchema runs migrations from currentVersion to latest.
func (s *Storage) migrateSchema(currentVersion int) error {
	if currentVersion >= currentSchemaVersion {
		return nil
	}

	// 0 -> 1: runs table
	if currentVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	// 1 -> 2: per-hour cost rows
	if currentVersion < 2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

func (s *Storage) migrateV1() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		pack TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		records INTEGER NOT NULL DEFAULT 0,
		skipped_blocks INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0,
		duration_seconds REAL NOT NULL DEFAULT 0,
		net_kwh REAL NOT NULL DEFAULT 0,
		charged_kwh REAL NOT NULL DEFAULT 0,
		discharged_kwh REAL NOT NULL DEFAULT 0,
		efficiency_percent REAL NOT NULL DEFAULT 100,
		runtime_hours REAL NOT NULL DEFAULT 0,
		unit_price REAL NOT NULL DEFAULT 0,
		total_cost REAL NOT NULL DEFAULT 0,
		cost_per_hour REAL NOT NULL DEFAULT 0,
		alerts TEXT NOT NULL DEFAULT '[]',
		alert_count INTEGER NOT NULL DEFAULT 0,
		system_status TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		ai_cost_usd REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_pack ON runs(pack, timestamp);
	`)
	return err
}

func (s *Storage) migrateV2() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS run_hourly_costs (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		hour_index INTEGER NOT NULL,
		energy_wh REAL NOT NULL,
		cost REAL NOT NULL,
		PRIMARY KEY (run_id, hour_index)
	);
	`)
	return err
}

func (s *Storage) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// SaveRun stores run and its hourly rows in one transaction. ID and a zero
// Timestamp are filled in.
func (s *Storage) SaveRun(run *Run) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	id := s.newID(run.Timestamp)

	alerts := run.Alerts
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO runs (
			id, timestamp, pack, source, records, skipped_blocks, dropped, duration_seconds,
			net_kwh, charged_kwh, discharged_kwh, efficiency_percent,
			runtime_hours, unit_price, total_cost, cost_per_hour,
			alerts, alert_count, system_status, summary,
			input_tokens, output_tokens, ai_cost_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, run.Timestamp.UTC().Format(time.RFC3339), run.Pack, run.Source,
		run.Records, run.SkippedBlocks, run.Dropped, run.DurationSeconds,
		run.NetKWh, run.ChargedKWh, run.DischargedKWh, run.EfficiencyPercent,
		run.RuntimeHours, run.UnitPrice, run.TotalCost, run.CostPerHour,
		string(alertsJSON), len(alerts), run.SystemStatus, run.Summary,
		run.InputTokens, run.OutputTokens, run.AICostUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, h := range run.HourlyCosts {
		if _, err := tx.Exec(
			`INSERT INTO run_hourly_costs (run_id, hour_index, energy_wh, cost) VALUES (?, ?, ?, ?)`,
			id, h.HourIndex, h.EnergyWh, h.Cost,
		); err != nil {
			return fmt.Errorf("failed to insert hourly cost for hour %d: %w", h.HourIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	run.ID = id
	return nil
}

const runColumns = `id, timestamp, pack, source, records, skipped_blocks, dropped, duration_seconds,
	net_kwh, charged_kwh, discharged_kwh, efficiency_percent,
	runtime_hours, unit_price, total_cost, cost_per_hour,
	alerts, system_status, summary, input_tokens, output_tokens, ai_cost_usd`

// GetRecentRuns returns runs from the last N days for pack, newest first.
// HourlyCosts are not loaded; use GetHourlyCosts.
func (s *Storage) GetRecentRuns(days int, pack string) ([]*Run, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)

	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs
		WHERE timestamp >= ? AND pack = ?
		ORDER BY timestamp DESC, id DESC`, cutoff, pack)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// GetHourlyCosts returns the stored hourly breakdown of one run, ascending.
func (s *Storage) GetHourlyCosts(runID string) ([]derive.HourlyCost, error) {
	rows, err := s.db.Query(`SELECT hour_index, energy_wh, cost FROM run_hourly_costs
		WHERE run_id = ? ORDER BY hour_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly costs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hours := []derive.HourlyCost{}
	for rows.Next() {
		var h derive.HourlyCost
		if err := rows.Scan(&h.HourIndex, &h.EnergyWh, &h.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan hourly cost: %w", err)
		}
		h.EnergyKWh = h.EnergyWh / 1000
		hours = append(hours, h)
	}

	return hours, rows.Err()
}

// GetHistoricalContext formats recent runs of pack as context for the AI
// prompt. It returns "" when there is no history.
func (s *Storage) GetHistoricalContext(days int, pack string) (string, error) {
	runs, err := s.GetRecentRuns(days, pack)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Previous %d BMS runs:\n\n", len(runs))

	for i, run := range runs {
		fmt.Fprintf(&b, "%d. %s - %d records over %.1f h\n",
			i+1, run.Timestamp.Format("2006-01-02 15:04"), run.Records, run.DurationSeconds/3600)
		fmt.Fprintf(&b, "   Energy: net %.3f kWh, charged %.3f kWh, discharged %.3f kWh, efficiency %.1f%%\n",
			run.NetKWh, run.ChargedKWh, run.DischargedKWh, run.EfficiencyPercent)
		if run.UnitPrice > 0 {
			fmt.Fprintf(&b, "   Cost: %.2f (%.2f per hour)\n", run.TotalCost, run.CostPerHour)
		}
		if len(run.Alerts) > 0 {
			kinds := make([]string, 0, len(run.Alerts))
			for _, a := range run.Alerts {
				kinds = append(kinds, string(a.Kind))
			}
			fmt.Fprintf(&b, "   Alerts: %s\n", strings.Join(kinds, ", "))
		}
		if run.SystemStatus != "" {
			fmt.Fprintf(&b, "   Status: %s - %s\n", run.SystemStatus, run.Summary)
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}

// CleanupOldRuns deletes runs (and their hourly rows) older than N days.
func (s *Storage) CleanupOldRuns(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM run_hourly_costs
		WHERE run_id IN (SELECT id FROM runs WHERE timestamp < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to cleanup hourly costs: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM runs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	return affected, nil
}

// GetStatistics returns aggregate figures over every stored run of pack.
func (s *Storage) GetStatistics(pack string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var (
		total, withAlerts                int
		charged, discharged, cost, aiUSD float64
	)
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN alert_count > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(charged_kwh), 0),
		       COALESCE(SUM(discharged_kwh), 0),
		       COALESCE(SUM(total_cost), 0),
		       COALESCE(SUM(ai_cost_usd), 0)
		FROM runs WHERE pack = ?`, pack,
	).Scan(&total, &withAlerts, &charged, &discharged, &cost, &aiUSD)
	if err != nil {
		return nil, err
	}
	stats["total_runs"] = total
	stats["runs_with_alerts"] = withAlerts
	stats["total_charged_kwh"] = charged
	stats["total_discharged_kwh"] = discharged
	stats["total_cost"] = cost
	stats["total_ai_cost_usd"] = aiUSD

	rows, err := s.db.Query(`SELECT system_status, COUNT(*) FROM runs
		WHERE pack = ? AND system_status != '' GROUP BY system_status`, pack)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	statusDist := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		statusDist[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["status_distribution"] = statusDist

	return stats, nil
}

// scanRun scans a row selected with runColumns.
func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		run        Run
		timestamp  string
		alertsJSON string
	)

	err := rows.Scan(
		&run.ID, &timestamp, &run.Pack, &run.Source,
		&run.Records, &run.SkippedBlocks, &run.Dropped, &run.DurationSeconds,
		&run.NetKWh, &run.ChargedKWh, &run.DischargedKWh, &run.EfficiencyPercent,
		&run.RuntimeHours, &run.UnitPrice, &run.TotalCost, &run.CostPerHour,
		&alertsJSON, &run.SystemStatus, &run.Summary,
		&run.InputTokens, &run.OutputTokens, &run.AICostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	run.Timestamp, err = time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	if err := json.Unmarshal([]byte(alertsJSON), &run.Alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts: %w", err)
	}

	return &run, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
