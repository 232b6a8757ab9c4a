package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"olx_monitor/models"
)

// SQLiteStore is the local operations database: monitor runs, their log
// lines and the command queue read by the daemon.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitor_runs (
		id INTEGER PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		filters_total INTEGER DEFAULT 0,
		filters_failed INTEGER DEFAULT 0,
		listings_found INTEGER DEFAULT 0,
		listings_new INTEGER DEFAULT 0,
		price_changes INTEGER DEFAULT 0,
		listings_removed INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS monitor_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		filter_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON monitor_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON monitor_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.MonitorRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO monitor_runs (started_at, status, filters_total)
		VALUES (?, ?, ?)`,
		run.StartedAt, run.Status, run.FiltersTotal)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.MonitorRun) error {
	_, err := s.db.Exec(`
		UPDATE monitor_runs SET finished_at = ?, status = ?, filters_total = ?, filters_failed = ?,
			listings_found = ?, listings_new = ?, price_changes = ?, listings_removed = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.FiltersTotal, run.FiltersFailed,
		run.ListingsFound, run.ListingsNew, run.PriceChanges, run.ListingsRemoved, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(id int64) (*models.MonitorRun, error) {
	var run models.MonitorRun
	err := s.db.QueryRow(`
		SELECT id, started_at, finished_at, status, filters_total, filters_failed,
			listings_found, listings_new, price_changes, listings_removed
		FROM monitor_runs WHERE id = ?`, id).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.FiltersTotal, &run.FiltersFailed,
		&run.ListingsFound, &run.ListingsNew, &run.PriceChanges, &run.ListingsRemoved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, filterID string) error {
	_, err := s.db.Exec(`
		INSERT INTO monitor_logs (run_id, timestamp, level, message, filter_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, filterID)
	return err
}

// RecentLogs returns the newest log lines first.
func (s *SQLiteStore) RecentLogs(limit int) ([]models.MonitorLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, COALESCE(filter_id, '')
		FROM monitor_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.MonitorLog
	for rows.Next() {
		var l models.MonitorLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.FilterID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return 0, fmt.Errorf("encode params: %w", err)
		}
	}

	result, err := s.db.Exec(`
		INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, nullString(raw), time.Now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// ParseCommandParams decodes a command's parameters; missing params decode
// to the zero value.
func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
