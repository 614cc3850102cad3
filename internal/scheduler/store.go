package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one persisted scheduled-transfer row, per §4.8: a cron
// expression, the worker task name, and the frozen CLI argument list
// the scheduler hands to the worker on each beat.
type Entry struct {
	Key        string // <prefix><transfer_uuid>
	TransferID string
	CronExpr   string
	TaskName   string
	Args       []string
	Enabled    bool
	UpdatedAt  time.Time
}

// store is the sqlite-backed persistence layer, adapted from the
// teacher's internal/db package: `scheduled_transfers` replaces
// `scheduled_tasks`/`migration_jobs` as the one table this engine owns.
type store struct {
	db *sql.DB
}

func openStore(path string) (*store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scheduler: creating store dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("scheduler: opening store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("scheduler: pinging store: %w", err)
	}
	s := &store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS scheduled_transfers (
		key TEXT PRIMARY KEY,
		transfer_id TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		task_name TEXT NOT NULL,
		args_json TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	)`)
	return err
}

func (s *store) get(key string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT key, transfer_id, cron_expr, task_name, args_json, enabled, updated_at
		FROM scheduled_transfers WHERE key = ?`, key)

	var e Entry
	var argsJSON string
	if err := row.Scan(&e.Key, &e.TransferID, &e.CronExpr, &e.TaskName, &argsJSON, &e.Enabled, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(argsJSON), &e.Args); err != nil {
		return nil, fmt.Errorf("scheduler: decoding stored args for %s: %w", key, err)
	}
	return &e, nil
}

func (s *store) upsert(e Entry) error {
	argsJSON, err := json.Marshal(e.Args)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO scheduled_transfers (key, transfer_id, cron_expr, task_name, args_json, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			cron_expr = excluded.cron_expr,
			task_name = excluded.task_name,
			args_json = excluded.args_json,
			updated_at = excluded.updated_at`,
		e.Key, e.TransferID, e.CronExpr, e.TaskName, string(argsJSON), e.Enabled, e.UpdatedAt)
	return err
}

func (s *store) setEnabled(key string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE scheduled_transfers SET enabled = ?, updated_at = ? WHERE key = ?`,
		enabled, time.Now().UTC(), key)
	return err
}

func (s *store) delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_transfers WHERE key = ?`, key)
	return err
}

func (s *store) listEnabled() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT key, transfer_id, cron_expr, task_name, args_json, enabled, updated_at
		FROM scheduled_transfers WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var argsJSON string
		if err := rows.Scan(&e.Key, &e.TransferID, &e.CronExpr, &e.TaskName, &argsJSON, &e.Enabled, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(argsJSON), &e.Args); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *store) close() error { return s.db.Close() }
