// Package store is the alert journal: every alert the engine emits can be
// appended to a SQLite database and queried later.
//
// Only results are recorded. Window state lives in memory and is lost on
// restart.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/daviddao/correlog/pkg/model"
)

// DefaultLimit applies when a list call passes limit <= 0.
const DefaultLimit = 100

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		action_id    TEXT NOT NULL,
		context_id   TEXT NOT NULL,
		context_name TEXT NOT NULL DEFAULT '',
		window_len   INTEGER NOT NULL,
		injected     INTEGER NOT NULL DEFAULT 0,
		message      TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_context ON alerts(context_name, id);
	CREATE INDEX IF NOT EXISTS idx_alerts_action ON alerts(action_id);
	`
	return retryOnContention(func() error {
		_, err := s.db.Exec(schema)
		return err
	})
}

// InsertAlert appends a to the journal. Returns the row ID.
func (s *Store) InsertAlert(a *model.Alert) (int64, error) {
	if a == nil || a.Message == nil {
		return 0, fmt.Errorf("insert alert: alert has no message")
	}
	body, err := json.Marshal(a.Message)
	if err != nil {
		return 0, fmt.Errorf("encode alert message: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var lastID int64
	err = retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO alerts (action_id, context_id, context_name, window_len, injected, message, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ActionID, a.ContextID, a.ContextName, a.WindowLen, boolToInt(a.Inject), string(body), now,
		)
		if err != nil {
			return err
		}
		lastID, err = res.LastInsertId()
		return err
	})
	return lastID, err
}

const selectAlerts = `SELECT id, action_id, context_id, context_name, window_len, injected, message, created_at FROM alerts`

// ListAlerts returns alerts with row ID > sinceID, oldest first.
func (s *Store) ListAlerts(sinceID int64, limit int) ([]model.JournaledAlert, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.Query(selectAlerts+` WHERE id > ? ORDER BY id ASC LIMIT ?`, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ListAlertsForContext is ListAlerts restricted to one context name.
func (s *Store) ListAlertsForContext(contextName string, sinceID int64, limit int) ([]model.JournaledAlert, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.Query(
		selectAlerts+` WHERE context_name = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		contextName, sinceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// MaxAlertID returns the highest alert row ID, or 0 if the journal is empty.
func (s *Store) MaxAlertID() int64 {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM alerts`).Scan(&id); err != nil {
		return 0
	}
	return id
}

// CountAlerts returns the number of journaled alerts.
func (s *Store) CountAlerts() int64 {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&count); err != nil {
		return 0
	}
	return count
}

func scanAlerts(rows *sql.Rows) ([]model.JournaledAlert, error) {
	var alerts []model.JournaledAlert
	for rows.Next() {
		var (
			ja         model.JournaledAlert
			injected   int
			body       string
			createdStr string
		)
		if err := rows.Scan(&ja.ID, &ja.ActionID, &ja.ContextID, &ja.ContextName,
			&ja.WindowLen, &injected, &body, &createdStr); err != nil {
			return nil, err
		}
		ja.Inject = injected != 0
		var msg model.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("decode message of alert %d: %w", ja.ID, err)
		}
		ja.Message = &msg
		var parseErr error
		ja.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse created_at time for alert %d: %w", ja.ID, parseErr)
		}
		alerts = append(alerts, ja)
	}
	return alerts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
