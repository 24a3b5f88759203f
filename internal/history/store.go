// Package history persists a journal of observed rule changes so
// operators can answer "when did this rule flip" across restarts.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one journaled rule change.
type Entry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Generation uint64    `json:"generation"`
	Change     string    `json:"change"` // added|removed|modified
	RuleID     string    `json:"rule_id"`
	Summary    string    `json:"summary,omitempty"`
}

// Store is a sqlite-backed change journal.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	retentionDays int
}

// NewStore opens (and if needed creates) the journal at the given path.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rule_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			generation INTEGER NOT NULL,
			change TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			summary TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_changes_timestamp ON rule_changes(timestamp);
		CREATE INDEX IF NOT EXISTS idx_changes_rule ON rule_changes(rule_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &Store{db: db, retentionDays: retentionDays}, nil
}

// RecordChange journals one rule change. Satisfies the coordinator's
// ChangeRecorder interface.
func (s *Store) RecordChange(generation uint64, change, ruleID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO rule_changes (timestamp, generation, change, rule_id, summary)
		VALUES (?, ?, ?, ?, ?)
	`, time.Now().UTC(), generation, change, ruleID, summary)
	if err != nil {
		return fmt.Errorf("insert rule change: %w", err)
	}
	return nil
}

// Recent returns the newest entries, optionally filtered by rule id.
func (s *Store) Recent(ruleID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, timestamp, generation, change, rule_id, summary
		FROM rule_changes`
	args := []any{}
	if ruleID != "" {
		query += " WHERE rule_id = ?"
		args = append(args, ruleID)
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT %d", limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rule changes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var summary sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Generation, &e.Change, &e.RuleID, &summary); err != nil {
			return nil, fmt.Errorf("scan rule change: %w", err)
		}
		if summary.Valid {
			e.Summary = summary.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune removes entries older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.Exec("DELETE FROM rule_changes WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune rule changes: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of journaled entries.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM rule_changes").Scan(&count)
	return count, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
