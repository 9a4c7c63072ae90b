// Package trace journals engine runs as hash-chained event sequences in a
// SQL store. Each event carries the hash of its predecessor, so a run's
// history can be verified after the fact and any tampering localized.
package trace

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("lumen.trace")

// GenesisHash anchors the chain of every run.
const GenesisHash = "sha256:genesis"

// Event is one journaled engine event.
type Event struct {
	RunID     string         `json:"run_id"`
	Seq       int64          `json:"seq"`
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"ts"`
	Cell      string         `json:"cell,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// Store persists runs and their event chains. Driver is "sqlite3" or
// "duckdb"; both speak database/sql.
type Store struct {
	db     *sql.DB
	driver string
}

// Open creates or opens a trace store at path with the given driver.
func Open(driver, path string) (*Store, error) {
	switch driver {
	case "sqlite3", "duckdb":
	default:
		return nil, fmt.Errorf("trace: unknown driver %q", driver)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("trace: opening database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if s.driver == "sqlite3" {
		if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			return fmt.Errorf("trace: setting busy timeout: %w", err)
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id     TEXT PRIMARY KEY,
			doc_hash   TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at   TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id    TEXT NOT NULL,
			seq       BIGINT NOT NULL,
			kind      TEXT NOT NULL,
			ts        TIMESTAMP NOT NULL,
			cell      TEXT,
			message   TEXT,
			details   TEXT,
			prev_hash TEXT NOT NULL,
			hash      TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("trace: creating tables: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) beginRun(runID, docHash string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO runs (run_id, doc_hash, started_at) VALUES (?, ?, ?)",
		runID, docHash, at,
	)
	if err != nil {
		return fmt.Errorf("trace: begin run: %w", err)
	}
	return nil
}

func (s *Store) endRun(runID string, at time.Time) error {
	_, err := s.db.Exec("UPDATE runs SET ended_at = ? WHERE run_id = ?", at, runID)
	if err != nil {
		return fmt.Errorf("trace: end run: %w", err)
	}
	return nil
}

func (s *Store) append(e *Event) error {
	var details any
	if e.Details != nil {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("trace: encoding details: %w", err)
		}
		details = string(raw)
	}
	_, err := s.db.Exec(
		`INSERT INTO events (run_id, seq, kind, ts, cell, message, details, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Seq, e.Kind, e.Timestamp, e.Cell, e.Message, details, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("trace: appending event: %w", err)
	}
	return nil
}

// Events returns a run's events in sequence order.
func (s *Store) Events(runID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT seq, kind, ts, cell, message, details, prev_hash, hash
		 FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("trace: reading events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e := Event{RunID: runID}
		var cell, message, details sql.NullString
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Timestamp, &cell, &message, &details, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("trace: scanning event: %w", err)
		}
		e.Cell = cell.String
		e.Message = message.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("trace: decoding details of event %d: %w", e.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs lists run ids, newest first.
func (s *Store) Runs() ([]string, error) {
	rows, err := s.db.Query("SELECT run_id FROM runs ORDER BY started_at DESC")
	if err != nil {
		return nil, fmt.Errorf("trace: listing runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Verify recomputes a run's hash chain and reports the first divergence.
func (s *Store) Verify(runID string) error {
	events, err := s.Events(runID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("trace: run %s has no events", runID)
	}
	prev := GenesisHash
	for i := range events {
		e := &events[i]
		if e.PrevHash != prev {
			return fmt.Errorf("trace: run %s event %d: chain broken (prev_hash %s, expected %s)",
				runID, e.Seq, e.PrevHash, prev)
		}
		if got := eventHash(e); got != e.Hash {
			return fmt.Errorf("trace: run %s event %d: hash mismatch", runID, e.Seq)
		}
		prev = e.Hash
	}
	log.Debugf("run %s verified (%d events)", runID, len(events))
	return nil
}

// eventHash computes the chained hash over the event's canonical JSON form
// with the hash field cleared.
func eventHash(e *Event) string {
	clone := *e
	clone.Hash = ""
	raw, err := json.Marshal(&clone)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("sha256:%x", sha256.Sum256(raw))
}
