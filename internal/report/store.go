// Package report persists finished test runs as immutable protocol
// records in DuckDB.
package report

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/report/migrate"
)

// ErrNotFound is returned for unknown protocol ids or step indexes.
var ErrNotFound = errors.New("report: protocol not found")

// Store manages the protocol database. A protocol and its step rows are
// always written and deleted in one transaction, so readers never observe
// a partially present record.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the protocol database. An empty dbPath uses an
// in-memory database (tests).
func NewStore(dbPath string) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write stores a finished or aborted run as a new protocol record and
// returns it with its assigned identifier.
func (s *Store) Write(p model.TestProtocol) (model.TestProtocol, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.FinishedAt.IsZero() {
		p.FinishedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return model.TestProtocol{}, fmt.Errorf("report: begin: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO protocols (id, config_id, name, aborted, finished_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.ConfigID, p.Name, p.Aborted, p.FinishedAt,
	); err != nil {
		tx.Rollback()
		return model.TestProtocol{}, fmt.Errorf("report: insert protocol: %w", err)
	}
	for _, step := range p.Steps {
		if _, err := tx.Exec(
			"INSERT INTO protocol_steps (protocol_id, step_index, kind, status, log) VALUES (?, ?, ?, ?, ?)",
			p.ID, step.Index, string(step.Kind), string(step.Status), step.Log,
		); err != nil {
			tx.Rollback()
			return model.TestProtocol{}, fmt.Errorf("report: insert step %d: %w", step.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.TestProtocol{}, fmt.Errorf("report: commit: %w", err)
	}
	return p, nil
}

// List returns all stored protocols, newest first, without step logs.
func (s *Store) List() ([]model.TestProtocol, error) {
	rows, err := s.db.Query(
		"SELECT id, config_id, name, aborted, finished_at FROM protocols ORDER BY finished_at DESC, id",
	)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	defer rows.Close()

	protocols := []model.TestProtocol{}
	for rows.Next() {
		var p model.TestProtocol
		if err := rows.Scan(&p.ID, &p.ConfigID, &p.Name, &p.Aborted, &p.FinishedAt); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		protocols = append(protocols, p)
	}
	return protocols, rows.Err()
}

// Get returns one protocol with its steps (log bodies included).
func (s *Store) Get(id string) (model.TestProtocol, error) {
	var p model.TestProtocol
	err := s.db.QueryRow(
		"SELECT id, config_id, name, aborted, finished_at FROM protocols WHERE id = ?", id,
	).Scan(&p.ID, &p.ConfigID, &p.Name, &p.Aborted, &p.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TestProtocol{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return model.TestProtocol{}, fmt.Errorf("report: get: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT step_index, kind, status, log FROM protocol_steps WHERE protocol_id = ? ORDER BY step_index", id,
	)
	if err != nil {
		return model.TestProtocol{}, fmt.Errorf("report: steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step model.ProtocolStep
		var kind, status string
		if err := rows.Scan(&step.Index, &kind, &status, &step.Log); err != nil {
			return model.TestProtocol{}, fmt.Errorf("report: scan step: %w", err)
		}
		step.Kind = model.TestKind(kind)
		step.Status = model.StepStatus(status)
		p.Steps = append(p.Steps, step)
	}
	return p, rows.Err()
}

// StepLog returns the recorded log of a single step.
func (s *Store) StepLog(id string, index int) (string, error) {
	var log string
	err := s.db.QueryRow(
		"SELECT log FROM protocol_steps WHERE protocol_id = ? AND step_index = ?", id, index,
	).Scan(&log)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q step %d", ErrNotFound, id, index)
	}
	if err != nil {
		return "", fmt.Errorf("report: step log: %w", err)
	}
	return log, nil
}

// Delete removes a protocol and all of its step rows as one unit.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("report: begin delete: %w", err)
	}
	res, err := tx.Exec("DELETE FROM protocols WHERE id = ?", id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("report: delete protocol: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM protocol_steps WHERE protocol_id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("report: delete steps: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("report: rows affected: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return tx.Commit()
}
