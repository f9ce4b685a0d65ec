package state

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// RunRecord summarizes one scheduler run.
type RunRecord struct {
	ID         string
	Label      string
	PID        int
	StartedAt  time.Time
	FinishedAt *time.Time
	Completed  int
	Failed     int
	Total      int
}

// SlotRecord summarizes one slot's terminal outcome within a run.
type SlotRecord struct {
	RunID      string
	TaskNumber int
	Title      string
	Domain     string
	Engine     string
	Attempts   int
	Status     string
	Branch     string
	PRNumber   int
	ErrorKind  string
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// BeginRun records the start of a scheduler run and returns its id.
func (db *DB) BeginRun(label string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		"INSERT INTO runs (id, label, pid, started_at) VALUES (?, ?, ?, ?)",
		id, label, os.Getpid(), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("record run start: %w", err)
	}
	return id, nil
}

// FinishRun records a run's aggregate counts and finish time.
func (db *DB) FinishRun(runID string, completed, failed, total int) error {
	_, err := db.Exec(
		"UPDATE runs SET finished_at = ?, completed = ?, failed = ?, total = ? WHERE id = ?",
		time.Now().UTC(), completed, failed, total, runID)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// RecordSlot appends one slot's terminal outcome to the run history.
func (db *DB) RecordSlot(rec *SlotRecord) error {
	_, err := db.Exec(`
		INSERT INTO slot_runs
			(run_id, task_number, title, domain, engine, attempts, status,
			 branch, pr_number, error_kind, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.TaskNumber, rec.Title, rec.Domain, rec.Engine,
		rec.Attempts, rec.Status, rec.Branch, rec.PRNumber, rec.ErrorKind,
		rec.Detail, rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("record slot for task #%d: %w", rec.TaskNumber, err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (db *DB) RecentRuns(limit int) ([]RunRecord, error) {
	rows, err := db.Query(`
		SELECT id, label, pid, started_at, finished_at, completed, failed, total
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Label, &r.PID, &r.StartedAt,
			&r.FinishedAt, &r.Completed, &r.Failed, &r.Total); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SlotsForRun returns all slot records of a run, in insertion order.
func (db *DB) SlotsForRun(runID string) ([]SlotRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, task_number, title, domain, engine, attempts, status,
		       branch, pr_number, error_kind, detail, started_at, finished_at
		FROM slot_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query slot runs: %w", err)
	}
	defer rows.Close()

	var slots []SlotRecord
	for rows.Next() {
		var s SlotRecord
		if err := rows.Scan(&s.RunID, &s.TaskNumber, &s.Title, &s.Domain,
			&s.Engine, &s.Attempts, &s.Status, &s.Branch, &s.PRNumber,
			&s.ErrorKind, &s.Detail, &s.StartedAt, &s.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan slot run: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}
