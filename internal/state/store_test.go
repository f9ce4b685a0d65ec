package state

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)

	id, err := db.BeginRun("nightly")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty run id")
	}

	if err := db.FinishRun(id, 4, 1, 5); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := db.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	r := runs[0]
	if r.ID != id || r.Label != "nightly" {
		t.Errorf("run = %+v", r)
	}
	if r.Completed != 4 || r.Failed != 1 || r.Total != 5 {
		t.Errorf("counts = %d/%d/%d, want 4/1/5", r.Completed, r.Failed, r.Total)
	}
	if r.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	db := newTestDB(t)

	var last string
	for i := 0; i < 3; i++ {
		id, err := db.BeginRun("batch")
		if err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
		last = id
		// started_at has second-level ties broken nondeterministically;
		// space the inserts out.
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := db.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != last {
		t.Errorf("newest run first: got %s, want %s", runs[0].ID, last)
	}
}

func TestRecordAndListSlots(t *testing.T) {
	db := newTestDB(t)

	runID, err := db.BeginRun("nightly")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	now := time.Now()
	records := []*SlotRecord{
		{RunID: runID, TaskNumber: 12, Title: "Fix login", Domain: "backend",
			Engine: "claude", Attempts: 1, Status: "done", Branch: "herd/task-12-abc",
			PRNumber: 88, StartedAt: now, FinishedAt: now.Add(time.Minute)},
		{RunID: runID, TaskNumber: 15, Title: "Update styles", Domain: "frontend",
			Engine: "opencode", Attempts: 3, Status: "blocked", ErrorKind: "crash",
			Detail: "exit code 2", StartedAt: now, FinishedAt: now.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := db.RecordSlot(rec); err != nil {
			t.Fatalf("RecordSlot #%d: %v", rec.TaskNumber, err)
		}
	}

	slots, err := db.SlotsForRun(runID)
	if err != nil {
		t.Fatalf("SlotsForRun: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if slots[0].TaskNumber != 12 || slots[0].Status != "done" || slots[0].PRNumber != 88 {
		t.Errorf("first slot = %+v", slots[0])
	}
	if slots[1].Status != "blocked" || slots[1].ErrorKind != "crash" || slots[1].Attempts != 3 {
		t.Errorf("second slot = %+v", slots[1])
	}
}
