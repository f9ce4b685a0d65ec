// Package workspace manages per-task git worktrees and the merge-back of
// finished branches into the shared base branch. It layers branch
// bookkeeping (an append-only per-branch ledger) and merge semantics on top
// of the git primitives.
package workspace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LedgerAction is a lifecycle event recorded for a branch.
type LedgerAction string

const (
	// ActionCreate records branch and worktree creation.
	ActionCreate LedgerAction = "create"
	// ActionMerge records a successful merge into the base branch.
	ActionMerge LedgerAction = "merge"
	// ActionDelete records branch/worktree removal after completion.
	ActionDelete LedgerAction = "delete"
	// ActionAbandon records removal of work that never merged.
	ActionAbandon LedgerAction = "abandon"
)

// LedgerEntry is one immutable audit record. Entries are appended, never
// rewritten.
type LedgerEntry struct {
	Timestamp  time.Time    `json:"timestamp"`
	Action     LedgerAction `json:"action"`
	Branch     string       `json:"branch"`
	Worktree   string       `json:"worktree,omitempty"`
	TaskNumber int          `json:"task_number"`
	PID        int          `json:"pid"`
	Detail     string       `json:"detail,omitempty"`
}

// Ledger stores one append-only JSONL file per branch under a directory.
// Files are keyed by a content hash of the branch name so arbitrary branch
// names never produce awkward file names.
type Ledger struct {
	dir string
	pid int
}

// NewLedger creates a Ledger rooted at dir, creating it if needed.
func NewLedger(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Ledger{dir: dir, pid: os.Getpid()}, nil
}

// pathFor returns the ledger file path for a branch.
func (l *Ledger) pathFor(branch string) string {
	sum := sha256.Sum256([]byte(branch))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:])[:16]+".jsonl")
}

// Append records one entry for the branch. The timestamp and pid are filled
// in here.
func (l *Ledger) Append(action LedgerAction, branch, worktree string, taskNumber int, detail string) error {
	entry := LedgerEntry{
		Timestamp:  time.Now().UTC(),
		Action:     action,
		Branch:     branch,
		Worktree:   worktree,
		TaskNumber: taskNumber,
		PID:        l.pid,
		Detail:     detail,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}

	f, err := os.OpenFile(l.pathFor(branch), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Read returns the recorded history for a branch in append order. Corrupt
// lines are skipped, never repaired; a missing ledger yields an empty
// history.
func (l *Ledger) Read(branch string) ([]LedgerEntry, error) {
	f, err := os.Open(l.pathFor(branch))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var entries []LedgerEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry LedgerEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read ledger: %w", err)
	}
	return entries, nil
}
