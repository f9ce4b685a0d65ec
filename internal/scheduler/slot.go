// Package scheduler drives a backlog of tasks through a bounded window of
// concurrently running engine slots, serializing merges back into the
// shared base branch.
package scheduler

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/herd/internal/engine"
	"github.com/ShayCichocki/herd/pkg/models"
)

// Slot is one unit of in-flight work bound to a task. It is owned
// exclusively by the Scheduler; all mutation goes through the transition
// logic.
type Slot struct {
	// ID is the slot's sequence number within the run.
	ID int
	// Task is the work item this slot processes.
	Task models.Task
	// Engine is the variant that produced the last result.
	Engine engine.Variant
	// Attempts counts engine invocations for this task.
	Attempts int
	// Status is the current state machine position.
	Status models.SlotStatus
	// Branch is the feature branch for this attempt.
	Branch string
	// WorktreePath is the isolated checkout, empty once cleaned up.
	WorktreePath string
	// LastResult is the most recent engine outcome.
	LastResult *engine.Result
	// StartedAt and FinishedAt bracket the slot's lifetime.
	StartedAt  time.Time
	FinishedAt time.Time
	// ErrorKind classifies the terminal failure for blocked slots.
	ErrorKind string
	// Detail is a human-readable description of the terminal failure.
	Detail string
	// PRNumber is the created pull request, 0 if none.
	PRNumber int
}

// newSlot creates a pending slot for a task.
func newSlot(id int, task models.Task) *Slot {
	return &Slot{
		ID:        id,
		Task:      task,
		Status:    models.SlotPending,
		StartedAt: time.Now(),
	}
}

// slotTransitions is the full set of legal state changes. Terminal states
// have no outgoing edges.
var slotTransitions = map[models.SlotStatus][]models.SlotStatus{
	models.SlotPending: {models.SlotRunning, models.SlotFailed},
	models.SlotRunning: {models.SlotMerging, models.SlotPending, models.SlotFailed},
	models.SlotMerging: {models.SlotDone, models.SlotPending, models.SlotFailed},
	models.SlotFailed:  {models.SlotBlocked},
	models.SlotDone:    {},
	models.SlotBlocked: {},
}

// transition moves the slot to a new status, enforcing the state machine.
// An illegal transition is a programming error and is returned, never
// silently applied.
func (s *Slot) transition(to models.SlotStatus) error {
	for _, allowed := range slotTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			if to.Terminal() {
				s.FinishedAt = time.Now()
			}
			return nil
		}
	}
	return fmt.Errorf("slot %d (task #%d): illegal transition %s -> %s",
		s.ID, s.Task.Number, s.Status, to)
}

// retry resets a failed attempt back to pending. An attempt that failed
// before the slot ever left pending (workspace setup) is already there, so
// the reset is a no-op. The attempt counter was already advanced when the
// attempt started.
func (s *Slot) retry() error {
	if s.Status == models.SlotPending {
		return nil
	}
	return s.transition(models.SlotPending)
}

// block moves the slot through failed into blocked, recording why.
func (s *Slot) block(kind, detail string) error {
	if s.Status != models.SlotFailed {
		if err := s.transition(models.SlotFailed); err != nil {
			return err
		}
	}
	s.ErrorKind = kind
	s.Detail = detail
	return s.transition(models.SlotBlocked)
}
