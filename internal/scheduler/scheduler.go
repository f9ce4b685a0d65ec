package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/herd/internal/classify"
	"github.com/ShayCichocki/herd/internal/coord"
	"github.com/ShayCichocki/herd/internal/engine"
	"github.com/ShayCichocki/herd/internal/pr"
	"github.com/ShayCichocki/herd/internal/state"
	"github.com/ShayCichocki/herd/internal/workspace"
	"github.com/ShayCichocki/herd/pkg/models"
)

// EngineDriver runs a prompt through the engine chain. Satisfied by
// *engine.FallbackController.
type EngineDriver interface {
	Run(ctx context.Context, prompt, cwd string, timeout time.Duration, task engine.TaskContext) *engine.Result
}

// WorkspaceManager is the workspace surface the scheduler needs. Satisfied
// by *workspace.Manager.
type WorkspaceManager interface {
	CleanupOrphans() (int, error)
	Create(taskNumber int) (*workspace.Workspace, error)
	CommitAll(ws *workspace.Workspace, message string) (bool, error)
	MergeBack(ws *workspace.Workspace) (*workspace.MergeResult, error)
	Remove(ws *workspace.Workspace, merged bool) error
	BaseBranch() string
}

// Coordinator is the cross-process coordination surface. Satisfied by
// *coord.Coordinator.
type Coordinator interface {
	AcquireClaim(taskNumber int) (bool, error)
	ReleaseClaim(taskNumber int) error
	AcquireInstanceLock(label string) (*coord.InstanceLock, error)
	ReleaseInstanceLock() error
	ConflictingInstance(label string) (*coord.InstanceLock, error)
}

// IssueGateway is the task-tracker surface. Optional: a nil gateway means
// outcomes are only logged.
type IssueGateway interface {
	Close(number int, comment string) error
	Comment(number int, body string) error
	CommentAttempt(number, attempt int, reason string) error
	AddLabel(number int, label string) error
	DetectRepeatCycle(number int) (bool, error)
}

// PRGateway publishes merged branches. Optional.
type PRGateway interface {
	Push(branch string) error
	Create(head, base, title, body string, draft bool) (*pr.PullRequest, error)
}

// History persists run outcomes. Optional. Satisfied by *state.DB.
type History interface {
	BeginRun(label string) (string, error)
	FinishRun(runID string, completed, failed, total int) error
	RecordSlot(rec *state.SlotRecord) error
}

// Options configures a scheduler run.
type Options struct {
	// WindowSize is the number of concurrently occupied slots.
	WindowSize int
	// MaxRetries bounds engine attempts per task.
	MaxRetries int
	// EngineTimeout is the wall-clock budget per engine invocation.
	EngineTimeout time.Duration
	// Label identifies this scheduler instance for conflict detection.
	Label string
	// BlockedLabel is attached to issues whose slots end blocked.
	BlockedLabel string
	// OpenPRs enables pushing merged branches and opening pull requests.
	OpenPRs bool
	// DraftPRs opens pull requests as drafts.
	DraftPRs bool
}

// Summary is the aggregate outcome of a run.
type Summary struct {
	// Completed counts slots that reached done.
	Completed int
	// Failed counts slots that ended blocked.
	Failed int
	// Skipped counts tasks dropped without running: claim denied or owned
	// by another process.
	Skipped int
	// Total is the backlog size the run started with.
	Total int
}

// Scheduler fills a bounded window of slots from a task backlog and drives
// each slot to a terminal state. It tolerates any individual slot failure
// and always drains the whole backlog.
type Scheduler struct {
	opts       Options
	classifier *classify.Classifier
	coord      Coordinator
	workspaces WorkspaceManager
	engines    EngineDriver
	issues     IssueGateway
	prs        PRGateway
	history    History

	// mergeMu serializes merge-backs: slots finish concurrently, but only
	// one may land on the shared base branch at a time.
	mergeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Scheduler. issues, prs, and history may be nil.
func New(opts Options, classifier *classify.Classifier, coordinator Coordinator,
	workspaces WorkspaceManager, engines EngineDriver,
	issues IssueGateway, prs PRGateway, history History) (*Scheduler, error) {
	if opts.WindowSize < 1 {
		return nil, fmt.Errorf("window size must be at least 1, got %d", opts.WindowSize)
	}
	if opts.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be at least 1, got %d", opts.MaxRetries)
	}
	return &Scheduler{
		opts:       opts,
		classifier: classifier,
		coord:      coordinator,
		workspaces: workspaces,
		engines:    engines,
		issues:     issues,
		prs:        prs,
		history:    history,
	}, nil
}

// Kill cancels all active engine runs. It is the only supported
// cancellation path; the run loop unwinds every active slot, releases
// claims and the instance lock, and Run returns.
func (s *Scheduler) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Run processes the backlog to completion and returns aggregate counts.
func (s *Scheduler) Run(ctx context.Context, tasks []models.Task) (*Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	conflict, err := s.coord.ConflictingInstance(s.opts.Label)
	if err != nil {
		return nil, fmt.Errorf("check running instances: %w", err)
	}
	if conflict != nil {
		return nil, fmt.Errorf("another instance with label %q is already running (pid %d on %s)",
			s.opts.Label, conflict.PID, conflict.Hostname)
	}
	if _, err := s.coord.AcquireInstanceLock(s.opts.Label); err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	defer func() {
		if err := s.coord.ReleaseInstanceLock(); err != nil {
			log.Printf("[scheduler] release instance lock: %v", err)
		}
	}()

	if _, err := s.workspaces.CleanupOrphans(); err != nil {
		log.Printf("[scheduler] orphan cleanup: %v", err)
	}

	var runID string
	if s.history != nil {
		if runID, err = s.history.BeginRun(s.opts.Label); err != nil {
			log.Printf("[scheduler] record run start: %v", err)
			runID = ""
		}
	}

	backlog := make([]models.Task, len(tasks))
	copy(backlog, tasks)
	for i := range backlog {
		if !backlog[i].Domain.Valid() {
			backlog[i].Domain = s.classifier.Classify(&backlog[i])
		}
	}

	summary := &Summary{Total: len(backlog)}
	active := make(map[int]*Slot)
	doneCh := make(chan *Slot)
	slotSeq := 0

	log.Printf("[scheduler] starting: %d task(s), window %d", len(backlog), s.opts.WindowSize)

	for len(backlog) > 0 || len(active) > 0 {
		for len(active) < s.opts.WindowSize && len(backlog) > 0 && runCtx.Err() == nil {
			idx := s.nextEligible(backlog, active)
			if idx < 0 {
				// Domain conflicts block every remaining task; wait for a
				// slot to free instead of deadlocking.
				break
			}
			task := backlog[idx]
			backlog = append(backlog[:idx], backlog[idx+1:]...)

			slot, started := s.startSlot(runCtx, &slotSeq, task, doneCh)
			if slot == nil {
				summary.Skipped++
				continue
			}
			if !started {
				// Blocked at preflight, already terminal.
				summary.Failed++
				s.recordSlot(runID, slot)
				continue
			}
			active[slot.ID] = slot
		}

		if len(active) == 0 {
			if len(backlog) == 0 || runCtx.Err() != nil {
				break
			}
			continue
		}

		select {
		case slot := <-doneCh:
			delete(active, slot.ID)
			if slot.Status == models.SlotDone {
				summary.Completed++
			} else {
				summary.Failed++
			}
			s.recordSlot(runID, slot)
		case <-runCtx.Done():
			log.Printf("[scheduler] kill requested, waiting for %d active slot(s)", len(active))
			for len(active) > 0 {
				slot := <-doneCh
				delete(active, slot.ID)
				if slot.Status == models.SlotDone {
					summary.Completed++
				} else {
					summary.Failed++
				}
				s.recordSlot(runID, slot)
			}
			backlog = nil
		}
	}

	if s.history != nil && runID != "" {
		if err := s.history.FinishRun(runID, summary.Completed, summary.Failed, summary.Total); err != nil {
			log.Printf("[scheduler] record run finish: %v", err)
		}
	}

	log.Printf("[scheduler] finished: %d completed, %d failed, %d skipped of %d",
		summary.Completed, summary.Failed, summary.Skipped, summary.Total)
	if err := runCtx.Err(); err != nil && ctx.Err() == nil {
		// Killed rather than parent-canceled: the partial summary stands.
		return summary, nil
	}
	return summary, ctx.Err()
}

// nextEligible returns the index of the first backlog task whose domain is
// safe to run alongside every occupied slot, or -1.
func (s *Scheduler) nextEligible(backlog []models.Task, active map[int]*Slot) int {
	for i := range backlog {
		eligible := true
		for _, slot := range active {
			if !s.classifier.SafeParallel(backlog[i].Domain, slot.Task.Domain) {
				eligible = false
				break
			}
		}
		if eligible {
			return i
		}
	}
	return -1
}

// startSlot claims the task and launches its worker goroutine. Returns
// (nil, false) when the task was skipped, (slot, false) when it was blocked
// at preflight, and (slot, true) when the worker is running.
func (s *Scheduler) startSlot(ctx context.Context, slotSeq *int, task models.Task, doneCh chan<- *Slot) (*Slot, bool) {
	claimed, err := s.coord.AcquireClaim(task.Number)
	if err != nil {
		log.Printf("[scheduler] task #%d: claim error, skipping: %v", task.Number, err)
		return nil, false
	}
	if !claimed {
		log.Printf("[scheduler] task #%d: claimed by another process, skipping", task.Number)
		return nil, false
	}

	*slotSeq++
	slot := newSlot(*slotSeq, task)

	if s.issues != nil {
		cycling, err := s.issues.DetectRepeatCycle(task.Number)
		if err != nil {
			log.Printf("[scheduler] task #%d: repeat-cycle check: %v", task.Number, err)
		} else if cycling {
			log.Printf("[scheduler] task #%d: repeated failures across runs, blocking", task.Number)
			if err := slot.block("repeat_cycle", "failed repeatedly across previous runs"); err != nil {
				log.Printf("[scheduler] %v", err)
			}
			s.reportBlocked(slot)
			if err := s.coord.ReleaseClaim(task.Number); err != nil {
				log.Printf("[scheduler] task #%d: release claim: %v", task.Number, err)
			}
			return slot, false
		}
	}

	go s.runSlot(ctx, slot, doneCh)
	return slot, true
}

// runSlot drives one slot through attempts until it is terminal.
func (s *Scheduler) runSlot(ctx context.Context, slot *Slot, done chan<- *Slot) {
	defer func() { done <- slot }()
	defer func() {
		if err := s.coord.ReleaseClaim(slot.Task.Number); err != nil {
			log.Printf("[scheduler] task #%d: release claim: %v", slot.Task.Number, err)
		}
	}()

	for {
		slot.Attempts++
		outcome := s.attempt(ctx, slot)

		switch {
		case outcome.terminal:
			return
		case slot.Attempts >= s.opts.MaxRetries || ctx.Err() != nil:
			if err := slot.block(outcome.errKind, outcome.detail); err != nil {
				log.Printf("[scheduler] %v", err)
			}
			s.reportBlocked(slot)
			return
		default:
			log.Printf("[scheduler] task #%d: attempt %d failed (%s), retrying",
				slot.Task.Number, slot.Attempts, outcome.errKind)
			if s.issues != nil {
				if err := s.issues.CommentAttempt(slot.Task.Number, slot.Attempts, outcome.detail); err != nil {
					log.Printf("[scheduler] task #%d: attempt comment: %v", slot.Task.Number, err)
				}
			}
			if err := slot.retry(); err != nil {
				log.Printf("[scheduler] %v", err)
				return
			}
		}
	}
}

// attemptOutcome reports how one attempt ended. terminal means the slot
// reached done or blocked and must not be retried.
type attemptOutcome struct {
	terminal bool
	errKind  string
	detail   string
}

// attempt runs one full engine-and-merge pass for the slot.
func (s *Scheduler) attempt(ctx context.Context, slot *Slot) attemptOutcome {
	ws, err := s.workspaces.Create(slot.Task.Number)
	if err != nil {
		return attemptOutcome{errKind: "workspace", detail: err.Error()}
	}
	slot.Branch = ws.Branch
	slot.WorktreePath = ws.Path

	merged := false
	defer func() {
		if err := s.workspaces.Remove(ws, merged); err != nil {
			log.Printf("[scheduler] task #%d: workspace cleanup: %v", slot.Task.Number, err)
		}
		slot.WorktreePath = ""
	}()

	if err := slot.transition(models.SlotRunning); err != nil {
		return attemptOutcome{errKind: "internal", detail: err.Error()}
	}

	result := s.engines.Run(ctx, buildPrompt(slot.Task), ws.Path, s.opts.EngineTimeout,
		engine.TaskContext{TaskNumber: slot.Task.Number, Domain: string(slot.Task.Domain)})
	slot.LastResult = result
	slot.Engine = result.Engine

	if !result.Success {
		return attemptOutcome{errKind: string(result.ErrorKind), detail: result.Detail}
	}

	committed, err := s.workspaces.CommitAll(ws, fmt.Sprintf("herd: task #%d %s", slot.Task.Number, slot.Task.Title))
	if err != nil {
		return attemptOutcome{errKind: "commit", detail: err.Error()}
	}
	if !committed {
		// The engine exited cleanly but left the worktree unchanged. For
		// stuck results this confirms the tool-log signal; for shell-tool
		// runs this is the authoritative diff check.
		kind := engine.ErrorNoCodeChanges
		if result.ErrorKind == engine.ErrorStuck {
			kind = engine.ErrorStuck
		}
		return attemptOutcome{errKind: string(kind), detail: "engine produced no code changes"}
	}
	if result.ErrorKind == engine.ErrorStuck {
		// The tool log saw nothing but the diff check did; trust the diff.
		result.ErrorKind = engine.ErrorNone
	}

	if err := slot.transition(models.SlotMerging); err != nil {
		return attemptOutcome{errKind: "internal", detail: err.Error()}
	}

	s.mergeMu.Lock()
	_, mergeErr := s.workspaces.MergeBack(ws)
	s.mergeMu.Unlock()
	if mergeErr != nil {
		var conflict *workspace.ConflictError
		if errors.As(mergeErr, &conflict) {
			// Conflicts need a human; retrying the same engine run would
			// collide again.
			if blockErr := slot.block("merge_conflict", conflict.Error()); blockErr != nil {
				log.Printf("[scheduler] %v", blockErr)
			}
			s.reportBlocked(slot)
			return attemptOutcome{terminal: true}
		}
		return attemptOutcome{errKind: "merge", detail: mergeErr.Error()}
	}
	merged = true

	if s.opts.OpenPRs && s.prs != nil {
		s.openPullRequest(slot, ws)
	}

	if err := slot.transition(models.SlotDone); err != nil {
		log.Printf("[scheduler] %v", err)
	}
	if s.issues != nil {
		comment := fmt.Sprintf("herd: merged %s into %s", ws.Branch, s.workspaces.BaseBranch())
		if slot.PRNumber > 0 {
			comment = fmt.Sprintf("%s (PR #%d)", comment, slot.PRNumber)
		}
		if err := s.issues.Close(slot.Task.Number, comment); err != nil {
			log.Printf("[scheduler] task #%d: close issue: %v", slot.Task.Number, err)
		}
	}
	log.Printf("[scheduler] task #%d: done after %d attempt(s)", slot.Task.Number, slot.Attempts)
	return attemptOutcome{terminal: true}
}

// openPullRequest pushes the merged branch and opens a PR. Failures here
// never fail the slot: the work is already merged locally.
func (s *Scheduler) openPullRequest(slot *Slot, ws *workspace.Workspace) {
	if err := s.prs.Push(ws.Branch); err != nil {
		log.Printf("[scheduler] task #%d: push %s: %v", slot.Task.Number, ws.Branch, err)
		return
	}
	title := fmt.Sprintf("task #%d: %s", slot.Task.Number, slot.Task.Title)
	body := fmt.Sprintf("Closes #%d\n\nAutomated change produced by herd.", slot.Task.Number)
	created, err := s.prs.Create(ws.Branch, s.workspaces.BaseBranch(), title, body, s.opts.DraftPRs)
	if err != nil {
		log.Printf("[scheduler] task #%d: create PR: %v", slot.Task.Number, err)
		return
	}
	slot.PRNumber = created.Number
	log.Printf("[scheduler] task #%d: opened PR #%d (%s)", slot.Task.Number, created.Number, created.URL)
}

// reportBlocked surfaces a blocked slot on its issue.
func (s *Scheduler) reportBlocked(slot *Slot) {
	log.Printf("[scheduler] task #%d: blocked after %d attempt(s): %s (%s)",
		slot.Task.Number, slot.Attempts, slot.ErrorKind, slot.Detail)
	if s.issues == nil {
		return
	}
	if s.opts.BlockedLabel != "" {
		if err := s.issues.AddLabel(slot.Task.Number, s.opts.BlockedLabel); err != nil {
			log.Printf("[scheduler] task #%d: add label: %v", slot.Task.Number, err)
		}
	}
	body := fmt.Sprintf("herd: blocked after %d attempt(s): %s", slot.Attempts, slot.ErrorKind)
	if slot.Detail != "" {
		body += ": " + slot.Detail
	}
	if err := s.issues.Comment(slot.Task.Number, body); err != nil {
		log.Printf("[scheduler] task #%d: blocked comment: %v", slot.Task.Number, err)
	}
}

// recordSlot persists a terminal slot to the run history.
func (s *Scheduler) recordSlot(runID string, slot *Slot) {
	if s.history == nil || runID == "" {
		return
	}
	rec := &state.SlotRecord{
		RunID:      runID,
		TaskNumber: slot.Task.Number,
		Title:      slot.Task.Title,
		Domain:     string(slot.Task.Domain),
		Engine:     string(slot.Engine),
		Attempts:   slot.Attempts,
		Status:     string(slot.Status),
		Branch:     slot.Branch,
		PRNumber:   slot.PRNumber,
		ErrorKind:  slot.ErrorKind,
		Detail:     slot.Detail,
		StartedAt:  slot.StartedAt,
		FinishedAt: slot.FinishedAt,
	}
	if err := s.history.RecordSlot(rec); err != nil {
		log.Printf("[scheduler] task #%d: record history: %v", slot.Task.Number, err)
	}
}

// buildPrompt renders the task into the instruction given to the engine.
func buildPrompt(task models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work on GitHub issue #%d: %s\n\n", task.Number, task.Title)
	if task.Body != "" {
		b.WriteString(task.Body)
		b.WriteString("\n\n")
	}
	b.WriteString("Make the code changes needed to resolve this issue. ")
	b.WriteString("Work only inside the current directory. ")
	b.WriteString("Do not commit, push, or open pull requests.")
	return b.String()
}
