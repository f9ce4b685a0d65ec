package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/herd/internal/classify"
	"github.com/ShayCichocki/herd/internal/coord"
	"github.com/ShayCichocki/herd/internal/engine"
	"github.com/ShayCichocki/herd/internal/pr"
	"github.com/ShayCichocki/herd/internal/workspace"
	"github.com/ShayCichocki/herd/pkg/models"
)

// fakeCoordinator grants claims in-memory and records lock activity.
type fakeCoordinator struct {
	mu       sync.Mutex
	claims   map[int]bool
	deny     map[int]bool
	released []int
	conflict *coord.InstanceLock

	lockHeld bool
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{claims: make(map[int]bool), deny: make(map[int]bool)}
}

func (f *fakeCoordinator) AcquireClaim(taskNumber int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny[taskNumber] || f.claims[taskNumber] {
		return false, nil
	}
	f.claims[taskNumber] = true
	return true, nil
}

func (f *fakeCoordinator) ReleaseClaim(taskNumber int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, taskNumber)
	f.released = append(f.released, taskNumber)
	return nil
}

func (f *fakeCoordinator) AcquireInstanceLock(label string) (*coord.InstanceLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockHeld = true
	return &coord.InstanceLock{PID: 1, Label: label}, nil
}

func (f *fakeCoordinator) ReleaseInstanceLock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockHeld = false
	return nil
}

func (f *fakeCoordinator) ConflictingInstance(string) (*coord.InstanceLock, error) {
	return f.conflict, nil
}

// fakeWorkspaces tracks workspace lifecycle and checks merge serialization.
type fakeWorkspaces struct {
	mu             sync.Mutex
	created        int
	createCalls    int
	createErrs     int // fail the first N Create calls
	removed        int
	noCommitTasks  map[int]bool
	mergeErrByTask map[int]error
	merges         []int

	mergingNow      int
	serialViolation bool
}

func newFakeWorkspaces() *fakeWorkspaces {
	return &fakeWorkspaces{
		noCommitTasks:  make(map[int]bool),
		mergeErrByTask: make(map[int]error),
	}
}

func (f *fakeWorkspaces) CleanupOrphans() (int, error) { return 0, nil }

func (f *fakeWorkspaces) Create(taskNumber int) (*workspace.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createCalls <= f.createErrs {
		return nil, errors.New("worktree add: exit status 128")
	}
	f.created++
	return &workspace.Workspace{
		TaskNumber: taskNumber,
		Branch:     fmt.Sprintf("herd/task-%d-t%d", taskNumber, f.created),
		Path:       fmt.Sprintf("/wt/task-%d-t%d", taskNumber, f.created),
	}, nil
}

func (f *fakeWorkspaces) CommitAll(ws *workspace.Workspace, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.noCommitTasks[ws.TaskNumber], nil
}

func (f *fakeWorkspaces) MergeBack(ws *workspace.Workspace) (*workspace.MergeResult, error) {
	f.mu.Lock()
	f.mergingNow++
	if f.mergingNow > 1 {
		f.serialViolation = true
	}
	err := f.mergeErrByTask[ws.TaskNumber]
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.mergingNow--
	if err == nil {
		f.merges = append(f.merges, ws.TaskNumber)
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &workspace.MergeResult{MergedFiles: []string{"x.go"}}, nil
}

func (f *fakeWorkspaces) Remove(ws *workspace.Workspace, merged bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakeWorkspaces) BaseBranch() string { return "main" }

// fakeEngine produces scripted results and tracks window occupancy.
type fakeEngine struct {
	mu                sync.Mutex
	attempts          map[int]int
	activeByDomain    map[string]int
	maxActive         int
	sameDomainOverlap bool
	delay             time.Duration
	blockUntilCancel  bool
	// result decides the outcome given the task and its attempt number.
	result func(task engine.TaskContext, attempt int) *engine.Result
}

func newFakeEngine(result func(task engine.TaskContext, attempt int) *engine.Result) *fakeEngine {
	return &fakeEngine{
		attempts:       make(map[int]int),
		activeByDomain: make(map[string]int),
		result:         result,
	}
}

func successResult() *engine.Result {
	return &engine.Result{Success: true, ErrorKind: engine.ErrorNone, Engine: engine.VariantClaude,
		ToolsUsed: []string{"Write"}, FilesChanged: []string{"x.go"}}
}

func crashResult() *engine.Result {
	return &engine.Result{ErrorKind: engine.ErrorCrash, Engine: engine.VariantClaude,
		ExitCode: 2, Detail: "exit code 2"}
}

func (f *fakeEngine) Run(ctx context.Context, prompt, cwd string, timeout time.Duration, task engine.TaskContext) *engine.Result {
	f.mu.Lock()
	f.attempts[task.TaskNumber]++
	attempt := f.attempts[task.TaskNumber]
	f.activeByDomain[task.Domain]++
	if f.activeByDomain[task.Domain] > 1 {
		f.sameDomainOverlap = true
	}
	total := 0
	for _, c := range f.activeByDomain {
		total += c
	}
	if total > f.maxActive {
		f.maxActive = total
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.activeByDomain[task.Domain]--
		f.mu.Unlock()
	}()

	if f.blockUntilCancel {
		<-ctx.Done()
		return &engine.Result{ErrorKind: engine.ErrorCrash, Engine: engine.VariantClaude,
			ExitCode: -1, Detail: "canceled"}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.result(task, attempt)
}

// fakeIssues records tracker activity.
type fakeIssues struct {
	mu       sync.Mutex
	closed   []int
	comments []string
	labels   map[int][]string
	cycling  map[int]bool
}

func newFakeIssues() *fakeIssues {
	return &fakeIssues{labels: make(map[int][]string), cycling: make(map[int]bool)}
}

func (f *fakeIssues) Close(number int, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, number)
	return nil
}

func (f *fakeIssues) Comment(number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, fmt.Sprintf("#%d %s", number, body))
	return nil
}

func (f *fakeIssues) CommentAttempt(number, attempt int, reason string) error {
	return f.Comment(number, fmt.Sprintf("attempt %d failed: %s", attempt, reason))
}

func (f *fakeIssues) AddLabel(number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[number] = append(f.labels[number], label)
	return nil
}

func (f *fakeIssues) DetectRepeatCycle(number int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycling[number], nil
}

type fakePRs struct {
	mu     sync.Mutex
	pushed []string
	opened []string
}

func (f *fakePRs) Push(branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, branch)
	return nil
}

func (f *fakePRs) Create(head, base, title, body string, draft bool) (*pr.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, head)
	return &pr.PullRequest{Number: 70 + len(f.opened), URL: "https://example.test/pull"}, nil
}

func defaultOptions() Options {
	return Options{
		WindowSize:    2,
		MaxRetries:    3,
		EngineTimeout: time.Minute,
		Label:         "test",
		BlockedLabel:  "herd-blocked",
	}
}

type testRig struct {
	coord      *fakeCoordinator
	workspaces *fakeWorkspaces
	engines    *fakeEngine
	issues     *fakeIssues
	prs        *fakePRs
}

func newScheduler(t *testing.T, opts Options, rig *testRig) *Scheduler {
	t.Helper()
	classifier := classify.New()
	s, err := New(opts, classifier, rig.coord, rig.workspaces, rig.engines, rig.issues, rig.prs, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func backendTask(n int) models.Task {
	return models.Task{Number: n, Title: fmt.Sprintf("task %d", n), Domain: models.DomainBackend}
}

func frontendTask(n int) models.Task {
	return models.Task{Number: n, Title: fmt.Sprintf("task %d", n), Domain: models.DomainFrontend}
}

func TestSlotTransitions(t *testing.T) {
	slot := newSlot(1, backendTask(1))

	steps := []models.SlotStatus{models.SlotRunning, models.SlotMerging, models.SlotDone}
	for _, to := range steps {
		if err := slot.transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if err := slot.transition(models.SlotRunning); err == nil {
		t.Error("done must be terminal")
	}
	if slot.FinishedAt.IsZero() {
		t.Error("terminal transition must stamp FinishedAt")
	}
}

func TestSlotIllegalTransition(t *testing.T) {
	slot := newSlot(1, backendTask(1))
	if err := slot.transition(models.SlotMerging); err == nil {
		t.Error("pending -> merging must be rejected")
	}
	if err := slot.transition(models.SlotDone); err == nil {
		t.Error("pending -> done must be rejected")
	}
}

func TestSlotBlockRecordsReason(t *testing.T) {
	slot := newSlot(1, backendTask(1))
	if err := slot.transition(models.SlotRunning); err != nil {
		t.Fatal(err)
	}
	if err := slot.block("crash", "exit code 2"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if slot.Status != models.SlotBlocked || slot.ErrorKind != "crash" {
		t.Errorf("slot = %+v", slot)
	}
}

func TestRunAllSucceed(t *testing.T) {
	rig := &testRig{
		coord:      newFakeCoordinator(),
		workspaces: newFakeWorkspaces(),
		engines:    newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() }),
		issues:     newFakeIssues(),
		prs:        &fakePRs{},
	}
	s := newScheduler(t, defaultOptions(), rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(1), frontendTask(2)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 2 || summary.Failed != 0 || summary.Total != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if len(rig.workspaces.merges) != 2 {
		t.Errorf("merges = %v, want 2", rig.workspaces.merges)
	}
	if len(rig.issues.closed) != 2 {
		t.Errorf("closed issues = %v", rig.issues.closed)
	}
	if len(rig.coord.released) != 2 {
		t.Errorf("released claims = %v", rig.coord.released)
	}
	if rig.coord.lockHeld {
		t.Error("instance lock must be released after Run")
	}
	if rig.workspaces.created != rig.workspaces.removed {
		t.Errorf("workspaces leaked: created %d, removed %d",
			rig.workspaces.created, rig.workspaces.removed)
	}
}

func TestEndToEndWindowAndDomainSafety(t *testing.T) {
	// Backlog of 5 tasks across two safe-parallel domains, window of 2:
	// at most 2 run concurrently, never two of the same domain, and all 5
	// reach a terminal state.
	tasks := []models.Task{
		backendTask(1), backendTask(2), frontendTask(3), frontendTask(4), backendTask(5),
	}
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	eng.delay = 20 * time.Millisecond
	rig := &testRig{
		coord:      newFakeCoordinator(),
		workspaces: newFakeWorkspaces(),
		engines:    eng,
		issues:     newFakeIssues(),
	}
	s := newScheduler(t, defaultOptions(), rig)

	summary, err := s.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 5 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 5 completed", summary)
	}
	if eng.maxActive > 2 {
		t.Errorf("max concurrent engines = %d, want <= 2", eng.maxActive)
	}
	if eng.sameDomainOverlap {
		t.Error("two same-domain tasks ran concurrently")
	}
	if rig.workspaces.serialViolation {
		t.Error("merges overlapped; they must be serialized")
	}
}

func TestSlotRetryBeforeRunningIsNoOp(t *testing.T) {
	slot := newSlot(1, backendTask(1))
	if err := slot.retry(); err != nil {
		t.Fatalf("retry from pending: %v", err)
	}
	if slot.Status != models.SlotPending {
		t.Errorf("Status = %s, want pending", slot.Status)
	}
}

func TestWorkspaceFailureIsRetried(t *testing.T) {
	ws := newFakeWorkspaces()
	ws.createErrs = 1
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	rig := &testRig{coord: newFakeCoordinator(), workspaces: ws, engines: eng, issues: newFakeIssues()}
	s := newScheduler(t, defaultOptions(), rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(11)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 {
		t.Errorf("summary = %+v, want 1 completed", summary)
	}
	if ws.createCalls != 2 {
		t.Errorf("Create called %d times, want 2", ws.createCalls)
	}
	if eng.attempts[11] != 1 {
		t.Errorf("attempts = %d, want 1 (setup failure must not burn an engine run)", eng.attempts[11])
	}
}

func TestWorkspaceFailuresExhaustIntoBlocked(t *testing.T) {
	ws := newFakeWorkspaces()
	ws.createErrs = 100
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	rig := &testRig{coord: newFakeCoordinator(), workspaces: ws, engines: eng, issues: newFakeIssues()}
	opts := defaultOptions()
	opts.MaxRetries = 2
	s := newScheduler(t, opts, rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(12)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Completed != 0 {
		t.Errorf("summary = %+v, want 1 failed", summary)
	}
	if ws.createCalls != 2 {
		t.Errorf("Create called %d times, want 2", ws.createCalls)
	}
	if eng.attempts[12] != 0 {
		t.Error("no engine run expected when no workspace exists")
	}
	if got := rig.issues.labels[12]; len(got) != 1 || got[0] != "herd-blocked" {
		t.Errorf("labels = %v, want [herd-blocked]", got)
	}
	if len(rig.coord.released) != 1 {
		t.Errorf("claim not released: %v", rig.coord.released)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	eng := newFakeEngine(func(task engine.TaskContext, attempt int) *engine.Result {
		if attempt == 1 {
			return crashResult()
		}
		return successResult()
	})
	rig := &testRig{
		coord:      newFakeCoordinator(),
		workspaces: newFakeWorkspaces(),
		engines:    eng,
		issues:     newFakeIssues(),
	}
	s := newScheduler(t, defaultOptions(), rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(7)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 {
		t.Errorf("summary = %+v, want 1 completed", summary)
	}
	if eng.attempts[7] != 2 {
		t.Errorf("attempts = %d, want 2", eng.attempts[7])
	}
	// Each attempt gets a fresh workspace and the failed one is abandoned.
	if rig.workspaces.created != 2 || rig.workspaces.removed != 2 {
		t.Errorf("workspaces created/removed = %d/%d, want 2/2",
			rig.workspaces.created, rig.workspaces.removed)
	}
}

func TestRetriesExhaustedBlocks(t *testing.T) {
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return crashResult() })
	rig := &testRig{
		coord:      newFakeCoordinator(),
		workspaces: newFakeWorkspaces(),
		engines:    eng,
		issues:     newFakeIssues(),
	}
	opts := defaultOptions()
	opts.MaxRetries = 3
	s := newScheduler(t, opts, rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(9)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Completed != 0 {
		t.Errorf("summary = %+v, want 1 failed", summary)
	}
	if eng.attempts[9] != 3 {
		t.Errorf("attempts = %d, want 3", eng.attempts[9])
	}
	if got := rig.issues.labels[9]; len(got) != 1 || got[0] != "herd-blocked" {
		t.Errorf("labels = %v, want [herd-blocked]", got)
	}
	if len(rig.issues.closed) != 0 {
		t.Error("blocked issue must not be closed")
	}
	if len(rig.coord.released) != 1 {
		t.Errorf("claim not released: %v", rig.coord.released)
	}
}

func TestMergeConflictBlocksWithoutRetry(t *testing.T) {
	ws := newFakeWorkspaces()
	ws.mergeErrByTask[4] = &workspace.ConflictError{
		Branch: "herd/task-4-x", Files: []string{"a.go"}, Stage: "merge",
	}
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	rig := &testRig{coord: newFakeCoordinator(), workspaces: ws, engines: eng, issues: newFakeIssues()}
	s := newScheduler(t, defaultOptions(), rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(4)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 failed", summary)
	}
	if eng.attempts[4] != 1 {
		t.Errorf("attempts = %d, conflicts must not retry", eng.attempts[4])
	}
	if len(rig.issues.labels[4]) != 1 {
		t.Errorf("blocked label missing: %v", rig.issues.labels)
	}
}

func TestNonConflictMergeFailureRetries(t *testing.T) {
	ws := newFakeWorkspaces()
	ws.mergeErrByTask[6] = errors.New("merge: disk full")
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	rig := &testRig{coord: newFakeCoordinator(), workspaces: ws, engines: eng, issues: newFakeIssues()}
	opts := defaultOptions()
	opts.MaxRetries = 2
	s := newScheduler(t, opts, rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(6)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if eng.attempts[6] != 2 {
		t.Errorf("attempts = %d, want 2 (merge failures are retryable)", eng.attempts[6])
	}
}

func TestNoCodeChangesIsRetried(t *testing.T) {
	ws := newFakeWorkspaces()
	ws.noCommitTasks[3] = true
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	rig := &testRig{coord: newFakeCoordinator(), workspaces: ws, engines: eng, issues: newFakeIssues()}
	opts := defaultOptions()
	opts.MaxRetries = 2
	s := newScheduler(t, opts, rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(3)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 failed", summary)
	}
	if len(ws.merges) != 0 {
		t.Error("no merge expected when nothing was committed")
	}
}

func TestClaimDeniedSkipsTask(t *testing.T) {
	fc := newFakeCoordinator()
	fc.deny[2] = true
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	rig := &testRig{coord: fc, workspaces: newFakeWorkspaces(), engines: eng, issues: newFakeIssues()}
	s := newScheduler(t, defaultOptions(), rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(1), frontendTask(2)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want 1 completed 1 skipped", summary)
	}
	if eng.attempts[2] != 0 {
		t.Error("skipped task must never reach an engine")
	}
}

func TestRepeatCycleBlocksAtPreflight(t *testing.T) {
	issues := newFakeIssues()
	issues.cycling[5] = true
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	rig := &testRig{coord: newFakeCoordinator(), workspaces: newFakeWorkspaces(), engines: eng, issues: issues}
	s := newScheduler(t, defaultOptions(), rig)

	summary, err := s.Run(context.Background(), []models.Task{backendTask(5)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 failed", summary)
	}
	if eng.attempts[5] != 0 {
		t.Error("cycling task must never reach an engine")
	}
	if len(rig.coord.released) != 1 {
		t.Error("claim for cycling task must be released")
	}
}

func TestConflictingInstanceRefusesToRun(t *testing.T) {
	fc := newFakeCoordinator()
	fc.conflict = &coord.InstanceLock{PID: 999, Label: "test", Hostname: "elsewhere"}
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	rig := &testRig{coord: fc, workspaces: newFakeWorkspaces(), engines: eng, issues: newFakeIssues()}
	s := newScheduler(t, defaultOptions(), rig)

	if _, err := s.Run(context.Background(), []models.Task{backendTask(1)}); err == nil {
		t.Error("expected error when a conflicting instance holds the label")
	}
}

func TestKillTerminatesActiveSlots(t *testing.T) {
	eng := newFakeEngine(nil)
	eng.blockUntilCancel = true
	rig := &testRig{coord: newFakeCoordinator(), workspaces: newFakeWorkspaces(), engines: eng, issues: newFakeIssues()}
	s := newScheduler(t, defaultOptions(), rig)

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Kill()
	}()

	done := make(chan struct{})
	var summary *Summary
	var runErr error
	go func() {
		summary, runErr = s.Run(context.Background(), []models.Task{backendTask(1), frontendTask(2)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Kill")
	}
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if summary.Failed != 2 {
		t.Errorf("summary = %+v, want both slots failed after kill", summary)
	}
	if rig.coord.lockHeld {
		t.Error("instance lock must be released after Kill")
	}
}

func TestPullRequestsOpenedForMergedWork(t *testing.T) {
	eng := newFakeEngine(func(engine.TaskContext, int) *engine.Result { return successResult() })
	prs := &fakePRs{}
	rig := &testRig{coord: newFakeCoordinator(), workspaces: newFakeWorkspaces(), engines: eng,
		issues: newFakeIssues(), prs: prs}
	opts := defaultOptions()
	opts.OpenPRs = true
	s := newScheduler(t, opts, rig)

	if _, err := s.Run(context.Background(), []models.Task{backendTask(1)}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(prs.pushed) != 1 || len(prs.opened) != 1 {
		t.Errorf("pushed = %v, opened = %v, want 1 each", prs.pushed, prs.opened)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	classifier := classify.New()
	rig := &testRig{coord: newFakeCoordinator(), workspaces: newFakeWorkspaces()}

	if _, err := New(Options{WindowSize: 0, MaxRetries: 1}, classifier, rig.coord,
		rig.workspaces, nil, nil, nil, nil); err == nil {
		t.Error("window size 0 must be rejected")
	}
	if _, err := New(Options{WindowSize: 1, MaxRetries: 0}, classifier, rig.coord,
		rig.workspaces, nil, nil, nil, nil); err == nil {
		t.Error("max retries 0 must be rejected")
	}
}
