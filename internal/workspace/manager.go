package workspace

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/herd/internal/git"
)

// Workspace is one isolated checkout bound to a task.
type Workspace struct {
	// TaskNumber is the task this workspace was created for.
	TaskNumber int
	// Branch is the feature branch checked out in the worktree.
	Branch string
	// Path is the worktree directory, empty once the worktree is removed.
	Path string
}

// Manager creates and destroys per-task worktrees, maintains the branch
// ledger, and performs the serialized merge-back into the base branch.
type Manager struct {
	// git runs against the shared repository checkout.
	git git.Runner
	// gitFor builds a runner bound to an arbitrary directory; rebases run
	// inside the worktree holding the feature branch. Injectable for tests.
	gitFor func(path string) git.Runner

	repoPath     string
	worktreesDir string
	baseBranch   string
	ledger       *Ledger

	// mergeMu serializes all merge-back operations: the shared working
	// copy is not parallel-safe.
	mergeMu sync.Mutex

	// mu guards active, the set of worktree paths created by this process.
	mu     sync.Mutex
	active map[string]bool
}

// NewManager creates a Manager for the repository at repoPath. Worktrees are
// created under worktreesDir and merges land on baseBranch.
func NewManager(repoPath, worktreesDir, baseBranch string, ledger *Ledger) *Manager {
	return &Manager{
		git:          git.NewRunner(repoPath),
		gitFor:       func(path string) git.Runner { return git.NewRunner(path) },
		repoPath:     repoPath,
		worktreesDir: worktreesDir,
		baseBranch:   baseBranch,
		ledger:       ledger,
		active:       make(map[string]bool),
	}
}

// BaseBranch returns the branch merges land on.
func (m *Manager) BaseBranch() string { return m.baseBranch }

// Create makes a new worktree and feature branch for a task, forked from
// the base branch.
func (m *Manager) Create(taskNumber int) (*Workspace, error) {
	branch := fmt.Sprintf("herd/task-%d-%s", taskNumber, uuid.NewString()[:8])
	path := filepath.Join(m.worktreesDir, strings.ReplaceAll(branch, "/", "-"))

	if err := m.git.WorktreeAddNewBranchFrom(path, branch, m.baseBranch); err != nil {
		return nil, fmt.Errorf("create worktree for task #%d: %w", taskNumber, err)
	}

	m.mu.Lock()
	m.active[path] = true
	m.mu.Unlock()

	if err := m.ledger.Append(ActionCreate, branch, path, taskNumber, ""); err != nil {
		log.Printf("[workspace] task #%d: ledger append failed: %v", taskNumber, err)
	}
	log.Printf("[workspace] task #%d: created %s at %s", taskNumber, branch, path)
	return &Workspace{TaskNumber: taskNumber, Branch: branch, Path: path}, nil
}

// Remove deletes a workspace's worktree and branch. merged selects the
// ledger action: delete for merged work, abandon for work that never landed.
func (m *Manager) Remove(ws *Workspace, merged bool) error {
	if ws.Path != "" {
		if err := m.git.WorktreeRemove(ws.Path); err != nil {
			return fmt.Errorf("remove worktree %s: %w", ws.Path, err)
		}
		m.mu.Lock()
		delete(m.active, ws.Path)
		m.mu.Unlock()
	}
	// The branch may already be gone, from a manual cleanup or a prior
	// removal. Removal stays best-effort after the worktree is down.
	exists, err := m.git.BranchExists(ws.Branch)
	if err != nil {
		log.Printf("[workspace] task #%d: check branch %s: %v", ws.TaskNumber, ws.Branch, err)
	} else if exists {
		if err := m.git.DeleteBranch(ws.Branch); err != nil {
			log.Printf("[workspace] task #%d: delete branch %s: %v", ws.TaskNumber, ws.Branch, err)
		}
	}

	action := ActionDelete
	if !merged {
		action = ActionAbandon
	}
	if err := m.ledger.Append(action, ws.Branch, ws.Path, ws.TaskNumber, ""); err != nil {
		log.Printf("[workspace] task #%d: ledger append failed: %v", ws.TaskNumber, err)
	}
	ws.Path = ""
	return nil
}

// CommitAll stages and commits everything in the workspace's worktree.
// Returns false when the worktree was clean and nothing was committed.
// Engines are not required to commit their own work, so this runs after
// every successful engine invocation.
func (m *Manager) CommitAll(ws *Workspace, message string) (bool, error) {
	wt := m.gitFor(ws.Path)
	dirty, err := wt.HasChanges()
	if err != nil {
		return false, fmt.Errorf("check worktree state: %w", err)
	}
	if !dirty {
		return false, nil
	}
	if _, err := wt.Run("add", "-A"); err != nil {
		return false, fmt.Errorf("stage changes in %s: %w", ws.Path, err)
	}
	if _, err := wt.Run("commit", "-m", message); err != nil {
		return false, fmt.Errorf("commit changes in %s: %w", ws.Path, err)
	}
	return true, nil
}

// CleanupOrphans removes worktrees under the worktrees directory that this
// process did not create, typically leftovers from a crashed run. Returns
// the number removed.
func (m *Manager) CleanupOrphans() (int, error) {
	porcelain, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return 0, fmt.Errorf("list worktrees: %w", err)
	}

	removed := 0
	for _, orphan := range m.parseOrphans(porcelain) {
		if err := m.git.WorktreeRemove(orphan.path); err != nil {
			log.Printf("[workspace] orphan %s: remove failed: %v", orphan.path, err)
			continue
		}
		if orphan.branch != "" {
			if err := m.git.DeleteBranch(orphan.branch); err != nil {
				log.Printf("[workspace] orphan branch %s: delete failed: %v", orphan.branch, err)
			}
			if err := m.ledger.Append(ActionAbandon, orphan.branch, orphan.path, 0, "orphaned worktree cleanup"); err != nil {
				log.Printf("[workspace] orphan %s: ledger append failed: %v", orphan.branch, err)
			}
		}
		removed++
	}

	if removed > 0 {
		if err := m.git.WorktreePruneExpireNow(); err != nil {
			log.Printf("[workspace] worktree prune: %v", err)
		}
		log.Printf("[workspace] removed %d orphaned worktree(s)", removed)
	}
	return removed, nil
}

type orphanEntry struct {
	path   string
	branch string
}

// parseOrphans extracts worktrees under our worktrees directory that are
// not tracked as active by this process, from `worktree list --porcelain`
// output.
func (m *Manager) parseOrphans(porcelain string) []orphanEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orphans []orphanEntry
	var current orphanEntry
	flush := func() {
		if current.path != "" &&
			strings.HasPrefix(current.path, m.worktreesDir+string(filepath.Separator)) &&
			!m.active[current.path] {
			orphans = append(orphans, current)
		}
		current = orphanEntry{}
	}

	for _, line := range strings.Split(porcelain, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current.path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch refs/heads/"):
			current.branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	flush()
	return orphans
}
