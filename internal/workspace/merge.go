package workspace

import (
	"fmt"
	"log"
	"strings"
)

// ConflictError reports a merge or rebase that stopped on conflicting
// files. The repository is always restored before this error is returned.
type ConflictError struct {
	// Branch is the feature branch that failed to land.
	Branch string
	// Files are the conflicting paths.
	Files []string
	// Stage is "rebase" or "merge".
	Stage string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict on %s: %s", e.Stage, e.Branch, strings.Join(e.Files, ", "))
}

// MergeResult describes a completed merge-back.
type MergeResult struct {
	// NoOp is true when the feature branch had no diff against base.
	NoOp bool
	// MergedFiles are the paths the merge brought into the base branch.
	MergedFiles []string
}

// MergeBack lands a workspace's feature branch on the base branch. All
// merge-backs are serialized: the shared working copy tolerates one
// checkout at a time. The shared copy is always restored to its original
// branch and stash state, even when the merge fails.
func (m *Manager) MergeBack(ws *Workspace) (*MergeResult, error) {
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	// If base advanced since the branch forked (a parallel merge landed
	// first), rebase the feature branch onto base. The rebase runs inside
	// the worktree because that is where the branch is checked out.
	ancestor, err := m.git.IsAncestor(m.baseBranch, ws.Branch)
	if err != nil {
		return nil, fmt.Errorf("check divergence of %s: %w", ws.Branch, err)
	}
	if !ancestor {
		log.Printf("[workspace] task #%d: base advanced, rebasing %s", ws.TaskNumber, ws.Branch)
		wtGit := m.gitFor(ws.Path)
		if rebaseErr := wtGit.Rebase(m.baseBranch); rebaseErr != nil {
			conflicts, _ := wtGit.ConflictedFiles()
			if abortErr := wtGit.RebaseAbort(); abortErr != nil {
				log.Printf("[workspace] task #%d: rebase abort failed: %v", ws.TaskNumber, abortErr)
			}
			if len(conflicts) > 0 {
				return nil, &ConflictError{Branch: ws.Branch, Files: conflicts, Stage: "rebase"}
			}
			return nil, fmt.Errorf("rebase %s onto %s: %w", ws.Branch, m.baseBranch, rebaseErr)
		}
	}

	// Nothing ahead of base: a no-op success, history untouched.
	changed, err := m.git.ChangedFilesRelative(ws.Branch, m.baseBranch)
	if err != nil {
		return nil, fmt.Errorf("diff %s against %s: %w", ws.Branch, m.baseBranch, err)
	}
	if len(changed) == 0 {
		log.Printf("[workspace] task #%d: %s has no diff against %s, nothing to merge",
			ws.TaskNumber, ws.Branch, m.baseBranch)
		return &MergeResult{NoOp: true}, nil
	}

	restore, err := m.prepareSharedCopy(ws)
	if err != nil {
		return nil, err
	}
	defer restore()

	message := fmt.Sprintf("Merge task #%d (%s)", ws.TaskNumber, ws.Branch)
	if mergeErr := m.git.MergeNoFFMessage(ws.Branch, message); mergeErr != nil {
		conflicts, _ := m.git.ConflictedFiles()
		if abortErr := m.git.MergeAbort(); abortErr != nil {
			log.Printf("[workspace] task #%d: merge abort failed: %v", ws.TaskNumber, abortErr)
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Branch: ws.Branch, Files: conflicts, Stage: "merge"}
		}
		return nil, fmt.Errorf("merge %s into %s: %w", ws.Branch, m.baseBranch, mergeErr)
	}

	if err := m.ledger.Append(ActionMerge, ws.Branch, ws.Path, ws.TaskNumber,
		fmt.Sprintf("%d file(s)", len(changed))); err != nil {
		log.Printf("[workspace] task #%d: ledger append failed: %v", ws.TaskNumber, err)
	}
	log.Printf("[workspace] task #%d: merged %s into %s (%d files)",
		ws.TaskNumber, ws.Branch, m.baseBranch, len(changed))
	return &MergeResult{MergedFiles: changed}, nil
}

// prepareSharedCopy stashes any uncommitted changes and checks out the base
// branch. The returned function undoes both, in reverse order, and is safe
// to call after a failed merge.
func (m *Manager) prepareSharedCopy(ws *Workspace) (func(), error) {
	original, err := m.git.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("read current branch: %w", err)
	}

	stashed := false
	if dirty, err := m.git.HasChanges(); err != nil {
		return nil, fmt.Errorf("check working copy state: %w", err)
	} else if dirty {
		if err := m.git.StashPush(fmt.Sprintf("herd merge task #%d", ws.TaskNumber)); err != nil {
			return nil, fmt.Errorf("stash shared working copy: %w", err)
		}
		stashed = true
	}

	if original != m.baseBranch {
		if err := m.git.CheckoutBranch(m.baseBranch); err != nil {
			if stashed {
				if popErr := m.git.StashPop(); popErr != nil {
					log.Printf("[workspace] task #%d: stash pop after failed checkout: %v", ws.TaskNumber, popErr)
				}
			}
			return nil, fmt.Errorf("checkout %s: %w", m.baseBranch, err)
		}
	}

	return func() {
		if original != m.baseBranch {
			if err := m.git.CheckoutBranch(original); err != nil {
				log.Printf("[workspace] task #%d: restore branch %s: %v", ws.TaskNumber, original, err)
				return
			}
		}
		if stashed {
			if err := m.git.StashPop(); err != nil {
				log.Printf("[workspace] task #%d: stash pop: %v", ws.TaskNumber, err)
			}
		}
	}, nil
}
