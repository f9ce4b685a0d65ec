package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/coord"
	"github.com/ShayCichocki/herd/internal/workspace"
	"github.com/spf13/cobra"
)

var (
	cleanupForce  bool
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees and branches",
	Long: `Clean up worktrees left behind by a crashed or killed herd process.

This command:
  - Lists all herd-managed worktrees
  - Removes every one (no herd instance should be running)
  - Deletes their task branches
  - Runs git worktree prune
  - Records each removal in the workspace ledger
  - Sweeps claims and instance locks held by dead processes

Use this after a crash to reclaim disk space and branch names. The run
command performs the same sweep at startup, so manual cleanup is only
needed when you want the space back before the next run.

Examples:
  herd cleanup              # Interactive cleanup with confirmation
  herd cleanup --force      # Skip confirmation prompt
  herd cleanup --dry-run    # Show what would be removed`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	repoRoot, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	worktreesDir := config.ResolvePath(repoRoot, cfg.Paths.WorktreesDir)

	candidates, err := listWorktreeDirs(worktreesDir)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("No herd worktrees found. Nothing to clean up.")
		return nil
	}

	fmt.Printf("Found %d worktree(s) under %s:\n", len(candidates), worktreesDir)
	for _, name := range candidates {
		fmt.Printf("  %s\n", name)
	}

	if cleanupDryRun {
		fmt.Println("\nDry run: nothing removed.")
		return nil
	}

	if !cleanupForce {
		fmt.Print("\nRemove all of these worktrees and their branches? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ledger, err := workspace.NewLedger(config.ResolvePath(repoRoot, cfg.Paths.LedgerDir))
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	manager := workspace.NewManager(repoRoot, worktreesDir, cfg.Repo.BaseBranch, ledger)

	removed, err := manager.CleanupOrphans()
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Printf("Removed %d worktree(s).\n", removed)

	// Scanning claims and locks removes any held by dead processes.
	coordinator, err := coord.New(config.ResolvePath(repoRoot, cfg.Paths.CoordinationDir))
	if err != nil {
		return fmt.Errorf("init coordination: %w", err)
	}
	if _, err := coordinator.ListClaims(); err != nil {
		return fmt.Errorf("sweep claims: %w", err)
	}
	if _, err := coordinator.LiveInstances(); err != nil {
		return fmt.Errorf("sweep instance locks: %w", err)
	}
	return nil
}

// listWorktreeDirs returns the names of directories under the worktrees dir.
func listWorktreeDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	return names, nil
}
