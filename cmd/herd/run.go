package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ShayCichocki/herd/internal/classify"
	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/coord"
	"github.com/ShayCichocki/herd/internal/engine"
	"github.com/ShayCichocki/herd/internal/git"
	"github.com/ShayCichocki/herd/internal/issues"
	"github.com/ShayCichocki/herd/internal/pr"
	"github.com/ShayCichocki/herd/internal/scheduler"
	"github.com/ShayCichocki/herd/internal/state"
	"github.com/ShayCichocki/herd/internal/workspace"
	"github.com/ShayCichocki/herd/pkg/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	runRepo      string
	runTaskLabel string
	runWindow    int
	runRetries   int
	runTimeout   time.Duration
	runLimit     int
	runDryRun    bool
	runOpenPRs   bool
	runDraftPRs  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the labeled issue backlog",
	Long: `Fetch open issues carrying the task label and drive each one to a
terminal state: merged into the base branch, or blocked with a label
and a comment explaining why.

Each task runs in its own git worktree on its own branch. The window
flag bounds how many run at once; tasks whose domains conflict are
never scheduled together. When an engine hits a rate limit, herd falls
back to the next engine in the chain and retries the first one after a
backoff.

Press Ctrl-C once to stop: running engines are terminated, their slots
unwound, and claims released before herd exits.

Examples:
  herd run                      # Use configured defaults
  herd run --window 4           # Run up to four tasks at once
  herd run --dry-run            # Show the backlog without running
  herd run --open-prs --draft   # Publish merged branches as draft PRs`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runRepo, "repo", "", "GitHub repository (owner/repo), overrides config")
	runCmd.Flags().StringVar(&runTaskLabel, "task-label", "", "Issue label selecting the backlog, overrides config")
	runCmd.Flags().IntVar(&runWindow, "window", 0, "Concurrent slot count, overrides config")
	runCmd.Flags().IntVar(&runRetries, "retries", 0, "Max engine attempts per task, overrides config")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Wall-clock budget per engine attempt, overrides config")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "Max issues to fetch, overrides config")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Show the classified backlog without running anything")
	runCmd.Flags().BoolVar(&runOpenPRs, "open-prs", false, "Push merged branches and open pull requests")
	runCmd.Flags().BoolVar(&runDraftPRs, "draft", false, "Open pull requests as drafts (implies --open-prs)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyRunFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := CheckGHCLI(); err != nil {
		return err
	}
	if !runDryRun {
		if err := CheckEngineCLI(cfg.Engines.Chain); err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	repoRoot, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	issueGateway := issues.NewGateway(cfg.Repo.Slug)
	tasks, err := issueGateway.FetchOpenByLabel(cfg.Repo.TaskLabel, cfg.Repo.FetchLimit)
	if err != nil {
		return fmt.Errorf("fetch issues: %w", err)
	}
	tasks = dropBlocked(tasks, cfg.Repo.BlockedLabel)

	classifier := classify.New()
	for i := range tasks {
		tasks[i].Domain = classifier.Classify(&tasks[i])
	}

	if len(tasks) == 0 {
		fmt.Printf("No open issues labeled %q in %s.\n", cfg.Repo.TaskLabel, cfg.Repo.Slug)
		return nil
	}

	if runDryRun {
		printBacklog(tasks, cfg)
		return nil
	}

	coordinator, err := coord.New(config.ResolvePath(repoRoot, cfg.Paths.CoordinationDir))
	if err != nil {
		return fmt.Errorf("init coordination: %w", err)
	}

	ledger, err := workspace.NewLedger(config.ResolvePath(repoRoot, cfg.Paths.LedgerDir))
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	workspaces := workspace.NewManager(repoRoot,
		config.ResolvePath(repoRoot, cfg.Paths.WorktreesDir), cfg.Repo.BaseBranch, ledger)

	chain := make([]engine.Variant, len(cfg.Engines.Chain))
	for i, name := range cfg.Engines.Chain {
		chain[i] = engine.Variant(name)
	}
	engines, err := engine.NewFallbackController(chain)
	if err != nil {
		return fmt.Errorf("init engines: %w", err)
	}

	var prGateway scheduler.PRGateway
	if cfg.PullRequests.Enabled {
		prGateway = pr.NewGateway(cfg.Repo.Slug, repoRoot, git.NewRunner(repoRoot))
	}

	history, err := state.OpenProject(repoRoot)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer history.Close()
	if err := history.Migrate(); err != nil {
		return fmt.Errorf("migrate run history: %w", err)
	}

	sched, err := scheduler.New(scheduler.Options{
		WindowSize:    cfg.Scheduler.WindowSize,
		MaxRetries:    cfg.Scheduler.MaxRetries,
		EngineTimeout: cfg.Engines.Timeout,
		Label:         cfg.Scheduler.Label,
		BlockedLabel:  cfg.Repo.BlockedLabel,
		OpenPRs:       cfg.PullRequests.Enabled,
		DraftPRs:      cfg.PullRequests.Draft,
	}, classifier, coordinator, workspaces, engines, issueGateway, prGateway, history)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			color.Yellow("\nStopping: terminating engines and unwinding active slots...")
			sched.Kill()
		}
	}()

	fmt.Printf("Running %d task(s) from %s (label %q, window %d)\n",
		len(tasks), cfg.Repo.Slug, cfg.Repo.TaskLabel, cfg.Scheduler.WindowSize)

	summary, err := sched.Run(context.Background(), tasks)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}

// applyRunFlags overlays command-line flags onto the loaded configuration.
func applyRunFlags(cfg *config.Config) {
	if runRepo != "" {
		cfg.Repo.Slug = runRepo
	}
	if runTaskLabel != "" {
		cfg.Repo.TaskLabel = runTaskLabel
	}
	if runWindow > 0 {
		cfg.Scheduler.WindowSize = runWindow
	}
	if runRetries > 0 {
		cfg.Scheduler.MaxRetries = runRetries
	}
	if runTimeout > 0 {
		cfg.Engines.Timeout = runTimeout
	}
	if runLimit > 0 {
		cfg.Repo.FetchLimit = runLimit
	}
	if runOpenPRs || runDraftPRs {
		cfg.PullRequests.Enabled = true
	}
	if runDraftPRs {
		cfg.PullRequests.Draft = true
	}
}

// dropBlocked filters out tasks already carrying the blocked label; they
// need human attention before herd touches them again.
func dropBlocked(tasks []models.Task, blockedLabel string) []models.Task {
	if blockedLabel == "" {
		return tasks
	}
	kept := tasks[:0]
	for _, t := range tasks {
		if !t.HasLabel(blockedLabel) {
			kept = append(kept, t)
		}
	}
	return kept
}

func printBacklog(tasks []models.Task, cfg *config.Config) {
	fmt.Printf("Backlog for %s (label %q): %d task(s)\n\n", cfg.Repo.Slug, cfg.Repo.TaskLabel, len(tasks))
	for _, t := range tasks {
		fmt.Printf("  #%-5d %-10s %s\n", t.Number, t.Domain, t.Title)
	}
	fmt.Printf("\nWindow %d, retries %d, engines %v, timeout %s\n",
		cfg.Scheduler.WindowSize, cfg.Scheduler.MaxRetries, cfg.Engines.Chain, cfg.Engines.Timeout)
}

func printSummary(summary *scheduler.Summary) {
	fmt.Println()
	color.Green("Completed: %d", summary.Completed)
	if summary.Failed > 0 {
		color.Red("Blocked:   %d", summary.Failed)
	} else {
		fmt.Printf("Blocked:   %d\n", summary.Failed)
	}
	if summary.Skipped > 0 {
		color.Yellow("Skipped:   %d", summary.Skipped)
	} else {
		fmt.Printf("Skipped:   %d\n", summary.Skipped)
	}
	fmt.Printf("Total:     %d\n", summary.Total)
}
