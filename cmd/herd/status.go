package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/coord"
	"github.com/ShayCichocki/herd/internal/state"
	"github.com/ShayCichocki/herd/pkg/models"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	statusWatch bool
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live activity and recent runs",
	Long: `Display what herd is doing right now and how recent runs went.

Shows:
  - Running herd instances (from on-disk instance locks)
  - Claimed tasks and who holds them
  - Recent runs with completed/blocked/total counts
  - Per-task outcomes of the most recent run

With --watch, re-renders whenever another herd process claims or
releases a task.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Re-render on coordination changes")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 5, "Number of recent runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	coordinator, err := coord.New(config.ResolvePath(repoRoot, cfg.Paths.CoordinationDir))
	if err != nil {
		return fmt.Errorf("init coordination: %w", err)
	}

	if err := displayStatus(repoRoot, coordinator); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}
	return watchStatus(repoRoot, coordinator)
}

// displayStatus renders one full status snapshot.
func displayStatus(repoRoot string, coordinator *coord.Coordinator) error {
	instances, err := coordinator.LiveInstances()
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	claims, err := coordinator.ListClaims()
	if err != nil {
		return fmt.Errorf("list claims: %w", err)
	}

	if len(instances) == 0 {
		fmt.Println("No herd instance is running.")
	} else {
		color.Cyan("Running instances:")
		for _, inst := range instances {
			fmt.Printf("  %-12s pid %-7d on %s, started %s\n",
				inst.Label, inst.PID, inst.Hostname, humanAge(inst.StartedAt))
		}
	}

	if len(claims) > 0 {
		color.Cyan("Claimed tasks:")
		for _, c := range claims {
			fmt.Printf("  #%-5d held by pid %d since %s\n",
				c.TaskNumber, c.HolderPID, humanAge(c.ClaimedAt))
		}
	}

	return displayRecentRuns(repoRoot)
}

// displayRecentRuns prints run history from the project database, if any.
func displayRecentRuns(repoRoot string) error {
	dbPath := state.ProjectDBPath(repoRoot)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("\nNo run history yet. Run 'herd run' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate run history: %w", err)
	}

	runs, err := db.RecentRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("\nNo run history yet. Run 'herd run' to start.")
		return nil
	}

	fmt.Println()
	color.Cyan("Recent runs:")
	for _, r := range runs {
		end := "running"
		if r.FinishedAt != nil {
			end = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("  %s  %-12s %d/%d completed, %d blocked  (%s)\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.Label, r.Completed, r.Total, r.Failed, end)
	}

	slots, err := db.SlotsForRun(runs[0].ID)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	if len(slots) == 0 {
		return nil
	}

	fmt.Println()
	color.Cyan("Latest run tasks:")
	for _, s := range slots {
		line := fmt.Sprintf("  #%-5d %-8s %-10s %d attempt(s)  %s",
			s.TaskNumber, s.Status, s.Domain, s.Attempts, truncate(s.Title, 50))
		switch s.Status {
		case string(models.SlotDone):
			color.Green("%s", line)
		case string(models.SlotBlocked):
			color.Red("%s [%s]", line, s.ErrorKind)
		default:
			fmt.Println(line)
		}
	}
	return nil
}

// watchStatus re-renders whenever claim or lock files change.
func watchStatus(repoRoot string, coordinator *coord.Coordinator) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{coordinator.ClaimsDir(), coordinator.LocksDir()} {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	fmt.Println("\nWatching for changes (Ctrl-C to stop)...")
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Write) == 0 {
				continue
			}
			fmt.Print("\033[H\033[2J")
			if err := displayStatus(repoRoot, coordinator); err != nil {
				return err
			}
			fmt.Println("\nWatching for changes (Ctrl-C to stop)...")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}

func humanAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return fmt.Sprintf("%.1fh ago", age.Hours())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-3]) + "..."
}
