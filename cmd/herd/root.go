package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

// CheckGHCLI verifies that the 'gh' CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckGHCLI() error {
	_, err := exec.LookPath("gh")
	if err != nil {
		return fmt.Errorf("gh CLI not found in PATH\n\n" +
			"Herd uses the GitHub CLI to fetch issues and open pull requests.\n\n" +
			"Install it from:\n" +
			"  https://cli.github.com\n\n" +
			"Then authenticate with:\n" +
			"  gh auth login")
	}
	return nil
}

// CheckEngineCLI verifies that at least one engine binary from the chain is
// available in PATH.
func CheckEngineCLI(chain []string) error {
	for _, name := range chain {
		if _, err := exec.LookPath(name); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no engine CLI found in PATH (looked for: %v)\n\n"+
		"Herd drives coding agents through their CLIs. Install at least one:\n"+
		"  npm install -g @anthropic-ai/claude-code\n"+
		"  npm install -g opencode-ai", chain)
}

var rootCmd = &cobra.Command{
	Use:   "herd",
	Short: "Parallel task runner for coding agents",
	Long: `Herd drains a labeled GitHub issue backlog by running coding agents
in parallel, each in its own git worktree, and merging finished work
back into the base branch one slot at a time.

Core capabilities:
- Fetches open issues by label and classifies them by work domain
- Fills a bounded window of slots, never pairing conflicting domains
- Falls back across engines when one is rate limited
- Serializes merges and blocks tasks that conflict or fail repeatedly
- Coordinates with other herd processes through on-disk claims`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
