package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify herd configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/herd/config.yaml
Project-specific overrides can be placed in .herd.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("repo.slug: %s\n", orUnset(cfg.Repo.Slug))
	fmt.Printf("repo.base_branch: %s\n", cfg.Repo.BaseBranch)
	fmt.Printf("repo.task_label: %s\n", cfg.Repo.TaskLabel)
	fmt.Printf("repo.blocked_label: %s\n", cfg.Repo.BlockedLabel)
	fmt.Printf("repo.fetch_limit: %d\n", cfg.Repo.FetchLimit)
	fmt.Printf("scheduler.window_size: %d\n", cfg.Scheduler.WindowSize)
	fmt.Printf("scheduler.max_retries: %d\n", cfg.Scheduler.MaxRetries)
	fmt.Printf("scheduler.label: %s\n", cfg.Scheduler.Label)
	fmt.Printf("engines.chain: %s\n", strings.Join(cfg.Engines.Chain, ","))
	fmt.Printf("engines.timeout: %s\n", cfg.Engines.Timeout)
	fmt.Printf("paths.coordination_dir: %s\n", cfg.Paths.CoordinationDir)
	fmt.Printf("paths.worktrees_dir: %s\n", cfg.Paths.WorktreesDir)
	fmt.Printf("paths.ledger_dir: %s\n", cfg.Paths.LedgerDir)
	fmt.Printf("pull_requests.enabled: %t\n", cfg.PullRequests.Enabled)
	fmt.Printf("pull_requests.draft: %t\n", cfg.PullRequests.Draft)
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "repo.slug":
		return orUnset(cfg.Repo.Slug), nil
	case "repo.base_branch":
		return cfg.Repo.BaseBranch, nil
	case "repo.task_label":
		return cfg.Repo.TaskLabel, nil
	case "repo.blocked_label":
		return cfg.Repo.BlockedLabel, nil
	case "repo.fetch_limit":
		return strconv.Itoa(cfg.Repo.FetchLimit), nil
	case "scheduler.window_size":
		return strconv.Itoa(cfg.Scheduler.WindowSize), nil
	case "scheduler.max_retries":
		return strconv.Itoa(cfg.Scheduler.MaxRetries), nil
	case "scheduler.label":
		return cfg.Scheduler.Label, nil
	case "engines.chain":
		return strings.Join(cfg.Engines.Chain, ","), nil
	case "engines.timeout":
		return cfg.Engines.Timeout.String(), nil
	case "paths.coordination_dir":
		return cfg.Paths.CoordinationDir, nil
	case "paths.worktrees_dir":
		return cfg.Paths.WorktreesDir, nil
	case "paths.ledger_dir":
		return cfg.Paths.LedgerDir, nil
	case "pull_requests.enabled":
		return strconv.FormatBool(cfg.PullRequests.Enabled), nil
	case "pull_requests.draft":
		return strconv.FormatBool(cfg.PullRequests.Draft), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "repo.slug":
		cfg.Repo.Slug = value
	case "repo.base_branch":
		cfg.Repo.BaseBranch = value
	case "repo.task_label":
		cfg.Repo.TaskLabel = value
	case "repo.blocked_label":
		cfg.Repo.BlockedLabel = value
	case "repo.fetch_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("fetch_limit must be a number: %s", value)
		}
		cfg.Repo.FetchLimit = n
	case "scheduler.window_size":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("window_size must be a positive number: %s", value)
		}
		cfg.Scheduler.WindowSize = n
	case "scheduler.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("max_retries must be a positive number: %s", value)
		}
		cfg.Scheduler.MaxRetries = n
	case "scheduler.label":
		cfg.Scheduler.Label = value
	case "engines.chain":
		var chain []string
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				chain = append(chain, name)
			}
		}
		if len(chain) == 0 {
			return fmt.Errorf("chain must list at least one engine")
		}
		cfg.Engines.Chain = chain
	case "engines.timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("timeout must be a positive duration (e.g. 20m): %s", value)
		}
		cfg.Engines.Timeout = d
	case "paths.coordination_dir":
		cfg.Paths.CoordinationDir = value
	case "paths.worktrees_dir":
		cfg.Paths.WorktreesDir = value
	case "paths.ledger_dir":
		cfg.Paths.LedgerDir = value
	case "pull_requests.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("enabled must be true or false: %s", value)
		}
		cfg.PullRequests.Enabled = b
	case "pull_requests.draft":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("draft must be true or false: %s", value)
		}
		cfg.PullRequests.Draft = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
