// Package config handles configuration loading and management for herd.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for herd.
type Config struct {
	Repo         RepoConfig         `mapstructure:"repo"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Engines      EnginesConfig      `mapstructure:"engines"`
	Paths        PathsConfig        `mapstructure:"paths"`
	PullRequests PullRequestsConfig `mapstructure:"pull_requests"`
}

// RepoConfig identifies the GitHub repository and its task labels.
type RepoConfig struct {
	// Slug is the owner/repo pair used for gh invocations.
	Slug string `mapstructure:"slug"`
	// BaseBranch is the branch merged work lands on.
	BaseBranch string `mapstructure:"base_branch"`
	// TaskLabel selects the issues herd picks up.
	TaskLabel string `mapstructure:"task_label"`
	// BlockedLabel is attached to issues herd gives up on.
	BlockedLabel string `mapstructure:"blocked_label"`
	// FetchLimit caps how many issues one run pulls.
	FetchLimit int `mapstructure:"fetch_limit"`
}

// SchedulerConfig holds scheduling parameters.
type SchedulerConfig struct {
	// WindowSize is the number of concurrently occupied slots.
	WindowSize int `mapstructure:"window_size"`
	// MaxRetries bounds engine attempts per task.
	MaxRetries int `mapstructure:"max_retries"`
	// Label names this scheduler instance for conflict detection; two
	// instances with the same label never run at once.
	Label string `mapstructure:"label"`
}

// EnginesConfig holds the engine chain and its budgets.
type EnginesConfig struct {
	// Chain is the ordered engine list, primary first.
	Chain []string `mapstructure:"chain"`
	// Timeout is the wall-clock budget per engine invocation.
	Timeout time.Duration `mapstructure:"timeout"`
}

// PathsConfig holds on-disk locations, relative to the repository root
// unless absolute.
type PathsConfig struct {
	// CoordinationDir holds claim and instance-lock files.
	CoordinationDir string `mapstructure:"coordination_dir"`
	// WorktreesDir holds per-task worktrees.
	WorktreesDir string `mapstructure:"worktrees_dir"`
	// LedgerDir holds per-branch ledger files.
	LedgerDir string `mapstructure:"ledger_dir"`
}

// PullRequestsConfig controls publishing merged branches.
type PullRequestsConfig struct {
	// Enabled pushes merged branches and opens pull requests.
	Enabled bool `mapstructure:"enabled"`
	// Draft opens pull requests as drafts.
	Draft bool `mapstructure:"draft"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (HERD_REPO)
// 2. Project config (.herd.yaml in current directory or parent)
// 3. User config (~/.config/herd/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.BindEnv("repo.slug", "HERD_REPO")
	v.BindEnv("scheduler.label", "HERD_LABEL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Repo.Slug = os.ExpandEnv(cfg.Repo.Slug)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Repo.Slug = os.ExpandEnv(cfg.Repo.Slug)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("repo.slug", cfg.Repo.Slug)
	v.Set("repo.base_branch", cfg.Repo.BaseBranch)
	v.Set("repo.task_label", cfg.Repo.TaskLabel)
	v.Set("repo.blocked_label", cfg.Repo.BlockedLabel)
	v.Set("repo.fetch_limit", cfg.Repo.FetchLimit)
	v.Set("scheduler.window_size", cfg.Scheduler.WindowSize)
	v.Set("scheduler.max_retries", cfg.Scheduler.MaxRetries)
	v.Set("scheduler.label", cfg.Scheduler.Label)
	v.Set("engines.chain", cfg.Engines.Chain)
	v.Set("engines.timeout", cfg.Engines.Timeout.String())
	v.Set("paths.coordination_dir", cfg.Paths.CoordinationDir)
	v.Set("paths.worktrees_dir", cfg.Paths.WorktreesDir)
	v.Set("paths.ledger_dir", cfg.Paths.LedgerDir)
	v.Set("pull_requests.enabled", cfg.PullRequests.Enabled)
	v.Set("pull_requests.draft", cfg.PullRequests.Draft)

	return v.WriteConfig()
}

// Validate checks the configuration for values the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Repo.Slug == "" {
		return fmt.Errorf("repo.slug is required (owner/repo)")
	}
	if c.Scheduler.WindowSize < 1 {
		return fmt.Errorf("scheduler.window_size must be at least 1, got %d", c.Scheduler.WindowSize)
	}
	if c.Scheduler.MaxRetries < 1 {
		return fmt.Errorf("scheduler.max_retries must be at least 1, got %d", c.Scheduler.MaxRetries)
	}
	if len(c.Engines.Chain) == 0 {
		return fmt.Errorf("engines.chain must list at least one engine")
	}
	if c.Engines.Timeout <= 0 {
		return fmt.Errorf("engines.timeout must be positive, got %s", c.Engines.Timeout)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("repo.slug", "")
	v.SetDefault("repo.base_branch", "main")
	v.SetDefault("repo.task_label", "herd")
	v.SetDefault("repo.blocked_label", "herd-blocked")
	v.SetDefault("repo.fetch_limit", 50)

	v.SetDefault("scheduler.window_size", 2)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.label", "default")

	v.SetDefault("engines.chain", []string{"claude", "opencode"})
	v.SetDefault("engines.timeout", "20m")

	v.SetDefault("paths.coordination_dir", ".herd/coordination")
	v.SetDefault("paths.worktrees_dir", ".herd/worktrees")
	v.SetDefault("paths.ledger_dir", ".herd/ledger")

	v.SetDefault("pull_requests.enabled", false)
	v.SetDefault("pull_requests.draft", false)
}

// getUserConfigDir returns the XDG config directory for herd.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "herd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "herd")
	}
	return filepath.Join(home, ".config", "herd")
}

// findProjectConfig searches for .herd.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".herd.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Repo: RepoConfig{
			BaseBranch:   "main",
			TaskLabel:    "herd",
			BlockedLabel: "herd-blocked",
			FetchLimit:   50,
		},
		Scheduler: SchedulerConfig{
			WindowSize: 2,
			MaxRetries: 3,
			Label:      "default",
		},
		Engines: EnginesConfig{
			Chain:   []string{"claude", "opencode"},
			Timeout: 20 * time.Minute,
		},
		Paths: PathsConfig{
			CoordinationDir: ".herd/coordination",
			WorktreesDir:    ".herd/worktrees",
			LedgerDir:       ".herd/ledger",
		},
	}
}

// ResolvePath makes a configured path absolute by anchoring relative paths
// at the repository root.
func ResolvePath(repoRoot, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}
