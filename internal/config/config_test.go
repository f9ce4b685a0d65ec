package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
repo:
  slug: acme/widgets
  base_branch: develop
  task_label: autoqueue
scheduler:
  window_size: 4
  max_retries: 2
  label: nightly
engines:
  chain:
    - opencode
    - claude
  timeout: 45m
pull_requests:
  enabled: true
  draft: true
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Repo.Slug != "acme/widgets" {
		t.Errorf("Slug = %q", cfg.Repo.Slug)
	}
	if cfg.Repo.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q", cfg.Repo.BaseBranch)
	}
	if cfg.Scheduler.WindowSize != 4 || cfg.Scheduler.MaxRetries != 2 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if len(cfg.Engines.Chain) != 2 || cfg.Engines.Chain[0] != "opencode" {
		t.Errorf("Chain = %v", cfg.Engines.Chain)
	}
	if cfg.Engines.Timeout != 45*time.Minute {
		t.Errorf("Timeout = %s", cfg.Engines.Timeout)
	}
	if !cfg.PullRequests.Enabled || !cfg.PullRequests.Draft {
		t.Errorf("pull requests = %+v", cfg.PullRequests)
	}
}

func TestLoadFromPathAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
repo:
  slug: acme/widgets
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Repo.BaseBranch != "main" {
		t.Errorf("BaseBranch default = %q, want main", cfg.Repo.BaseBranch)
	}
	if cfg.Repo.TaskLabel != "herd" || cfg.Repo.BlockedLabel != "herd-blocked" {
		t.Errorf("labels = %q/%q", cfg.Repo.TaskLabel, cfg.Repo.BlockedLabel)
	}
	if cfg.Scheduler.WindowSize != 2 || cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.Engines.Timeout != 20*time.Minute {
		t.Errorf("Timeout default = %s", cfg.Engines.Timeout)
	}
	if cfg.Paths.CoordinationDir != ".herd/coordination" {
		t.Errorf("CoordinationDir default = %q", cfg.Paths.CoordinationDir)
	}
}

func TestLoadFromPathExpandsEnv(t *testing.T) {
	t.Setenv("HERD_TEST_REPO", "acme/expanded")
	path := writeConfig(t, `
repo:
  slug: ${HERD_TEST_REPO}
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Repo.Slug != "acme/expanded" {
		t.Errorf("Slug = %q, want expanded value", cfg.Repo.Slug)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.Repo.Slug = "acme/widgets" }, false},
		{"missing slug", func(c *Config) {}, true},
		{"zero window", func(c *Config) { c.Repo.Slug = "a/b"; c.Scheduler.WindowSize = 0 }, true},
		{"zero retries", func(c *Config) { c.Repo.Slug = "a/b"; c.Scheduler.MaxRetries = 0 }, true},
		{"empty chain", func(c *Config) { c.Repo.Slug = "a/b"; c.Engines.Chain = nil }, true},
		{"zero timeout", func(c *Config) { c.Repo.Slug = "a/b"; c.Engines.Timeout = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/repo", ".herd/worktrees"); got != "/repo/.herd/worktrees" {
		t.Errorf("relative path = %q", got)
	}
	if got := ResolvePath("/repo", "/abs/dir"); got != "/abs/dir" {
		t.Errorf("absolute path = %q", got)
	}
}

func TestDefaultMatchesSetDefaults(t *testing.T) {
	path := writeConfig(t, "repo:\n  slug: a/b\n")
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	def := Default()
	def.Repo.Slug = "a/b"

	if loaded.Scheduler != def.Scheduler {
		t.Errorf("scheduler defaults diverge: %+v vs %+v", loaded.Scheduler, def.Scheduler)
	}
	if loaded.Repo != def.Repo {
		t.Errorf("repo defaults diverge: %+v vs %+v", loaded.Repo, def.Repo)
	}
	if loaded.Paths != def.Paths {
		t.Errorf("paths defaults diverge: %+v vs %+v", loaded.Paths, def.Paths)
	}
}
