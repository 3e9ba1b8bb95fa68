package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rigup/internal/config"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("RIGUP_CONFIG", filepath.Join(t.TempDir(), "config.toml"))

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent")
	}

	if cfg.Packages.Manager != "dnf" {
		t.Fatalf("unexpected package manager: %q", cfg.Packages.Manager)
	}
	if cfg.Principals.Group != "rigio" || cfg.Principals.ServiceUser != "rigiod" {
		t.Fatalf("unexpected principals: %+v", cfg.Principals)
	}
	if cfg.Principals.LoginShell != "/usr/sbin/nologin" {
		t.Fatalf("unexpected login shell: %q", cfg.Principals.LoginShell)
	}
	if cfg.Module.Name != "rigio" || cfg.Module.Version != "1.4.2" {
		t.Fatalf("unexpected module identity: %+v", cfg.Module)
	}
	if cfg.Services.Backend != "rigiod.service" || cfg.Services.Health != "rigio-health.service" {
		t.Fatalf("unexpected services: %+v", cfg.Services)
	}
	if !cfg.Journal.Enabled {
		t.Fatal("expected journal enabled by default")
	}
	if cfg.JournalPath() != filepath.Join(cfg.Paths.StateDir, "journal.db") {
		t.Fatalf("unexpected journal path: %q", cfg.JournalPath())
	}
	if len(cfg.Packages.Install) == 0 {
		t.Fatal("expected default package set")
	}
}

func TestLoadParsesFileAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
state_dir = "` + filepath.Join(dir, "state") + `"
workspace_dir = "` + filepath.Join(dir, "build") + `"

[packages]
manager = " dnf "
install = ["git", " ", "cmake"]

[module]
version = "2.0.0"

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved=%q exists=%v", resolved, exists)
	}
	if cfg.Packages.Manager != "dnf" {
		t.Fatalf("manager not trimmed: %q", cfg.Packages.Manager)
	}
	if len(cfg.Packages.Install) != 2 {
		t.Fatalf("blank package entries not dropped: %v", cfg.Packages.Install)
	}
	if cfg.Module.Version != "2.0.0" {
		t.Fatalf("unexpected module version: %q", cfg.Module.Version)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("format not lowered: %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "workspace equals app source",
			mutate:  func(c *config.Config) { c.Paths.WorkspaceDir = c.App.SourceDir },
			wantSub: "workspace_dir must differ",
		},
		{
			name:    "unit without suffix",
			mutate:  func(c *config.Config) { c.Services.Backend = "rigiod" },
			wantSub: "must end in .service",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			wantSub: "logging.format",
		},
		{
			name:    "missing group",
			mutate:  func(c *config.Config) { c.Principals.Group = "" },
			wantSub: "principals.group",
		},
		{
			name:    "missing repo url",
			mutate:  func(c *config.Config) { c.Module.RepoURL = "" },
			wantSub: "module.repo_url",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q missing %q", err.Error(), tc.wantSub)
			}
		})
	}
}

func TestLoadRejectsDirectoryPath(t *testing.T) {
	_, _, _, err := config.Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("expected directory error, got %v", err)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
}
