package testsupport

import (
	"path/filepath"
	"testing"

	"rigup/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config whose filesystem paths all live under a unique
// temp directory so tests never touch real system locations.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WorkspaceDir = filepath.Join(base, "build")
	cfg.Module.SourceRoot = filepath.Join(base, "src")
	cfg.App.SourceDir = filepath.Join(base, "app")
	cfg.Sudo.HelperDir = filepath.Join(base, "libexec")
	cfg.Sudo.PolicyPath = filepath.Join(base, "sudoers.d", "rigiod")
	cfg.Sudo.LegacyPolicyPath = filepath.Join(base, "sudoers.d", "rigio-helpers")
	cfg.Journal.Path = filepath.Join(base, "state", "journal.db")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithAdminUser sets the explicit admin user override on the test config.
func WithAdminUser(user string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Principals.AdminUser = user
	}
}

// WithModuleVersion overrides the kernel module version on the test config.
func WithModuleVersion(version string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Module.Version = version
	}
}
