package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
	WorkspaceDir string `toml:"workspace_dir"`
}

// Packages contains the OS package set the target host must carry.
type Packages struct {
	Manager        string   `toml:"manager"`
	Install        []string `toml:"install"`
	HeadersPackage string   `toml:"headers_package"`
}

// Principals contains the group and service account identities.
type Principals struct {
	Group       string `toml:"group"`
	ServiceUser string `toml:"service_user"`
	LoginShell  string `toml:"login_shell"`
	// AdminUser overrides SUDO_USER detection for the shared-group grant.
	AdminUser string `toml:"admin_user"`
}

// Module describes the out-of-tree kernel module managed through DKMS.
type Module struct {
	Name              string `toml:"name"`
	Version           string `toml:"version"`
	RepoURL           string `toml:"repo_url"`
	Branch            string `toml:"branch"`
	SourceRoot        string `toml:"source_root"`
	FetchTimeout      int    `toml:"fetch_timeout"`
	StaleCheckoutDays int    `toml:"stale_checkout_days"`
	// DeviceSubsystem enables post-load uevent verification when set.
	DeviceSubsystem   string `toml:"device_subsystem"`
	DeviceWaitSeconds int    `toml:"device_wait_seconds"`
}

// App describes the application source tree built and installed per run.
type App struct {
	SourceDir     string   `toml:"source_dir"`
	InstallPrefix string   `toml:"install_prefix"`
	ConfigureArgs []string `toml:"configure_args"`
}

// Sudo contains the privilege artifact destinations.
type Sudo struct {
	PolicyPath       string `toml:"policy_path"`
	LegacyPolicyPath string `toml:"legacy_policy_path"`
	HelperDir        string `toml:"helper_dir"`
}

// Services names the systemd units activated at the end of a run.
type Services struct {
	Health  string `toml:"health"`
	Backend string `toml:"backend"`
}

// Journal configures the provisioning run journal.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for rigup.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Packages   Packages   `toml:"packages"`
	Principals Principals `toml:"principals"`
	Module     Module     `toml:"module"`
	App        App        `toml:"app"`
	Sudo       Sudo       `toml:"sudo"`
	Services   Services   `toml:"services"`
	Journal    Journal    `toml:"journal"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the path consulted when --config is not given.
func DefaultConfigPath() string {
	return "/etc/rigup/config.toml"
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file actually existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolved, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		candidate = strings.TrimSpace(os.Getenv("RIGUP_CONFIG"))
	}
	if candidate == "" {
		candidate = DefaultConfigPath()
	}
	expanded, err := ExpandPath(candidate)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	switch {
	case err == nil && info.IsDir():
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	case err == nil:
		return expanded, true, nil
	case os.IsNotExist(err):
		return expanded, false, nil
	default:
		return "", false, fmt.Errorf("stat config path: %w", err)
	}
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Clean(path), nil
}

// JournalPath returns the effective journal database location.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// EnsureDirectories creates the directories rigup owns. The build workspace
// is deliberately excluded; the application build stage recreates it from
// scratch on every run.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes the embedded sample configuration to target.
func CreateSample(target string) error {
	return os.WriteFile(target, []byte(sampleConfig), 0o644)
}
