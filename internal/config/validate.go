package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePackages(); err != nil {
		return err
	}
	if err := c.validatePrincipals(); err != nil {
		return err
	}
	if err := c.validateModule(); err != nil {
		return err
	}
	if err := c.validateApp(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePackages() error {
	if c.Packages.Manager == "" {
		return errors.New("packages.manager must be set")
	}
	if c.Packages.HeadersPackage == "" {
		return errors.New("packages.headers_package must be set")
	}
	return nil
}

func (c *Config) validatePrincipals() error {
	if c.Principals.Group == "" {
		return errors.New("principals.group must be set")
	}
	if c.Principals.ServiceUser == "" {
		return errors.New("principals.service_user must be set")
	}
	if c.Principals.LoginShell == "" {
		return errors.New("principals.login_shell must be set")
	}
	return nil
}

func (c *Config) validateModule() error {
	if c.Module.Name == "" {
		return errors.New("module.name must be set")
	}
	if c.Module.Version == "" {
		return errors.New("module.version must be set")
	}
	if c.Module.RepoURL == "" {
		return errors.New("module.repo_url must be set")
	}
	if c.Module.Branch == "" {
		return errors.New("module.branch must be set")
	}
	if c.Module.SourceRoot == "" {
		return errors.New("module.source_root must be set")
	}
	if c.Module.FetchTimeout < 0 {
		return errors.New("module.fetch_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateApp() error {
	if c.App.SourceDir == "" {
		return errors.New("app.source_dir must be set")
	}
	if c.App.InstallPrefix == "" {
		return errors.New("app.install_prefix must be set")
	}
	if c.Paths.WorkspaceDir == "" {
		return errors.New("paths.workspace_dir must be set")
	}
	if c.Paths.WorkspaceDir == c.App.SourceDir {
		return errors.New("paths.workspace_dir must differ from app.source_dir; the workspace is deleted every run")
	}
	return nil
}

func (c *Config) validateServices() error {
	for _, unit := range []string{c.Services.Health, c.Services.Backend} {
		if unit == "" {
			return errors.New("services.health and services.backend must be set")
		}
		if !strings.HasSuffix(unit, ".service") {
			return fmt.Errorf("service unit %q must end in .service", unit)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
}
