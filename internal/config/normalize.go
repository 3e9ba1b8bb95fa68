package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIdentifiers()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = ExpandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.WorkspaceDir, err = ExpandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	if c.Module.SourceRoot, err = ExpandPath(c.Module.SourceRoot); err != nil {
		return fmt.Errorf("module.source_root: %w", err)
	}
	if c.App.SourceDir, err = ExpandPath(c.App.SourceDir); err != nil {
		return fmt.Errorf("app.source_dir: %w", err)
	}
	if c.Journal.Path, err = ExpandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeIdentifiers() {
	c.Packages.Manager = strings.TrimSpace(c.Packages.Manager)
	c.Packages.HeadersPackage = strings.TrimSpace(c.Packages.HeadersPackage)
	c.Principals.Group = strings.TrimSpace(c.Principals.Group)
	c.Principals.ServiceUser = strings.TrimSpace(c.Principals.ServiceUser)
	c.Principals.AdminUser = strings.TrimSpace(c.Principals.AdminUser)
	c.Module.Name = strings.TrimSpace(c.Module.Name)
	c.Module.Version = strings.TrimSpace(c.Module.Version)
	c.Module.Branch = strings.TrimSpace(c.Module.Branch)
	c.Module.RepoURL = strings.TrimSpace(c.Module.RepoURL)
	c.Services.Health = strings.TrimSpace(c.Services.Health)
	c.Services.Backend = strings.TrimSpace(c.Services.Backend)

	install := make([]string, 0, len(c.Packages.Install))
	for _, pkg := range c.Packages.Install {
		if pkg = strings.TrimSpace(pkg); pkg != "" {
			install = append(install, pkg)
		}
	}
	c.Packages.Install = install
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
