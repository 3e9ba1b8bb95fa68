// Package pkgmgr drives the OS package manager with ensure-installed
// semantics: installing an already-present package is a no-op, never an
// error.
package pkgmgr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"rigup/internal/logging"
	"rigup/internal/services"
	"rigup/internal/stage"
	"rigup/internal/sysexec"
)

// Manager wraps batch package installation and the kernel header match.
type Manager struct {
	run         sysexec.Runner
	binary      string
	logger      *slog.Logger
	modulesRoot string
}

// Option configures a Manager.
type Option func(*Manager)

// WithModulesRoot overrides the kernel modules root (tests).
func WithModulesRoot(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.modulesRoot = path
		}
	}
}

// New constructs a Manager for the given package manager binary.
func New(run sysexec.Runner, binary string, logger *slog.Logger, opts ...Option) *Manager {
	mgr := &Manager{
		run:         run,
		binary:      binary,
		logger:      logging.NewComponentLogger(logger, "pkgmgr"),
		modulesRoot: "/lib/modules",
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// EnsureInstalled installs the full declared package list in one batch call.
// Failure is fatal for the run; everything downstream depends on these.
func (m *Manager) EnsureInstalled(ctx context.Context, packages []string) (stage.Result, error) {
	if len(packages) == 0 {
		return stage.Unchanged("no packages declared"), nil
	}
	args := append([]string{"install", "-y"}, packages...)
	out, err := m.run.Run(ctx, m.binary, args...)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "packages", "install",
			fmt.Sprintf("batch install of %d packages failed", len(packages)), err)
	}
	if bytes.Contains(out, []byte("Nothing to do")) {
		return stage.Unchanged(fmt.Sprintf("all %d packages already installed", len(packages))), nil
	}
	return stage.Applied(fmt.Sprintf("ensured %d packages", len(packages))), nil
}

// EnsureKernelHeaders installs header files matching the running kernel. The
// exact-version package is preferred; a generic latest-headers package is an
// accepted fallback with a logged warning. Either way the build tree for the
// running kernel must exist afterwards or the stage fails.
func (m *Manager) EnsureKernelHeaders(ctx context.Context, release, genericPackage string) (stage.Result, error) {
	exact := fmt.Sprintf("%s-%s", genericPackage, release)
	detail := "installed " + exact

	if _, err := m.run.Run(ctx, m.binary, "install", "-y", exact); err != nil {
		m.logger.Warn("exact-version kernel header package unavailable; trying generic headers",
			logging.String("package", exact),
			logging.Error(err),
		)
		if _, err := m.run.Run(ctx, m.binary, "install", "-y", genericPackage); err != nil {
			return stage.Result{}, services.Wrap(services.ErrExternalTool, "kernel-headers", "install",
				fmt.Sprintf("neither %s nor %s could be installed", exact, genericPackage), err)
		}
		detail = "installed generic " + genericPackage
	}

	if !m.headersPresent(release) {
		return stage.Result{}, services.Wrap(services.ErrValidation, "kernel-headers", "verify",
			fmt.Sprintf("no kernel build tree at %s; the installed headers do not match the running kernel (a reboot into the latest kernel may be required)",
				m.buildTreePath(release)), nil)
	}
	return stage.Applied(detail), nil
}

func (m *Manager) headersPresent(release string) bool {
	info, err := os.Stat(m.buildTreePath(release))
	return err == nil && info.IsDir()
}

func (m *Manager) buildTreePath(release string) string {
	return filepath.Join(m.modulesRoot, release, "build")
}
