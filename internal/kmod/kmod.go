// Package kmod manages the out-of-tree kernel module lifecycle through DKMS:
// source checkout, registration, build against the running kernel, and load.
// Each transition re-reads system state so a re-run after a kernel upgrade
// rebuilds and reloads against the new kernel.
package kmod

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rigup/internal/config"
	"rigup/internal/inspect"
	"rigup/internal/logging"
	"rigup/internal/services"
	"rigup/internal/stage"
	"rigup/internal/sysexec"
)

// Manager walks one module instance, keyed by (name, version), through
// source sync, DKMS registration, build, and load.
type Manager struct {
	run    sysexec.Runner
	insp   *inspect.Inspector
	logger *slog.Logger

	name       string
	version    string
	repoURL    string
	branch     string
	sourceRoot string

	fetchTimeout time.Duration
	staleAfter   time.Duration

	subsystem  string
	deviceWait time.Duration
	watcher    DeviceWatcher

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDeviceWatcher injects the uevent watcher used for post-load
// verification. A nil watcher disables verification.
func WithDeviceWatcher(w DeviceWatcher) Option {
	return func(m *Manager) { m.watcher = w }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New constructs a Manager from configuration.
func New(cfg *config.Config, run sysexec.Runner, insp *inspect.Inspector, logger *slog.Logger, opts ...Option) *Manager {
	mgr := &Manager{
		run:          run,
		insp:         insp,
		logger:       logging.NewComponentLogger(logger, "kmod"),
		name:         cfg.Module.Name,
		version:      cfg.Module.Version,
		repoURL:      cfg.Module.RepoURL,
		branch:       cfg.Module.Branch,
		sourceRoot:   cfg.Module.SourceRoot,
		fetchTimeout: time.Duration(cfg.Module.FetchTimeout) * time.Second,
		staleAfter:   time.Duration(cfg.Module.StaleCheckoutDays) * 24 * time.Hour,
		subsystem:    cfg.Module.DeviceSubsystem,
		deviceWait:   time.Duration(cfg.Module.DeviceWaitSeconds) * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// SourceDir returns the versioned checkout location under the source root.
func (m *Manager) SourceDir() string {
	return filepath.Join(m.sourceRoot, fmt.Sprintf("%s-%s", m.name, m.version))
}

func (m *Manager) moduleSpec() string {
	return m.name + "/" + m.version
}

// SyncSource brings the module source checkout up to date. An existing
// checkout that cannot be synchronized (transient network failure) is used
// as-is with a warning; a missing checkout that cannot be cloned is fatal
// because there is no fallback source.
func (m *Manager) SyncSource(ctx context.Context) (stage.Result, error) {
	dir := m.SourceDir()

	fetchCtx := ctx
	if m.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, m.fetchTimeout)
		defer cancel()
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if err := m.git(fetchCtx, dir, "fetch", "origin", m.branch); err != nil {
			m.logger.Warn("module source fetch failed; continuing with existing checkout",
				logging.String("dir", dir),
				logging.Error(err),
			)
			m.warnIfStale(ctx, dir)
			return stage.Unchanged("fetch failed; using existing checkout"), nil
		}
		if err := m.git(fetchCtx, dir, "reset", "--hard", "origin/"+m.branch); err != nil {
			m.logger.Warn("module source reset failed; continuing with existing checkout",
				logging.String("dir", dir),
				logging.Error(err),
			)
			m.warnIfStale(ctx, dir)
			return stage.Unchanged("reset failed; using existing checkout"), nil
		}
		return stage.Applied(fmt.Sprintf("synchronized %s to origin/%s", dir, m.branch)), nil
	}

	if _, err := m.run.Run(fetchCtx, "git", "clone", "--branch", m.branch, m.repoURL, dir); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "module-source", "clone", m.repoURL, err)
	}
	return stage.Applied(fmt.Sprintf("cloned %s into %s", m.repoURL, dir)), nil
}

// warnIfStale surfaces the age of a checkout we are about to trust after a
// failed sync. The age never blocks the run.
func (m *Manager) warnIfStale(ctx context.Context, dir string) {
	if m.staleAfter <= 0 {
		return
	}
	out, err := m.run.Run(ctx, "git", "-C", dir, "log", "-1", "--format=%cI")
	if err != nil {
		return
	}
	committed, err := time.Parse(time.RFC3339, strings.TrimSpace(string(out)))
	if err != nil {
		return
	}
	if age := m.now().Sub(committed); age > m.staleAfter {
		m.logger.Warn("module checkout may be stale",
			logging.String("dir", dir),
			logging.Int("age_days", int(age.Hours()/24)),
		)
	}
}

// Register registers the module source with DKMS. Any existing registration
// of this exact (name, version) is removed first so a re-run never trips
// over "already registered"; a stuck removal is logged but does not block
// re-registration.
func (m *Manager) Register(ctx context.Context) (stage.Result, error) {
	out, err := m.run.Run(ctx, "dkms", "status", "-m", m.name, "-v", m.version)
	if err == nil && strings.TrimSpace(string(out)) != "" {
		if _, err := m.run.Run(ctx, "dkms", "remove", m.moduleSpec(), "--all"); err != nil {
			m.logger.Warn("stale dkms registration could not be removed; re-registering anyway",
				logging.String("module", m.moduleSpec()),
				logging.Error(err),
			)
		}
	}
	if _, err := m.run.Run(ctx, "dkms", "add", "-m", m.name, "-v", m.version); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "module-registration", "dkms add", m.moduleSpec(), err)
	}
	return stage.Applied("registered " + m.moduleSpec()), nil
}

// BuildForKernel builds and installs the module strictly against the running
// kernel release. Only the live system consumes the module, so other
// installed kernels are deliberately not built.
func (m *Manager) BuildForKernel(ctx context.Context, release string) (stage.Result, error) {
	if _, err := m.run.Run(ctx, "dkms", "build", "-m", m.name, "-v", m.version, "-k", release); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "module-build", "dkms build",
			fmt.Sprintf("%s for kernel %s", m.moduleSpec(), release), err)
	}
	if _, err := m.run.Run(ctx, "dkms", "install", "-m", m.name, "-v", m.version, "-k", release); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "module-build", "dkms install",
			fmt.Sprintf("%s for kernel %s", m.moduleSpec(), release), err)
	}
	return stage.Applied(fmt.Sprintf("built and installed %s for %s", m.moduleSpec(), release)), nil
}

// Load loads the freshly built module, unloading any resident instance
// first. A failed unload is logged and the load attempted anyway; an
// incompatible resident module then fails the load loudly, which is the
// acceptable terminal failure mode. Load failure is fatal.
func (m *Manager) Load(ctx context.Context) (stage.Result, error) {
	unloaded := false
	if m.insp.ModuleLoaded(m.name) {
		if _, err := m.run.Run(ctx, "modprobe", "--remove", m.name); err != nil {
			m.logger.Warn("resident module could not be unloaded; attempting load anyway",
				logging.String("module", m.name),
				logging.Error(err),
			)
		} else {
			unloaded = true
		}
	}

	watch := m.startDeviceWatch()

	if _, err := m.run.Run(ctx, "modprobe", m.name); err != nil {
		if watch != nil {
			watch.Close()
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "module-load", "modprobe", m.name, err)
	}

	detail := "loaded " + m.name
	if unloaded {
		detail = "reloaded " + m.name
	}
	if watch != nil {
		defer watch.Close()
		if err := watch.Wait(m.deviceWait); err != nil {
			m.logger.Warn("no device event observed after module load",
				logging.String("subsystem", m.subsystem),
				logging.Error(err),
			)
		} else {
			detail += " (device event observed)"
		}
	}
	return stage.Applied(detail), nil
}

// startDeviceWatch begins listening for the module's device uevent before
// the load so the event cannot be missed. Verification is best-effort.
func (m *Manager) startDeviceWatch() DeviceWatch {
	if m.watcher == nil || m.subsystem == "" {
		return nil
	}
	watch, err := m.watcher.Start(m.subsystem)
	if err != nil {
		m.logger.Warn("device event verification unavailable", logging.Error(err))
		return nil
	}
	return watch
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) error {
	_, err := m.run.Run(ctx, "git", append([]string{"-C", dir}, args...)...)
	return err
}
