// Package systemd consumes the service manager: cache reloads before
// activation, then enable-and-start of the persistent units.
package systemd

import (
	"context"
	"log/slog"

	"rigup/internal/logging"
	"rigup/internal/services"
	"rigup/internal/stage"
	"rigup/internal/sysexec"
)

// Manager wraps systemctl, systemd-tmpfiles, and udevadm.
type Manager struct {
	run    sysexec.Runner
	logger *slog.Logger
}

// New constructs a Manager.
func New(run sysexec.Runner, logger *slog.Logger) *Manager {
	return &Manager{
		run:    run,
		logger: logging.NewComponentLogger(logger, "systemd"),
	}
}

// RefreshTmpfiles re-applies ephemeral file rules. Runs under an advisory
// policy; services usually still activate after a failed refresh.
func (m *Manager) RefreshTmpfiles(ctx context.Context) (stage.Result, error) {
	if _, err := m.run.Run(ctx, "systemd-tmpfiles", "--create"); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "tmpfiles-refresh", "systemd-tmpfiles", "", err)
	}
	return stage.Applied("tmpfiles rules applied"), nil
}

// ReloadUnits reloads the service manager's unit cache so freshly installed
// unit files are visible.
func (m *Manager) ReloadUnits(ctx context.Context) (stage.Result, error) {
	if _, err := m.run.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "unit-cache-reload", "daemon-reload", "", err)
	}
	return stage.Applied("unit cache reloaded"), nil
}

// ReloadUdevRules reloads device-event rules and replays device events so
// rules installed this run apply to already-present hardware.
func (m *Manager) ReloadUdevRules(ctx context.Context) (stage.Result, error) {
	if _, err := m.run.Run(ctx, "udevadm", "control", "--reload-rules"); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "udev-rules-reload", "reload-rules", "", err)
	}
	if _, err := m.run.Run(ctx, "udevadm", "trigger"); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "udev-rules-reload", "trigger", "", err)
	}
	return stage.Applied("udev rules reloaded and triggered"), nil
}

// EnableNow enables and starts a unit. Enabling an already-enabled, running
// unit is a no-op reported as unchanged. Failure is fatal: the services are
// the entire purpose of the run.
func (m *Manager) EnableNow(ctx context.Context, unit string) (stage.Result, error) {
	if m.unitState(ctx, "is-enabled", unit) && m.unitState(ctx, "is-active", unit) {
		return stage.Unchanged(unit + " already enabled and running"), nil
	}
	if _, err := m.run.Run(ctx, "systemctl", "enable", "--now", unit); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "services", "enable --now", unit, err)
	}
	return stage.Applied("enabled and started " + unit), nil
}

func (m *Manager) unitState(ctx context.Context, verb, unit string) bool {
	_, err := m.run.Run(ctx, "systemctl", verb, unit)
	return err == nil
}
