package provision

import (
	"context"
	"log/slog"

	"rigup/internal/appbuild"
	"rigup/internal/config"
	"rigup/internal/inspect"
	"rigup/internal/kmod"
	"rigup/internal/pkgmgr"
	"rigup/internal/principal"
	"rigup/internal/stage"
	"rigup/internal/sudoers"
	"rigup/internal/sysexec"
	"rigup/internal/systemd"
)

// Deps bundles the stage collaborators the plan dispatches to.
type Deps struct {
	Inspector  *inspect.Inspector
	Packages   *pkgmgr.Manager
	Principals *principal.Manager
	Sudo       *sudoers.Installer
	Module     *kmod.Manager
	App        *appbuild.Builder
	Services   *systemd.Manager
	Logger     *slog.Logger
}

// DefaultDeps wires the real collaborators for a provisioning run.
func DefaultDeps(cfg *config.Config, logger *slog.Logger) Deps {
	run := sysexec.New()
	insp := inspect.New(run)
	return Deps{
		Inspector:  insp,
		Packages:   pkgmgr.New(run, cfg.Packages.Manager, logger),
		Principals: principal.New(run, insp, logger),
		Sudo:       sudoers.New(cfg, run, logger),
		Module:     kmod.New(cfg, run, insp, logger, kmod.WithDeviceWatcher(kmod.NewNetlinkWatcher(logger))),
		App:        appbuild.New(cfg, run, logger),
		Services:   systemd.New(run, logger),
		Logger:     logger,
	}
}

// BuildPlan assembles the fixed dependency-ordered step list. The
// fatal/advisory policy for every step lives here, as data, so the whole
// failure posture of a run is visible in one place.
func BuildPlan(cfg *config.Config, kernelRelease string, d Deps) []stage.Step {
	return []stage.Step{
		{
			Name:   "selinux-check",
			Policy: stage.PolicyAdvisory,
			Run:    selinuxAdvisory(d.Inspector, d.Logger),
		},
		{
			Name:   "packages",
			Policy: stage.PolicyFatal,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Packages.EnsureInstalled(ctx, cfg.Packages.Install)
			},
		},
		{
			Name:   "kernel-headers",
			Policy: stage.PolicyFatal,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Packages.EnsureKernelHeaders(ctx, kernelRelease, cfg.Packages.HeadersPackage)
			},
		},
		{
			Name:   "shared-group",
			Policy: stage.PolicyFatal,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Principals.EnsureGroup(ctx, cfg.Principals.Group)
			},
		},
		{
			Name:   "service-account",
			Policy: stage.PolicyFatal,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Principals.EnsureServiceAccount(ctx, cfg.Principals.ServiceUser, cfg.Principals.Group, cfg.Principals.LoginShell)
			},
		},
		{
			Name:   "service-account-membership",
			Policy: stage.PolicyFatal,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Principals.EnsureMembership(ctx, cfg.Principals.ServiceUser, cfg.Principals.Group)
			},
		},
		{
			Name:   "admin-membership",
			Policy: stage.PolicyAdvisory,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Principals.EnsureInvokerMembership(ctx, cfg.Principals.Group, cfg.Principals.AdminUser)
			},
		},
		{
			Name:   "privilege-helpers",
			Policy: stage.PolicyFatal,
			Run:    d.Sudo.InstallHelpers,
		},
		{
			Name:   "sudo-policy",
			Policy: stage.PolicyFatal,
			Run:    d.Sudo.InstallPolicy,
		},
		{
			Name:   "module-source",
			Policy: stage.PolicyFatal,
			Run:    d.Module.SyncSource,
		},
		{
			Name:   "module-registration",
			Policy: stage.PolicyFatal,
			Run:    d.Module.Register,
		},
		{
			Name:   "module-build",
			Policy: stage.PolicyFatal,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Module.BuildForKernel(ctx, kernelRelease)
			},
		},
		{
			Name:   "module-load",
			Policy: stage.PolicyFatal,
			Run:    d.Module.Load,
		},
		{
			Name:   "application-build",
			Policy: stage.PolicyFatal,
			Run:    d.App.BuildAndInstall,
		},
		{
			Name:   "tmpfiles-refresh",
			Policy: stage.PolicyAdvisory,
			Run:    d.Services.RefreshTmpfiles,
		},
		{
			Name:   "unit-cache-reload",
			Policy: stage.PolicyAdvisory,
			Run:    d.Services.ReloadUnits,
		},
		{
			Name:   "udev-rules-reload",
			Policy: stage.PolicyAdvisory,
			Run:    d.Services.ReloadUdevRules,
		},
		{
			Name:   "health-service",
			Policy: stage.PolicyFatal,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Services.EnableNow(ctx, cfg.Services.Health)
			},
		},
		{
			Name:   "backend-service",
			Policy: stage.PolicyFatal,
			Run: func(ctx context.Context) (stage.Result, error) {
				return d.Services.EnableNow(ctx, cfg.Services.Backend)
			},
		},
	}
}

// selinuxAdvisory emits a notice on enforcing hosts. It never errors and
// never alters control flow.
func selinuxAdvisory(insp *inspect.Inspector, logger *slog.Logger) stage.Func {
	return func(ctx context.Context) (stage.Result, error) {
		mode := insp.SELinuxStatus(ctx)
		if mode == inspect.SELinuxEnforcing {
			if logger != nil {
				logger.Warn("SELinux is enforcing; the rigio services may need local policy adjustments")
			}
			return stage.Unchanged("selinux enforcing; advisory only"), nil
		}
		return stage.Unchanged("selinux " + mode.String()), nil
	}
}
