// Package appbuild configures, compiles, and installs the application from
// source. The build workspace is disposable: it is deleted and recreated on
// every run so stale cached configuration can never cause a silent misbuild.
package appbuild

import (
	"context"
	"log/slog"
	"os"

	"rigup/internal/config"
	"rigup/internal/logging"
	"rigup/internal/services"
	"rigup/internal/stage"
	"rigup/internal/sysexec"
)

// Builder drives the cmake configure/compile/install sequence.
type Builder struct {
	run           sysexec.Runner
	logger        *slog.Logger
	sourceDir     string
	workspace     string
	prefix        string
	configureArgs []string
}

// New constructs a Builder from configuration.
func New(cfg *config.Config, run sysexec.Runner, logger *slog.Logger) *Builder {
	return &Builder{
		run:           run,
		logger:        logging.NewComponentLogger(logger, "appbuild"),
		sourceDir:     cfg.App.SourceDir,
		workspace:     cfg.Paths.WorkspaceDir,
		prefix:        cfg.App.InstallPrefix,
		configureArgs: cfg.App.ConfigureArgs,
	}
}

// BuildAndInstall runs configure, compile, and install. Each phase is fatal
// on failure; a failed compile never reaches install.
func (b *Builder) BuildAndInstall(ctx context.Context) (stage.Result, error) {
	if err := os.RemoveAll(b.workspace); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "application-build", "clean workspace", b.workspace, err)
	}
	if err := os.MkdirAll(b.workspace, 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "application-build", "create workspace", b.workspace, err)
	}

	configure := []string{
		"-S", b.sourceDir,
		"-B", b.workspace,
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=" + b.prefix,
	}
	configure = append(configure, b.configureArgs...)
	if _, err := b.run.Run(ctx, "cmake", configure...); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "application-build", "configure", b.sourceDir, err)
	}

	if _, err := b.run.Run(ctx, "cmake", "--build", b.workspace, "--parallel"); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "application-build", "compile", b.workspace, err)
	}

	if _, err := b.run.Run(ctx, "cmake", "--install", b.workspace); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "application-build", "install", b.prefix, err)
	}

	return stage.Applied("installed under " + b.prefix), nil
}
