// Package sudoers installs the privilege artifacts: the helper executables
// the service account is allowed to run, and the sudoers drop-in granting
// narrowly-scoped passwordless execution of exactly those helpers.
package sudoers

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"rigup/internal/config"
	"rigup/internal/fileutil"
	"rigup/internal/logging"
	"rigup/internal/services"
	"rigup/internal/stage"
	"rigup/internal/sysexec"
)

//go:embed helpers/rigio-claim helpers/rigio-reset
var helperFS embed.FS

// helperNames lists the embedded helpers in install order.
var helperNames = []string{"rigio-claim", "rigio-reset"}

const (
	helperMode = os.FileMode(0o755)
	policyMode = os.FileMode(0o440)
)

// Installer places the helper scripts and the sudo policy file.
type Installer struct {
	run              sysexec.Runner
	logger           *slog.Logger
	helperDir        string
	policyPath       string
	legacyPolicyPath string
	serviceUser      string
}

// New constructs an Installer from configuration.
func New(cfg *config.Config, run sysexec.Runner, logger *slog.Logger) *Installer {
	return &Installer{
		run:              run,
		logger:           logging.NewComponentLogger(logger, "sudoers"),
		helperDir:        cfg.Sudo.HelperDir,
		policyPath:       cfg.Sudo.PolicyPath,
		legacyPolicyPath: cfg.Sudo.LegacyPolicyPath,
		serviceUser:      cfg.Principals.ServiceUser,
	}
}

// InstallHelpers writes the helper executables with fixed permissions.
// Failure is fatal: without the helpers the service account cannot perform
// its privileged hardware operations.
func (ins *Installer) InstallHelpers(ctx context.Context) (stage.Result, error) {
	if err := os.MkdirAll(ins.helperDir, 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "privilege-helpers", "mkdir", ins.helperDir, err)
	}

	changed := 0
	for _, name := range helperNames {
		data, err := helperFS.ReadFile("helpers/" + name)
		if err != nil {
			return stage.Result{}, services.Wrap(services.ErrConfiguration, "privilege-helpers", "embed", name, err)
		}
		dst := filepath.Join(ins.helperDir, name)
		if fileutil.SameContent(dst, data) && fileutil.SameMode(dst, helperMode) {
			continue
		}
		if err := fileutil.WriteFileAtomic(dst, data, helperMode); err != nil {
			return stage.Result{}, services.Wrap(services.ErrExternalTool, "privilege-helpers", "install", name, err)
		}
		changed++
	}

	if changed == 0 {
		return stage.Unchanged("helpers up to date"), nil
	}
	return stage.Applied(fmt.Sprintf("installed %d helpers under %s", changed, ins.helperDir)), nil
}

// InstallPolicy fully replaces the sudoers drop-in: the old file is removed
// and a fresh one installed on every run, never edited in place. A
// superseded legacy drop-in is removed first so stale grants cannot linger.
func (ins *Installer) InstallPolicy(ctx context.Context) (stage.Result, error) {
	if err := os.MkdirAll(filepath.Dir(ins.policyPath), 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "sudo-policy", "mkdir", filepath.Dir(ins.policyPath), err)
	}
	if removed, err := fileutil.RemoveIfExists(ins.legacyPolicyPath); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "sudo-policy", "remove-legacy", ins.legacyPolicyPath, err)
	} else if removed {
		ins.logger.Info("removed superseded sudo policy", logging.String("path", ins.legacyPolicyPath))
	}

	data := []byte(ins.renderPolicy())
	if err := ins.checkPolicy(ctx, data); err != nil {
		return stage.Result{}, err
	}

	if _, err := fileutil.RemoveIfExists(ins.policyPath); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "sudo-policy", "remove", ins.policyPath, err)
	}
	if err := fileutil.WriteFileAtomic(ins.policyPath, data, policyMode); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "sudo-policy", "install", ins.policyPath, err)
	}
	return stage.Applied("replaced sudo policy at " + ins.policyPath), nil
}

// checkPolicy runs visudo against a staged copy before installing. A host
// without visudo skips the check rather than failing.
func (ins *Installer) checkPolicy(ctx context.Context, data []byte) error {
	if _, err := ins.run.LookPath("visudo"); err != nil {
		ins.logger.Warn("visudo not found; installing sudo policy without syntax check")
		return nil
	}

	staged, err := os.CreateTemp(filepath.Dir(ins.policyPath), ".rigup-sudoers.*")
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "sudo-policy", "stage", "create temp policy", err)
	}
	stagedPath := staged.Name()
	defer func() { _ = os.Remove(stagedPath) }()

	if _, err := staged.Write(data); err != nil {
		_ = staged.Close()
		return services.Wrap(services.ErrExternalTool, "sudo-policy", "stage", "write temp policy", err)
	}
	if err := staged.Close(); err != nil {
		return services.Wrap(services.ErrExternalTool, "sudo-policy", "stage", "close temp policy", err)
	}

	if _, err := ins.run.Run(ctx, "visudo", "--check", "--file", stagedPath); err != nil {
		return services.Wrap(services.ErrValidation, "sudo-policy", "visudo", "generated policy failed validation", err)
	}
	return nil
}

func (ins *Installer) renderPolicy() string {
	helpers := make([]string, 0, len(helperNames))
	for _, name := range helperNames {
		helpers = append(helpers, filepath.Join(ins.helperDir, name))
	}
	var b strings.Builder
	b.WriteString("# Managed by rigup. Do not edit; rerun 'rigup provision' instead.\n")
	b.WriteString("Cmnd_Alias RIGIO_HELPERS = " + strings.Join(helpers, ", ") + "\n")
	b.WriteString(ins.serviceUser + " ALL=(root) NOPASSWD: RIGIO_HELPERS\n")
	return b.String()
}
