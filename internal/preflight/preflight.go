// Package preflight runs read-only environment checks consumed by the
// status command. Checks report; they never mutate and never abort.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"rigup/internal/config"
	"rigup/internal/inspect"
	"rigup/internal/sysexec"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RequiredBinaries lists the external tools a provisioning run invokes.
func RequiredBinaries(cfg *config.Config) []string {
	return []string{
		cfg.Packages.Manager,
		"git",
		"dkms",
		"modprobe",
		"cmake",
		"systemctl",
		"udevadm",
		"systemd-tmpfiles",
		"getent",
		"groupadd",
		"useradd",
		"usermod",
		"visudo",
	}
}

// RunAll executes all preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, run sysexec.Runner, insp *inspect.Inspector) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, binary := range RequiredBinaries(cfg) {
		results = append(results, checkBinary(run, binary))
	}
	results = append(results, checkStateDir(cfg.Paths.StateDir))
	results = append(results, checkSELinux(ctx, insp))
	return results
}

func checkBinary(run sysexec.Runner, binary string) Result {
	result := Result{Name: "binary " + binary}
	path, err := run.LookPath(binary)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found on PATH", binary)
		return result
	}
	result.Passed = true
	result.Detail = path
	return result
}

func checkStateDir(dir string) Result {
	result := Result{Name: "state directory"}
	if dir == "" {
		result.Detail = "state_dir not configured"
		return result
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Detail = err.Error()
		return result
	}
	probe := filepath.Join(dir, ".rigup-write-probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		result.Detail = fmt.Sprintf("%s is not writable: %v", dir, err)
		return result
	}
	_ = os.Remove(probe)
	result.Passed = true
	result.Detail = dir
	return result
}

// checkSELinux always passes; an enforcing host only earns an advisory note.
func checkSELinux(ctx context.Context, insp *inspect.Inspector) Result {
	mode := insp.SELinuxStatus(ctx)
	result := Result{Name: "selinux", Passed: true, Detail: mode.String()}
	if mode == inspect.SELinuxEnforcing {
		result.Detail = "enforcing; the rigio services may need local policy adjustments"
	}
	return result
}
