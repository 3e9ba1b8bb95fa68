// Package inspect performs read-only system probes. Probes never fail a
// provisioning run: anything unanswerable degrades to a negative or unknown
// answer instead of an error.
package inspect

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"rigup/internal/sysexec"
)

// SELinuxMode reports the host's SELinux enforcement state.
type SELinuxMode int

const (
	SELinuxUnknown SELinuxMode = iota
	SELinuxEnforcing
	SELinuxPermissive
	SELinuxDisabled
)

func (m SELinuxMode) String() string {
	switch m {
	case SELinuxEnforcing:
		return "enforcing"
	case SELinuxPermissive:
		return "permissive"
	case SELinuxDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Inspector answers questions about current system state. Every mutating
// stage consults it before acting; it never caches between calls.
type Inspector struct {
	run         sysexec.Runner
	procModules string
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithProcModules overrides the module table location (tests).
func WithProcModules(path string) Option {
	return func(i *Inspector) {
		if path != "" {
			i.procModules = path
		}
	}
}

// New constructs an Inspector using the provided command runner.
func New(run sysexec.Runner, opts ...Option) *Inspector {
	insp := &Inspector{run: run, procModules: "/proc/modules"}
	for _, opt := range opts {
		opt(insp)
	}
	return insp
}

// KernelRelease returns the running kernel release (uname -r).
func (i *Inspector) KernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// GroupExists reports whether the named group is known to the system.
func (i *Inspector) GroupExists(ctx context.Context, name string) bool {
	_, err := i.run.Run(ctx, "getent", "group", name)
	return err == nil
}

// UserExists reports whether the named account is known to the system.
func (i *Inspector) UserExists(ctx context.Context, name string) bool {
	_, err := i.run.Run(ctx, "getent", "passwd", name)
	return err == nil
}

// UserInGroup reports whether user currently holds membership in group.
func (i *Inspector) UserInGroup(ctx context.Context, user, group string) bool {
	out, err := i.run.Run(ctx, "id", "-nG", user)
	if err != nil {
		return false
	}
	for _, name := range strings.Fields(string(out)) {
		if name == group {
			return true
		}
	}
	return false
}

// ModuleLoaded reports whether a kernel module with the given name is
// currently resident. Dashes and underscores are interchangeable in module
// names, so both spellings match.
func (i *Inspector) ModuleLoaded(name string) bool {
	file, err := os.Open(i.procModules)
	if err != nil {
		return false
	}
	defer file.Close()

	want := normalizeModuleName(name)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if normalizeModuleName(fields[0]) == want {
			return true
		}
	}
	return false
}

// SELinuxStatus returns the current enforcement mode, degrading to unknown
// when the SELinux tooling is absent or unreadable.
func (i *Inspector) SELinuxStatus(ctx context.Context) SELinuxMode {
	if _, err := i.run.LookPath("getenforce"); err != nil {
		return SELinuxUnknown
	}
	out, err := i.run.Run(ctx, "getenforce")
	if err != nil {
		return SELinuxUnknown
	}
	switch strings.ToLower(strings.TrimSpace(string(out))) {
	case "enforcing":
		return SELinuxEnforcing
	case "permissive":
		return SELinuxPermissive
	case "disabled":
		return SELinuxDisabled
	default:
		return SELinuxUnknown
	}
}

// InvokingUser resolves the human operator behind an elevated run. An
// explicit override wins; otherwise SUDO_USER is consulted. Returns false
// when no non-root invoker can be determined.
func InvokingUser(override string) (string, bool) {
	if override = strings.TrimSpace(override); override != "" {
		return override, true
	}
	user := strings.TrimSpace(os.Getenv("SUDO_USER"))
	if user == "" || user == "root" {
		return "", false
	}
	return user, true
}

func normalizeModuleName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "-", "_")
}
