// Package principal manages the system group and service account the rigio
// stack runs under. Every operation checks current state through the
// inspector before mutating, and membership changes are additive only.
package principal

import (
	"context"
	"fmt"
	"log/slog"

	"rigup/internal/inspect"
	"rigup/internal/logging"
	"rigup/internal/services"
	"rigup/internal/stage"
	"rigup/internal/sysexec"
)

// Manager creates groups and accounts and wires memberships.
type Manager struct {
	run    sysexec.Runner
	insp   *inspect.Inspector
	logger *slog.Logger
}

// New constructs a Manager.
func New(run sysexec.Runner, insp *inspect.Inspector, logger *slog.Logger) *Manager {
	return &Manager{
		run:    run,
		insp:   insp,
		logger: logging.NewComponentLogger(logger, "principal"),
	}
}

// EnsureGroup creates a system group unless it already exists.
func (m *Manager) EnsureGroup(ctx context.Context, name string) (stage.Result, error) {
	if m.insp.GroupExists(ctx, name) {
		return stage.Unchanged(fmt.Sprintf("group %s exists", name)), nil
	}
	if _, err := m.run.Run(ctx, "groupadd", "--system", name); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "principals", "groupadd", name, err)
	}
	return stage.Applied("created group " + name), nil
}

// EnsureServiceAccount creates a system account with a disabled login shell
// unless it already exists. Group membership is verified separately so a
// pre-existing account still ends up in the shared group.
func (m *Manager) EnsureServiceAccount(ctx context.Context, user, primaryGroup, shell string) (stage.Result, error) {
	if m.insp.UserExists(ctx, user) {
		return stage.Unchanged(fmt.Sprintf("account %s exists", user)), nil
	}
	args := []string{
		"--system",
		"--gid", primaryGroup,
		"--shell", shell,
		"--no-create-home",
		user,
	}
	if _, err := m.run.Run(ctx, "useradd", args...); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "principals", "useradd", user, err)
	}
	return stage.Applied(fmt.Sprintf("created service account %s (group %s)", user, primaryGroup)), nil
}

// EnsureMembership adds user to group unless already a member. It never
// revokes memberships; group membership is monotonic across runs.
func (m *Manager) EnsureMembership(ctx context.Context, user, group string) (stage.Result, error) {
	if m.insp.UserInGroup(ctx, user, group) {
		return stage.Unchanged(fmt.Sprintf("%s already in %s", user, group)), nil
	}
	if _, err := m.run.Run(ctx, "usermod", "--append", "--groups", group, user); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, "principals", "usermod",
			fmt.Sprintf("add %s to %s", user, group), err)
	}
	return stage.Applied(fmt.Sprintf("added %s to %s", user, group)), nil
}

// EnsureInvokerMembership grants the invoking human operator membership in
// the shared group. When no invoker can be determined the error instructs
// manual follow-up; the step runs under an advisory policy so this never
// aborts the run.
func (m *Manager) EnsureInvokerMembership(ctx context.Context, group, override string) (stage.Result, error) {
	user, ok := inspect.InvokingUser(override)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrNotFound, "principals", "invoking-user",
			fmt.Sprintf("could not determine the invoking user; run 'usermod -aG %s <your-user>' manually", group), nil)
	}
	return m.EnsureMembership(ctx, user, group)
}
