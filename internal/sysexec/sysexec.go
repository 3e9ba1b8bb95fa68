// Package sysexec wraps system command execution behind a small interface so
// stage logic stays testable without mutating the host.
package sysexec

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes system commands and resolves binaries.
type Runner interface {
	// Run executes the command and returns its combined output. A non-nil
	// error is always a *CommandError wrapping the underlying exec failure.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookPath resolves a binary on PATH.
	LookPath(name string) (string, error)
}

type commandRunner struct{}

// New returns a Runner backed by os/exec.
func New() Runner { return commandRunner{} }

func (commandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &CommandError{Name: name, Args: args, Output: out, Err: err}
	}
	return out, nil
}

func (commandRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// CommandError records a failed command together with its captured output so
// operators can see why a stage failed without re-running anything.
type CommandError struct {
	Name   string
	Args   []string
	Output []byte
	Err    error
}

func (e *CommandError) Error() string {
	detail := OutputTail(e.Output, 4)
	if detail == "" {
		return fmt.Sprintf("%s: %v", CommandLine(e.Name, e.Args), e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", CommandLine(e.Name, e.Args), e.Err, detail)
}

func (e *CommandError) Unwrap() error { return e.Err }

// CommandLine renders a command invocation for logs and errors.
func CommandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// OutputTail returns the last non-empty lines of command output, flattened to
// a single line.
func OutputTail(output []byte, lines int) string {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return ""
	}
	all := strings.Split(trimmed, "\n")
	kept := make([]string, 0, lines)
	for i := len(all) - 1; i >= 0 && len(kept) < lines; i-- {
		line := strings.TrimSpace(all[i])
		if line == "" {
			continue
		}
		kept = append([]string{line}, kept...)
	}
	return strings.Join(kept, " | ")
}
