package testsupport

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Call records one command executed through the fake runner.
type Call struct {
	Name string
	Args []string
}

// Line renders the call as a single command line.
func (c Call) Line() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

type response struct {
	output []byte
	err    error
}

// FakeRunner implements sysexec.Runner with scripted responses keyed by full
// command line. Unscripted commands succeed with empty output.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]response
	missing   map[string]bool
	calls     []Call
}

// NewFakeRunner constructs an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		responses: make(map[string]response),
		missing:   make(map[string]bool),
	}
}

// Stub registers the output and error returned for an exact command line.
func (f *FakeRunner) Stub(cmdline, output string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmdline] = response{output: []byte(output), err: err}
}

// Fail registers a generic failure for an exact command line.
func (f *FakeRunner) Fail(cmdline, message string) {
	f.Stub(cmdline, message, fmt.Errorf("%s: exit status 1", cmdline))
}

// StubMissing makes LookPath report the binary as absent.
func (f *FakeRunner) StubMissing(binary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[binary] = true
}

// Run implements sysexec.Runner.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := Call{Name: name, Args: args}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	resp, ok := f.responses[call.Line()]
	f.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return resp.output, resp.err
}

// LookPath implements sysexec.Runner.
func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
	}
	return "/usr/bin/" + name, nil
}

// CommandLines returns every executed command line in order.
func (f *FakeRunner) CommandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		lines = append(lines, call.Line())
	}
	return lines
}

// Ran reports whether any executed command line starts with prefix.
func (f *FakeRunner) Ran(prefix string) bool {
	for _, line := range f.CommandLines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
