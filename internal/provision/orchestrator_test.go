package provision_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"rigup/internal/journal"
	"rigup/internal/logging"
	"rigup/internal/provision"
	"rigup/internal/stage"
	"rigup/internal/testsupport"
)

const kernel = "6.10.3-200.fc40.x86_64"

func step(name string, policy stage.Policy, fn stage.Func) stage.Step {
	return stage.Step{Name: name, Policy: policy, Run: fn}
}

func ok(detail string) stage.Func {
	return func(context.Context) (stage.Result, error) { return stage.Applied(detail), nil }
}

func noop(detail string) stage.Func {
	return func(context.Context) (stage.Result, error) { return stage.Unchanged(detail), nil }
}

func fail(msg string) stage.Func {
	return func(context.Context) (stage.Result, error) { return stage.Result{}, errors.New(msg) }
}

func TestRunExecutesAllSteps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var order []string
	record := func(name string) stage.Func {
		return func(context.Context) (stage.Result, error) {
			order = append(order, name)
			return stage.Applied(name), nil
		}
	}
	steps := []stage.Step{
		step("one", stage.PolicyFatal, record("one")),
		step("two", stage.PolicyAdvisory, record("two")),
		step("three", stage.PolicyFatal, record("three")),
	}

	orch := provision.New(cfg, logging.NewNop(), kernel, steps)
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed {
		t.Fatal("expected successful run")
	}
	if len(report.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(report.Outcomes))
	}
	if strings.Join(order, ",") != "one,two,three" {
		t.Fatalf("steps ran out of order: %v", order)
	}
	for _, outcome := range report.Outcomes {
		if outcome.Status != stage.StatusApplied {
			t.Fatalf("unexpected status: %+v", outcome)
		}
	}
	if report.RunID == "" || report.KernelRelease != kernel {
		t.Fatalf("unexpected report metadata: %+v", report)
	}
}

func TestRunRecordsUnchangedSteps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	steps := []stage.Step{
		step("one", stage.PolicyFatal, noop("already there")),
	}

	orch := provision.New(cfg, logging.NewNop(), kernel, steps)
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcomes[0].Status != stage.StatusUnchanged {
		t.Fatalf("unexpected status: %+v", report.Outcomes[0])
	}
	if report.Outcomes[0].Detail != "already there" {
		t.Fatalf("unexpected detail: %+v", report.Outcomes[0])
	}
}

func TestAdvisoryFailureContinues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	steps := []stage.Step{
		step("warned", stage.PolicyAdvisory, fail("sudo user unknown")),
		step("after", stage.PolicyFatal, ok("done")),
	}

	orch := provision.New(cfg, logging.NewNop(), kernel, steps)
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("advisory failure must not abort: %v", err)
	}
	if report.Failed {
		t.Fatal("run must not be marked failed")
	}
	if report.Outcomes[0].Status != stage.StatusWarned {
		t.Fatalf("unexpected status: %+v", report.Outcomes[0])
	}
	if report.Outcomes[1].Status != stage.StatusApplied {
		t.Fatal("subsequent step must still run")
	}
}

func TestFatalFailureAborts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ran := false
	steps := []stage.Step{
		step("broken", stage.PolicyFatal, fail("dkms build failed")),
		step("never", stage.PolicyFatal, func(context.Context) (stage.Result, error) {
			ran = true
			return stage.Applied(""), nil
		}),
	}

	orch := provision.New(cfg, logging.NewNop(), kernel, steps)
	report, err := orch.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from fatal step")
	}
	if !strings.Contains(err.Error(), "step broken failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Failed {
		t.Fatal("report must be marked failed")
	}
	if ran {
		t.Fatal("steps after a fatal failure must not run")
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Status != stage.StatusFailed {
		t.Fatalf("unexpected outcomes: %+v", report.Outcomes)
	}
}

func TestRunJournalsOutcomes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	steps := []stage.Step{
		step("one", stage.PolicyFatal, ok("applied one")),
		step("two", stage.PolicyAdvisory, fail("probe failed")),
	}
	orch := provision.New(cfg, logging.NewNop(), kernel, steps, provision.WithJournal(store))
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := store.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID {
		t.Fatalf("unexpected journaled runs: %+v", runs)
	}
	if runs[0].Status != journal.RunStatusSucceeded {
		t.Fatalf("unexpected run status: %q", runs[0].Status)
	}
	if runs[0].KernelRelease != kernel {
		t.Fatalf("unexpected kernel: %q", runs[0].KernelRelease)
	}

	recorded, err := store.RunSteps(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("RunSteps: %v", err)
	}
	if len(recorded) != 2 {
		t.Fatalf("expected 2 journaled steps, got %d", len(recorded))
	}
	if recorded[0].Status != stage.StatusApplied || recorded[1].Status != stage.StatusWarned {
		t.Fatalf("unexpected journaled statuses: %+v", recorded)
	}
	if recorded[1].Error != "probe failed" {
		t.Fatalf("unexpected journaled error: %+v", recorded[1])
	}
}

func TestFailedRunJournaled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	steps := []stage.Step{step("broken", stage.PolicyFatal, fail("boom"))}
	orch := provision.New(cfg, logging.NewNop(), kernel, steps, provision.WithJournal(store))
	if _, err := orch.Run(context.Background()); err == nil {
		t.Fatal("expected run failure")
	}

	runs, err := store.RecentRuns(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != journal.RunStatusFailed {
		t.Fatalf("unexpected journaled runs: %+v", runs)
	}
}

func TestConcurrentRunRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	held := flock.New(filepath.Join(cfg.Paths.StateDir, "rigup.lock"))
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("prelock failed: locked=%v err=%v", locked, err)
	}
	defer held.Unlock()

	orch := provision.New(cfg, logging.NewNop(), kernel, []stage.Step{step("one", stage.PolicyFatal, ok(""))})
	_, err = orch.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already active") {
		t.Fatalf("expected lock contention error, got %v", err)
	}
}

func TestBuildPlanShape(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	steps := provision.BuildPlan(cfg, kernel, provision.Deps{})

	wantOrder := []string{
		"selinux-check",
		"packages",
		"kernel-headers",
		"shared-group",
		"service-account",
		"service-account-membership",
		"admin-membership",
		"privilege-helpers",
		"sudo-policy",
		"module-source",
		"module-registration",
		"module-build",
		"module-load",
		"application-build",
		"tmpfiles-refresh",
		"unit-cache-reload",
		"udev-rules-reload",
		"health-service",
		"backend-service",
	}
	if len(steps) != len(wantOrder) {
		t.Fatalf("expected %d steps, got %d", len(wantOrder), len(steps))
	}
	advisory := map[string]bool{
		"selinux-check":     true,
		"admin-membership":  true,
		"tmpfiles-refresh":  true,
		"unit-cache-reload": true,
		"udev-rules-reload": true,
	}
	for i, want := range wantOrder {
		if steps[i].Name != want {
			t.Fatalf("step %d = %q, want %q", i, steps[i].Name, want)
		}
		wantPolicy := stage.PolicyFatal
		if advisory[want] {
			wantPolicy = stage.PolicyAdvisory
		}
		if steps[i].Policy != wantPolicy {
			t.Fatalf("step %q policy = %q, want %q", want, steps[i].Policy, wantPolicy)
		}
		if steps[i].Run == nil {
			t.Fatalf("step %q has no runner", want)
		}
	}
}
