package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rigup/internal/provision"
	"rigup/internal/stage"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanCommandListsSteps(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.toml")
	out, err := runCommand(t, "plan", "--config", missing)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	for _, want := range []string{"Kernel Headers", "Module Load", "Backend Service", "advisory", "fatal"} {
		if !strings.Contains(out, want) {
			t.Fatalf("plan output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "etc", "config.toml")
	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output does not mention target: %s", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(target, []byte("# existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runCommand(t, "config", "init", "--path", target)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}

	if _, err := runCommand(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestConfigValidateWithDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.toml")
	out, err := runCommand(t, "config", "validate", "--config", missing)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected output: %s", out)
	}
	if !strings.Contains(out, "defaults were used") {
		t.Fatalf("expected defaults notice: %s", out)
	}
}

func TestRenderOutcomes(t *testing.T) {
	report := &provision.Report{
		RunID:         "run-1",
		KernelRelease: "6.10.3",
		Outcomes: []stage.Outcome{
			{Step: "packages", Policy: stage.PolicyFatal, Status: stage.StatusApplied, Detail: "ensured 6 packages", Duration: time.Second},
			{Step: "admin-membership", Policy: stage.PolicyAdvisory, Status: stage.StatusWarned, Detail: "sudo user unknown", Err: errors.New("sudo user unknown")},
		},
	}
	out := renderOutcomes(report)
	for _, want := range []string{"run-1", "6.10.3", "Packages", "Admin Membership", "applied", "warned"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestYesNo(t *testing.T) {
	if yesNo(true) != "yes" || yesNo(false) != "no" {
		t.Fatal("yesNo mapping broken")
	}
}
