package kmod_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rigup/internal/config"
	"rigup/internal/inspect"
	"rigup/internal/kmod"
	"rigup/internal/logging"
	"rigup/internal/services"
	"rigup/internal/testsupport"
)

const release = "6.10.3-200.fc40.x86_64"

func newManager(t *testing.T, cfg *config.Config, run *testsupport.FakeRunner, procModules string, opts ...kmod.Option) *kmod.Manager {
	t.Helper()
	inspOpts := []inspect.Option{}
	if procModules != "" {
		inspOpts = append(inspOpts, inspect.WithProcModules(procModules))
	}
	insp := inspect.New(run, inspOpts...)
	return kmod.New(cfg, run, insp, logging.NewNop(), opts...)
}

func TestSyncSourceClonesFreshCheckout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	mgr := newManager(t, cfg, run, "")

	result, err := mgr.SyncSource(context.Background())
	if err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected applied result for fresh clone")
	}
	want := "git clone --branch main " + cfg.Module.RepoURL + " " + mgr.SourceDir()
	if !run.Ran(want) {
		t.Fatalf("expected %q, got %v", want, run.CommandLines())
	}
}

func TestSyncSourceCloneFailureIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	mgr := newManager(t, cfg, run, "")
	run.Fail("git clone --branch main "+cfg.Module.RepoURL+" "+mgr.SourceDir(), "could not resolve host")

	_, err := mgr.SyncSource(context.Background())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

func TestSyncSourceUpdatesExistingCheckout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	mgr := newManager(t, cfg, run, "")
	mustMkdir(t, filepath.Join(mgr.SourceDir(), ".git"))

	result, err := mgr.SyncSource(context.Background())
	if err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected applied result after sync")
	}
	dir := mgr.SourceDir()
	lines := run.CommandLines()
	if len(lines) != 2 || lines[0] != "git -C "+dir+" fetch origin main" || lines[1] != "git -C "+dir+" reset --hard origin/main" {
		t.Fatalf("unexpected git sequence: %v", lines)
	}
}

func TestSyncSourceFetchFailureFallsBackToCheckout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mgr := newManager(t, cfg, run, "", kmod.WithClock(func() time.Time { return fixed }))
	dir := mgr.SourceDir()
	mustMkdir(t, filepath.Join(dir, ".git"))

	run.Fail("git -C "+dir+" fetch origin main", "could not resolve host")
	// Checkout older than the configured staleness window.
	run.Stub("git -C "+dir+" log -1 --format=%cI", "2026-01-01T00:00:00Z\n", nil)

	result, err := mgr.SyncSource(context.Background())
	if err != nil {
		t.Fatalf("offline sync must not fail: %v", err)
	}
	if result.Changed {
		t.Fatal("expected unchanged result")
	}
	if !strings.Contains(result.Detail, "using existing checkout") {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
	if !run.Ran("git -C " + dir + " log -1") {
		t.Fatal("expected checkout age to be consulted after failed fetch")
	}
}

func TestSyncSourceResetFailureFallsBackToCheckout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	mgr := newManager(t, cfg, run, "")
	dir := mgr.SourceDir()
	mustMkdir(t, filepath.Join(dir, ".git"))
	run.Fail("git -C "+dir+" reset --hard origin/main", "ref lock held")

	result, err := mgr.SyncSource(context.Background())
	if err != nil {
		t.Fatalf("offline sync must not fail: %v", err)
	}
	if result.Changed || !strings.Contains(result.Detail, "using existing checkout") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegisterRemovesStaleRegistration(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	run.Stub("dkms status -m rigio -v 1.4.2", "rigio/1.4.2: added\n", nil)
	mgr := newManager(t, cfg, run, "")

	result, err := mgr.Register(context.Background())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected applied result")
	}
	lines := run.CommandLines()
	if len(lines) != 3 || lines[1] != "dkms remove rigio/1.4.2 --all" || lines[2] != "dkms add -m rigio -v 1.4.2" {
		t.Fatalf("unexpected dkms sequence: %v", lines)
	}
}

func TestRegisterFreshModule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	mgr := newManager(t, cfg, run, "")

	if _, err := mgr.Register(context.Background()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if run.Ran("dkms remove") {
		t.Fatalf("no removal expected without prior registration: %v", run.CommandLines())
	}
	if !run.Ran("dkms add -m rigio -v 1.4.2") {
		t.Fatalf("expected dkms add, got %v", run.CommandLines())
	}
}

func TestRegisterContinuesPastStuckRemoval(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	run.Stub("dkms status -m rigio -v 1.4.2", "rigio/1.4.2: installed\n", nil)
	run.Fail("dkms remove rigio/1.4.2 --all", "module in use")
	mgr := newManager(t, cfg, run, "")

	result, err := mgr.Register(context.Background())
	if err != nil {
		t.Fatalf("Register must survive a stuck removal: %v", err)
	}
	if !result.Changed || !run.Ran("dkms add -m rigio -v 1.4.2") {
		t.Fatalf("expected re-registration, got %v", run.CommandLines())
	}
}

func TestBuildForKernelTargetsRunningKernel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	mgr := newManager(t, cfg, run, "")

	result, err := mgr.BuildForKernel(context.Background(), release)
	if err != nil {
		t.Fatalf("BuildForKernel: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected applied result")
	}
	lines := run.CommandLines()
	want := []string{
		"dkms build -m rigio -v 1.4.2 -k " + release,
		"dkms install -m rigio -v 1.4.2 -k " + release,
	}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Fatalf("unexpected dkms sequence: %v", lines)
	}
}

func TestBuildFailureStopsBeforeInstall(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	run.Fail("dkms build -m rigio -v 1.4.2 -k "+release, "missing kernel headers")
	mgr := newManager(t, cfg, run, "")

	_, err := mgr.BuildForKernel(context.Background(), release)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if run.Ran("dkms install") {
		t.Fatal("install must not run after a failed build")
	}
}

func TestLoadFreshModule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	mgr := newManager(t, cfg, run, writeProcModules(t, "loop 32768 0 - Live\n"))

	result, err := mgr.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Detail != "loaded rigio" {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
	if run.Ran("modprobe --remove") {
		t.Fatal("no unload expected for a non-resident module")
	}
}

func TestLoadReplacesResidentModule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	mgr := newManager(t, cfg, run, writeProcModules(t, "rigio 16384 0 - Live\n"))

	result, err := mgr.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Detail != "reloaded rigio" {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
	lines := run.CommandLines()
	if len(lines) != 2 || lines[0] != "modprobe --remove rigio" || lines[1] != "modprobe rigio" {
		t.Fatalf("unexpected modprobe sequence: %v", lines)
	}
}

func TestLoadAttemptsEvenWhenUnloadFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	run.Fail("modprobe --remove rigio", "module in use")
	mgr := newManager(t, cfg, run, writeProcModules(t, "rigio 16384 0 - Live\n"))

	result, err := mgr.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Detail != "loaded rigio" {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
}

func TestLoadReportsObservedDeviceEvent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	watcher := &fakeWatcher{}
	mgr := newManager(t, cfg, run, writeProcModules(t, ""), kmod.WithDeviceWatcher(watcher))

	result, err := mgr.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(result.Detail, "device event observed") {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
	if watcher.subsystem != "rigio" {
		t.Fatalf("watch started for subsystem %q", watcher.subsystem)
	}
	if !watcher.watch.closed {
		t.Fatal("watch must be closed after the load")
	}
}

func TestLoadSucceedsWithoutDeviceEvent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := testsupport.NewFakeRunner()
	watcher := &fakeWatcher{waitErr: errors.New("no uevent within 5s")}
	mgr := newManager(t, cfg, run, writeProcModules(t, ""), kmod.WithDeviceWatcher(watcher))

	result, err := mgr.Load(context.Background())
	if err != nil {
		t.Fatalf("missing device event must not fail the load: %v", err)
	}
	if strings.Contains(result.Detail, "device event observed") {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
}

type fakeWatcher struct {
	subsystem string
	waitErr   error
	startErr  error
	watch     *fakeWatch
}

func (w *fakeWatcher) Start(subsystem string) (kmod.DeviceWatch, error) {
	w.subsystem = subsystem
	if w.startErr != nil {
		return nil, w.startErr
	}
	w.watch = &fakeWatch{waitErr: w.waitErr}
	return w.watch, nil
}

type fakeWatch struct {
	waitErr error
	closed  bool
}

func (w *fakeWatch) Wait(time.Duration) error { return w.waitErr }
func (w *fakeWatch) Close()                   { w.closed = true }

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
}

func writeProcModules(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
