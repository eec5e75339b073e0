package session_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"daqserver/internal/device"
	"daqserver/internal/faults"
	"daqserver/internal/history"
	"daqserver/internal/logging"
	"daqserver/internal/runner"
	"daqserver/internal/session"
	"daqserver/internal/testsupport"
)

type harness struct {
	manager *session.Manager
	factory *testsupport.FakeFactory
	store   *history.Store
	baseDir string
}

func newHarness(t *testing.T, devices runner.DeviceLister) *harness {
	t.Helper()
	base := t.TempDir()
	factory := &testsupport.FakeFactory{}
	store := testsupport.MustOpenHistory(t)
	m, err := session.New(session.Options{
		BaseDir:             base,
		Factory:             factory.Factory(),
		Devices:             devices,
		History:             store,
		MaxTransferLifetime: time.Minute,
		Logger:              logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return &harness{manager: m, factory: factory, store: store, baseDir: base}
}

func deviceConfig(labels ...string) device.Config {
	resistors := make([]float64, len(labels))
	for i := range resistors {
		resistors[i] = 0.01
	}
	return device.Config{ResistorValues: resistors, Labels: labels}
}

func TestConfigureThenListPortsReturnsLabelsInOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	dir, err := h.manager.Configure(ctx, deviceConfig("CH1", "CH0", "AUX"))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if filepath.Dir(dir) != h.baseDir {
		t.Fatalf("session directory %s not under %s", dir, h.baseDir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected session directory: %v", err)
	}
	labels, err := h.manager.ListPorts()
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	if !slices.Equal(labels, []string{"CH1", "CH0", "AUX"}) {
		t.Fatalf("unexpected labels %v", labels)
	}
}

func TestConfigureDefaultsLabels(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.manager.Configure(context.Background(), device.Config{ResistorValues: []float64{1, 2}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	labels, _ := h.manager.ListPorts()
	if !slices.Equal(labels, []string{"PORT_0", "PORT_1"}) {
		t.Fatalf("unexpected default labels %v", labels)
	}
}

func TestConfigureRejectsInvalidConfigAndKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dir, err := h.manager.Configure(ctx, deviceConfig("A"))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	_, err = h.manager.Configure(ctx, device.Config{ResistorValues: []float64{1}, Labels: []string{"A", "B"}})
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.manager.ActiveDirectory() != dir {
		t.Fatal("invalid configure must not replace the session")
	}
	entries, _ := os.ReadDir(h.baseDir)
	if len(entries) != 1 {
		t.Fatalf("invalid configure must not create directories, found %d", len(entries))
	}
}

func TestConfigureFactoryFailureRemovesNewDirectory(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.Err = testsupport.ErrFake
	if _, err := h.manager.Configure(context.Background(), deviceConfig("A")); !errors.Is(err, testsupport.ErrFake) {
		t.Fatalf("expected factory error, got %v", err)
	}
	entries, _ := os.ReadDir(h.baseDir)
	if len(entries) != 0 {
		t.Fatalf("expected no session directories, found %d", len(entries))
	}
	if h.manager.Status().State != session.StateUnconfigured {
		t.Fatal("expected manager to stay unconfigured")
	}
}

func TestCommandsRequireSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	checks := map[string]error{
		"start": h.manager.Start(ctx),
		"stop":  h.manager.Stop(ctx),
	}
	_, checks["list_ports"] = h.manager.ListPorts()
	_, checks["list_port_files"] = h.manager.ListPortFiles()
	_, checks["open_port_file"] = h.manager.OpenPortFile("A")
	_, checks["read_port_file"] = h.manager.ReadPortFile("x", 10)
	checks["close_port_file"] = h.manager.ClosePortFile("x")

	for name, err := range checks {
		if !errors.Is(err, faults.ErrProtocol) {
			t.Fatalf("%s: expected protocol error, got %v", name, err)
		}
	}
}

func TestCloseWithoutSessionSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.manager.Close(context.Background()); err != nil {
		t.Fatalf("Close on unconfigured manager: %v", err)
	}
	if err := h.manager.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestStartWhileRunningRestarts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.manager.Configure(ctx, deviceConfig("A")); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	starts, stops := h.factory.Last().Calls()
	if starts != 2 || stops != 1 {
		t.Fatalf("expected restart (2 starts, 1 stop), got %d/%d", starts, stops)
	}
	if h.manager.Status().State != session.StateRunning {
		t.Fatalf("expected running state, got %s", h.manager.Status().State)
	}
}

func TestStopWhenIdleStillStopsRunner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.manager.Configure(ctx, deviceConfig("A")); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.manager.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, stops := h.factory.Last().Calls(); stops != 1 {
		t.Fatalf("expected runner Stop to be called, got %d", stops)
	}
}

func TestStartFailurePropagates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.manager.Configure(ctx, deviceConfig("A")); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	h.factory.Last().StartErr = testsupport.ErrFake
	if err := h.manager.Start(ctx); !errors.Is(err, testsupport.ErrFake) {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestReconfigureWhileRunningStopsOldRunnerAndKeepsDirectory(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	oldDir, err := h.manager.Configure(ctx, deviceConfig("A"))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	oldRunner := h.factory.Last()
	handle, err := h.manager.OpenPortFile("A")
	if err != nil {
		t.Fatalf("OpenPortFile: %v", err)
	}

	newDir, err := h.manager.Configure(ctx, deviceConfig("B"))
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if newDir == oldDir {
		t.Fatal("expected a fresh directory")
	}
	if oldRunner.IsRunning() {
		t.Fatal("expected old runner to be stopped")
	}
	if _, err := os.Stat(oldDir); err != nil {
		t.Fatalf("old directory must be kept: %v", err)
	}
	if _, err := h.manager.ReadPortFile(handle.Descriptor, 10); !errors.Is(err, faults.ErrProtocol) {
		t.Fatalf("old transfers must be closed, got %v", err)
	}
	labels, _ := h.manager.ListPorts()
	if !slices.Equal(labels, []string{"B"}) {
		t.Fatalf("expected new labels, got %v", labels)
	}

	records := testsupport.RecentSessions(t, h.store)
	if len(records) != 2 || records[1].EndReason != history.EndReplaced || records[0].State != history.StateConfigured {
		t.Fatalf("unexpected history %+v", records)
	}
}

func TestListPortFilesReportsExistingFiles(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.WriteLabels = []string{"CH1"}
	ctx := context.Background()
	if _, err := h.manager.Configure(ctx, deviceConfig("CH0", "CH1")); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	files, err := h.manager.ListPortFiles()
	if err != nil || len(files) != 0 {
		t.Fatalf("expected no files before start, got %v %v", files, err)
	}
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	files, err = h.manager.ListPortFiles()
	if err != nil {
		t.Fatalf("ListPortFiles: %v", err)
	}
	if !slices.Equal(files, []string{"CH1"}) {
		t.Fatalf("unexpected port files %v", files)
	}
	if _, err := h.manager.OpenPortFile("CH0"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found for missing port file, got %v", err)
	}
	if _, err := h.manager.OpenPortFile("NOPE"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found for unknown label, got %v", err)
	}
}

func TestTransferRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dir, err := h.manager.Configure(ctx, deviceConfig("CH0"))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	want := testsupport.WritePattern(t, filepath.Join(dir, "CH0.csv"), 10_000)

	handle, err := h.manager.OpenPortFile("CH0")
	if err != nil {
		t.Fatalf("OpenPortFile: %v", err)
	}
	if handle.Name != "CH0.csv" {
		t.Fatalf("unexpected name %q", handle.Name)
	}
	var got []byte
	for {
		chunk, err := h.manager.ReadPortFile(handle.Descriptor, 999)
		if err != nil {
			t.Fatalf("ReadPortFile: %v", err)
		}
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("transfer mismatch: %d vs %d bytes", len(got), len(want))
	}
	if h.manager.Status().OpenTransfers != 1 {
		t.Fatalf("expected one open transfer")
	}
	if err := h.manager.ClosePortFile(handle.Descriptor); err != nil {
		t.Fatalf("ClosePortFile: %v", err)
	}
	if err := h.manager.ClosePortFile(handle.Descriptor); !errors.Is(err, faults.ErrProtocol) {
		t.Fatalf("expected protocol error on double close, got %v", err)
	}
}

func TestCloseStopsRunnerAndRemovesDirectory(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dir, err := h.manager.Configure(ctx, deviceConfig("A"))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r := h.factory.Last()
	if err := h.manager.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.IsRunning() {
		t.Fatal("close must stop the runner")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected directory removed, stat err=%v", err)
	}
	if h.manager.Status().State != session.StateUnconfigured || h.manager.ActiveDirectory() != "" {
		t.Fatal("expected unconfigured after close")
	}
	records := testsupport.RecentSessions(t, h.store)
	if records[0].EndReason != history.EndClosed || records[0].StartedAt == nil {
		t.Fatalf("unexpected history %+v", records[0])
	}
}

func TestCloseReportsStopFailureButStillCloses(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dir, err := h.manager.Configure(ctx, deviceConfig("A"))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.factory.Last().StopErr = testsupport.ErrFake
	if err := h.manager.Close(ctx); !errors.Is(err, testsupport.ErrFake) {
		t.Fatalf("expected stop failure to surface, got %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("directory must be removed even when stop fails")
	}
}

func TestShutdownKeepsDirectory(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	dir, err := h.manager.Configure(ctx, deviceConfig("A"))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.manager.Shutdown(ctx)
	if h.factory.Last().IsRunning() {
		t.Fatal("shutdown must stop the runner")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("shutdown must keep the data: %v", err)
	}
	if records := testsupport.RecentSessions(t, h.store); records[0].EndReason != history.EndShutdown {
		t.Fatalf("unexpected end reason %q", records[0].EndReason)
	}
}

func TestListDevices(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.manager.ListDevices(context.Background()); !errors.Is(err, faults.ErrUnsupported) {
		t.Fatalf("expected unsupported without lister, got %v", err)
	}

	h = newHarness(t, runner.StaticLister{"Dev1"})
	devices, err := h.manager.ListDevices(context.Background())
	if err != nil || !slices.Equal(devices, []string{"Dev1"}) {
		t.Fatalf("unexpected devices %v %v", devices, err)
	}
}

type failingLister struct{}

func (failingLister) ListDevices(context.Context) ([]string, error) {
	return nil, errors.New("driver not loaded")
}

func TestListDevicesWrapsFailuresAsUnsupported(t *testing.T) {
	h := newHarness(t, failingLister{})
	if _, err := h.manager.ListDevices(context.Background()); !errors.Is(err, faults.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestTransfersProceedDuringLifecycleCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.WriteLabels = []string{}
	ctx := context.Background()
	dir, err := h.manager.Configure(ctx, deviceConfig("A"))
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	testsupport.WritePattern(t, filepath.Join(dir, "A.csv"), 50_000)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := h.manager.OpenPortFile("A")
			if err != nil {
				errs <- err
				return
			}
			for {
				chunk, err := h.manager.ReadPortFile(handle.Descriptor, 512)
				if err != nil {
					errs <- err
					return
				}
				if len(chunk) == 0 {
					break
				}
			}
			errs <- h.manager.ClosePortFile(handle.Descriptor)
		}()
	}
	for range 10 {
		if err := h.manager.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := h.manager.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent transfer failed: %v", err)
		}
	}
}
