package runner

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"daqserver/internal/logging"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const captureScript = `
for l in $(echo "$DAQ_LABELS" | tr , ' '); do
  echo "power,voltage" > "$DAQ_OUTPUT_DIR/$l.$DAQ_FILE_EXTENSION"
done
echo "$DAQ_DEVICE_ID $DAQ_SAMPLING_RATE $DAQ_RESISTOR_VALUES" > "$DAQ_OUTPUT_DIR/env.txt"
trap 'exit 0' INT
while :; do sleep 0.05; done
`

func TestProcessStartsAndInterrupts(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()
	p := NewProcess(testConfig("A", "B"), dir, ProcessOptions{
		Command:     sh,
		Args:        []string{"-c", captureScript},
		StopTimeout: 5 * time.Second,
		Logger:      logging.NewNop(),
	})

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.IsRunning() {
		t.Fatal("expected process to be running")
	}
	if err := p.Start(); err == nil {
		t.Fatal("expected second Start to fail while running")
	}

	waitFor(t, "env file", func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "env.txt"))
		return err == nil && strings.TrimSpace(string(data)) != ""
	})
	data, _ := os.ReadFile(filepath.Join(dir, "env.txt"))
	if got := strings.TrimSpace(string(data)); got != "Dev1 10000 0.01,0.01" {
		t.Fatalf("unexpected environment %q", got)
	}
	for _, label := range []string{"A", "B"} {
		path, _ := p.PortFilePath(label)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected port file %s: %v", path, err)
		}
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("expected process to be stopped")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op: %v", err)
	}
}

func TestProcessKilledAfterStopTimeout(t *testing.T) {
	sh := requireShell(t)
	p := NewProcess(testConfig("A"), t.TempDir(), ProcessOptions{
		Command:     sh,
		Args:        []string{"-c", "trap '' INT; while :; do sleep 0.05; done"},
		StopTimeout: 100 * time.Millisecond,
		Logger:      logging.NewNop(),
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Give the shell time to install the trap.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("expected process to be killed")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected Stop to wait for the timeout, returned after %s", elapsed)
	}
}

func TestProcessReportsExit(t *testing.T) {
	sh := requireShell(t)
	p := NewProcess(testConfig("A"), t.TempDir(), ProcessOptions{
		Command: sh,
		Args:    []string{"-c", "exit 0"},
		Logger:  logging.NewNop(),
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "process exit", func() bool { return !p.IsRunning() })
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop after exit: %v", err)
	}
}

func TestProcessStartFailsForMissingCommand(t *testing.T) {
	p := NewProcess(testConfig("A"), t.TempDir(), ProcessOptions{
		Command: filepath.Join(t.TempDir(), "missing-binary"),
	})
	if err := p.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if p.IsRunning() {
		t.Fatal("failed start must not report running")
	}
}

func TestProcessEnvironment(t *testing.T) {
	cfg := testConfig("A", "B")
	p := NewProcess(cfg, "/data/session", ProcessOptions{Command: "capture", FileExtension: "dat"})
	env := p.environment()
	for _, want := range []string{
		"DAQ_OUTPUT_DIR=/data/session",
		"DAQ_LABELS=A,B",
		"DAQ_V_RANGE=2.5",
		"DAQ_DV_RANGE=0.2",
		"DAQ_CHANNEL_MAP=0,1,2,3,4,5,6,7,16,17,18,19,20,21,22,23",
		"DAQ_FILE_EXTENSION=dat",
	} {
		if !slices.Contains(env, want) {
			t.Fatalf("missing %q in %v", want, env)
		}
	}
}

func TestNewProcessFactoryRequiresCommand(t *testing.T) {
	if _, err := NewProcessFactory(ProcessOptions{}); err == nil {
		t.Fatal("expected error without command")
	}
}
