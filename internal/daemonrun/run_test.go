package daemonrun_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"daqserver/internal/daemonrun"
	"daqserver/internal/device"
	"daqserver/internal/ipc"
	"daqserver/internal/logging"
	"daqserver/internal/testsupport"
)

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			Logger: logging.NewNop(),
			Ready:  func(addr net.Addr) { ready <- addr },
		})
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not become ready")
	}

	client, err := ipc.Dial(addr.String(), logging.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	name, err := client.Configure(device.Config{ResistorValues: []float64{0.01}})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Logger: logging.NewNop()})
	if !errors.Is(second, daemonrun.ErrAlreadyRunning) {
		t.Fatalf("expected a second server on the same state dir to be refused, got %v", second)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}

	if _, err := os.Stat(filepath.Join(cfg.Paths.BaseDir, name)); err != nil {
		t.Fatalf("expected session data to survive shutdown: %v", err)
	}
	if _, err := os.Stat(cfg.HistoryPath()); err != nil {
		t.Fatalf("expected history database: %v", err)
	}
}

func TestRunRejectsMissingConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestRunWritesDailyLogAndPrunesOldOnes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLogDir(), testsupport.WithRetentionDays(2), testsupport.WithDummyRows(5))
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	stale := filepath.Join(cfg.Paths.LogDir, logging.LogFileName(time.Now().AddDate(0, 0, -10)))
	if err := os.WriteFile(stale, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("write stale log: %v", err)
	}
	old := time.Now().AddDate(0, 0, -10)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := daemonrun.Run(ctx, cfg, daemonrun.Options{Ready: func(net.Addr) { cancel() }})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, stat err=%v", err)
	}
	current := filepath.Join(cfg.Paths.LogDir, logging.LogFileName(time.Now()))
	data, err := os.ReadFile(current)
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the server to log into the daily file")
	}
}
