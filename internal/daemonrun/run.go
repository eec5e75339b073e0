package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"daqserver/internal/config"
	"daqserver/internal/history"
	"daqserver/internal/ipc"
	"daqserver/internal/janitor"
	"daqserver/internal/logging"
	"daqserver/internal/runner"
	"daqserver/internal/session"
)

// ErrAlreadyRunning is returned when another server holds the state directory lock.
var ErrAlreadyRunning = errors.New("another daq-server instance is already running")

// Options configures server process runtime behavior.
type Options struct {
	// Logger overrides the logger built from the config.
	Logger *slog.Logger
	// Ready is called with the bound listen address once clients may connect.
	Ready func(addr net.Addr)
}

// Run starts the server and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	now := time.Now()
	logger := opts.Logger
	if logger == nil {
		serverLog, err := logging.OpenServerLog(cfg, now)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer serverLog.Close()
		logger = serverLog.Logger
	}
	logging.PruneLogs(logger, cfg.Paths.LogDir, cfg.RetentionThreshold(), logging.LogFileName(now), now)

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, cfg.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release server lock", logging.Error(err))
		}
	}()

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logger.Error("open session history", logging.Error(err))
		return err
	}
	defer store.Close()

	factory, devices, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}

	manager, err := session.New(session.Options{
		BaseDir:             cfg.Paths.BaseDir,
		Factory:             factory,
		Devices:             devices,
		History:             store,
		MaxTransferLifetime: cfg.MaxTransferLifetime(),
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	defer manager.Shutdown(context.Background())

	janitorOpts := janitor.Options{
		BaseDir:   cfg.Paths.BaseDir,
		Period:    cfg.CleanupPeriod(),
		Threshold: cfg.RetentionThreshold(),
		OnRemove: func(path string) {
			if err := store.ReclaimedDirectory(context.Background(), path); err != nil {
				logging.WarnWithContext(logger, "failed to record reclaimed directory", "history_write_failed",
					logging.String(logging.FieldSessionDir, path),
					logging.Error(err),
					logging.String(logging.FieldImpact, "session history shows the directory as present"))
			}
		},
		Logger: logger,
	}
	if cfg.Cleanup.ProtectActive {
		janitorOpts.Protect = manager.ActiveDirectory
	}
	janitorCtx, stopJanitor := context.WithCancel(signalCtx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		janitor.New(janitorOpts).Run(janitorCtx)
	}()
	defer func() {
		stopJanitor()
		<-janitorDone
	}()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Server.Listen, manager, store, logger)
	if err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("daq server started",
		logging.String(logging.FieldEventType, "server_start"),
		logging.String("address", ipcServer.Addr().String()),
		logging.String("base_dir", cfg.Paths.BaseDir),
		logging.String("runner_mode", cfg.Runner.Mode),
		logging.Duration("retention", cfg.RetentionThreshold()),
		logging.Duration("cleanup_period", cfg.CleanupPeriod()),
	)
	if opts.Ready != nil {
		opts.Ready(ipcServer.Addr())
	}

	<-signalCtx.Done()
	logger.Info("daq server shutting down")
	return nil
}

func buildBackend(cfg *config.Config, logger *slog.Logger) (runner.Factory, runner.DeviceLister, error) {
	if cfg.DebugMode() {
		logger.Info("using synthetic runner",
			logging.String(logging.FieldEventType, "debug_mode"),
			logging.Int("rows", cfg.Runner.DummyRows))
		factory := runner.NewDummyFactory(runner.DummyOptions{
			Rows:          cfg.Runner.DummyRows,
			FileExtension: cfg.Runner.FileExtension,
			Logger:        logger,
		})
		return factory, runner.StaticLister{"Dev1"}, nil
	}
	factory, err := runner.NewProcessFactory(runner.ProcessOptions{
		Command:       cfg.Runner.Command,
		Args:          cfg.Runner.Args,
		StopTimeout:   cfg.StopTimeout(),
		FileExtension: cfg.Runner.FileExtension,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure acquisition command: %w", err)
	}
	return factory, runner.NewUdevLister(cfg.Devices.NameKey, cfg.Devices.Match, logger), nil
}
