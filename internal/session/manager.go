package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"daqserver/internal/device"
	"daqserver/internal/faults"
	"daqserver/internal/fileutil"
	"daqserver/internal/history"
	"daqserver/internal/logging"
	"daqserver/internal/runner"
	"daqserver/internal/transfer"
)

// Ledger records session lifecycle events. *history.Store implements it.
type Ledger interface {
	Configured(ctx context.Context, directory string, cfg device.Config) (int64, error)
	Started(ctx context.Context, id int64) error
	Stopped(ctx context.Context, id int64) error
	Ended(ctx context.Context, id int64, reason history.EndReason) error
}

// Options configures a Manager.
type Options struct {
	BaseDir             string
	Factory             runner.Factory
	Devices             runner.DeviceLister
	History             Ledger
	MaxTransferLifetime time.Duration
	Now                 func() time.Time
	Logger              *slog.Logger
}

type activeSession struct {
	cfg       device.Config
	dir       string
	runner    runner.Runner
	transfers *transfer.Tracker
	record    int64
}

// Manager holds at most one session.
type Manager struct {
	baseDir  string
	factory  runner.Factory
	devices  runner.DeviceLister
	ledger   Ledger
	lifetime time.Duration
	now      func() time.Time
	base     *slog.Logger
	logger   *slog.Logger

	// transition serialises lifecycle commands for their whole duration.
	transition sync.Mutex
	// mu guards active only.
	mu     sync.RWMutex
	active *activeSession
}

// New constructs a Manager. BaseDir must exist.
func New(opts Options) (*Manager, error) {
	if opts.BaseDir == "" {
		return nil, errors.New("session manager requires a base directory")
	}
	if opts.Factory == nil {
		return nil, errors.New("session manager requires a runner factory")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		baseDir:  opts.BaseDir,
		factory:  opts.Factory,
		devices:  opts.Devices,
		ledger:   opts.History,
		lifetime: opts.MaxTransferLifetime,
		now:      now,
		base:     opts.Logger,
		logger:   logging.NewComponentLogger(opts.Logger, "session"),
	}, nil
}

func (m *Manager) current() *activeSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) swap(next *activeSession) {
	m.mu.Lock()
	m.active = next
	m.mu.Unlock()
}

func (m *Manager) require(operation string) (*activeSession, error) {
	s := m.current()
	if s == nil {
		return nil, faults.Protocol("session", operation, "no session configured")
	}
	return s, nil
}

// Configure validates cfg and replaces the current session with a new one
// writing into a fresh directory, which is returned. A session that was never
// closed is stopped and its directory kept for the janitor.
func (m *Manager) Configure(ctx context.Context, cfg device.Config) (string, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	m.transition.Lock()
	defer m.transition.Unlock()

	dir, err := fileutil.CreateSessionDir(m.baseDir, m.now())
	if err != nil {
		return "", fmt.Errorf("configure: %w", err)
	}
	r, err := m.factory(cfg, dir)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			m.logger.Debug("remove unused session directory failed", logging.Error(rmErr))
		}
		return "", fmt.Errorf("configure: create runner: %w", err)
	}

	if old := m.current(); old != nil {
		logging.WarnWithContext(m.logger, "configuring a new session before the previous one was closed", "session_replaced",
			logging.String(logging.FieldSessionDir, old.dir),
			logging.String(logging.FieldErrorHint, "call close when a session is finished"),
			logging.String(logging.FieldImpact, "previous session data is kept until the janitor removes it"),
		)
		m.stopForTeardown(old, "replace")
		old.transfers.Terminate()
		m.recordEnded(ctx, old, history.EndReplaced)
	}

	next := &activeSession{
		cfg:    cfg,
		dir:    dir,
		runner: r,
		transfers: transfer.New(transfer.Options{
			MaxLifetime: m.lifetime,
			Logger:      m.base,
		}),
	}
	next.record = m.recordConfigured(ctx, next)
	m.swap(next)

	m.logger.Info("session configured",
		logging.String(logging.FieldSessionDir, dir),
		logging.String("device_id", cfg.DeviceID),
		logging.Int("ports", cfg.NumberOfPorts()),
		logging.Int("sampling_rate", cfg.SamplingRate),
	)
	return dir, nil
}

// Start begins acquisition. Starting a running session restarts it.
func (m *Manager) Start(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	s, err := m.require("start")
	if err != nil {
		return err
	}
	if s.runner.IsRunning() {
		logging.WarnWithContext(m.logger, "start called while running; restarting acquisition", "session_restart",
			logging.String(logging.FieldSessionDir, s.dir),
			logging.String(logging.FieldErrorHint, "call stop before start"),
			logging.String(logging.FieldImpact, "data captured since the last start is lost"),
		)
		if err := s.runner.Stop(); err != nil {
			return fmt.Errorf("restart: stop runner: %w", err)
		}
	}
	if err := s.runner.Start(); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	m.logger.Info("capture started", logging.String(logging.FieldSessionDir, s.dir))
	m.record(ctx, "start", s, m.ledgerStarted)
	return nil
}

// Stop ends acquisition. Stopping a session that is not running is logged
// and forwarded to the runner anyway.
func (m *Manager) Stop(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	s, err := m.require("stop")
	if err != nil {
		return err
	}
	if !s.runner.IsRunning() {
		logging.WarnWithContext(m.logger, "stop called before start", "session_stop_idle",
			logging.String(logging.FieldSessionDir, s.dir),
			logging.String(logging.FieldErrorHint, "call start before stop"),
			logging.String(logging.FieldImpact, "none; acquisition was not running"),
		)
	}
	if err := s.runner.Stop(); err != nil {
		return fmt.Errorf("stop runner: %w", err)
	}
	m.logger.Info("capture stopped", logging.String(logging.FieldSessionDir, s.dir))
	m.record(ctx, "stop", s, m.ledgerStopped)
	return nil
}

// ListDevices returns the acquisition devices visible to the server.
func (m *Manager) ListDevices(ctx context.Context) ([]string, error) {
	if m.devices == nil {
		return nil, faults.Wrap(faults.ErrUnsupported, "session", "list devices", "device enumeration is not available", nil)
	}
	devices, err := m.devices.ListDevices(ctx)
	if err != nil {
		if faults.Kind(err) == faults.KindUnsupported {
			return nil, err
		}
		return nil, faults.Wrap(faults.ErrUnsupported, "session", "list devices", "", err)
	}
	return devices, nil
}

// ListPorts returns the labels of the configured session.
func (m *Manager) ListPorts() ([]string, error) {
	s, err := m.require("list ports")
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.cfg.Labels), nil
}

// ListPortFiles returns the labels whose port file currently exists. A file
// may still be growing while acquisition runs.
func (m *Manager) ListPortFiles() ([]string, error) {
	s, err := m.require("list port files")
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(s.cfg.Labels))
	for _, label := range s.cfg.Labels {
		path, err := s.runner.PortFilePath(label)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.logger.Debug("stat port file failed", logging.String(logging.FieldLabel, label), logging.Error(err))
			}
			continue
		}
		if info.Mode().IsRegular() {
			labels = append(labels, label)
		}
	}
	return labels, nil
}

// OpenPortFile starts a transfer of the file backing label.
func (m *Manager) OpenPortFile(label string) (transfer.Handle, error) {
	s, err := m.require("open port file")
	if err != nil {
		return transfer.Handle{}, err
	}
	path, err := s.runner.PortFilePath(label)
	if err != nil {
		return transfer.Handle{}, err
	}
	handle, err := s.transfers.Open(path)
	if err != nil {
		return transfer.Handle{}, err
	}
	m.logger.Debug("port file opened",
		logging.String(logging.FieldLabel, label),
		logging.String(logging.FieldDescriptor, handle.Descriptor),
	)
	return handle, nil
}

// ReadPortFile reads up to size bytes from an open transfer. An empty result
// means end of file.
func (m *Manager) ReadPortFile(descriptor string, size int) ([]byte, error) {
	s, err := m.require("read port file")
	if err != nil {
		return nil, err
	}
	return s.transfers.Read(descriptor, size)
}

// ClosePortFile ends a transfer.
func (m *Manager) ClosePortFile(descriptor string) error {
	s, err := m.require("close port file")
	if err != nil {
		return err
	}
	return s.transfers.Close(descriptor)
}

// Close ends the session, stopping acquisition if needed and deleting its
// directory. Closing without a session is logged and succeeds.
func (m *Manager) Close(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	s := m.current()
	if s == nil {
		logging.WarnWithContext(m.logger, "close called before a session was configured", "session_close_idle",
			logging.String(logging.FieldErrorHint, "call configure before close"),
			logging.String(logging.FieldImpact, "none; there was nothing to close"),
		)
		return nil
	}

	var errs []error
	if s.runner.IsRunning() {
		logging.WarnWithContext(m.logger, "closing session before acquisition was stopped", "session_close_running",
			logging.String(logging.FieldSessionDir, s.dir),
			logging.String(logging.FieldErrorHint, "call stop before close"),
			logging.String(logging.FieldImpact, "acquisition stopped by close"),
		)
		if err := s.runner.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop runner: %w", err))
		}
	}
	s.transfers.Terminate()
	if err := os.RemoveAll(s.dir); err != nil {
		logging.WarnWithContext(m.logger, "session directory could not be removed", "session_remove_failed",
			logging.String(logging.FieldSessionDir, s.dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions under the base directory"),
			logging.String(logging.FieldImpact, "session data stays on disk until the janitor reclaims it"),
		)
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			err = pathErr.Err
		}
		errs = append(errs, fmt.Errorf("remove session %s: %w", filepath.Base(s.dir), err))
	}
	m.swap(nil)
	m.recordEnded(ctx, s, history.EndClosed)

	m.logger.Info("session closed", logging.String(logging.FieldSessionDir, s.dir))
	return errors.Join(errs...)
}

// Shutdown releases the session when the server exits. Acquisition is stopped
// and transfers closed, but the data is kept on disk for the janitor.
func (m *Manager) Shutdown(ctx context.Context) {
	m.transition.Lock()
	defer m.transition.Unlock()

	s := m.current()
	if s == nil {
		return
	}
	m.stopForTeardown(s, "shutdown")
	s.transfers.Terminate()
	m.swap(nil)
	m.recordEnded(ctx, s, history.EndShutdown)
	m.logger.Info("session released on shutdown", logging.String(logging.FieldSessionDir, s.dir))
}

// ActiveDirectory returns the directory of the current session, or "".
func (m *Manager) ActiveDirectory() string {
	if s := m.current(); s != nil {
		return s.dir
	}
	return ""
}

// Status reports the current state.
func (m *Manager) Status() Status {
	s := m.current()
	if s == nil {
		return Status{State: StateUnconfigured}
	}
	status := Status{
		State:         StateConfigured,
		Directory:     s.dir,
		Labels:        slices.Clone(s.cfg.Labels),
		DeviceID:      s.cfg.DeviceID,
		SamplingRate:  s.cfg.SamplingRate,
		OpenTransfers: s.transfers.Len(),
	}
	if s.runner.IsRunning() {
		status.State = StateRunning
	}
	return status
}

func (m *Manager) stopForTeardown(s *activeSession, reason string) {
	if !s.runner.IsRunning() {
		return
	}
	if err := s.runner.Stop(); err != nil {
		logging.WarnWithContext(m.logger, "failed to stop acquisition", "runner_stop_failed",
			logging.String("reason", reason),
			logging.String(logging.FieldSessionDir, s.dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the acquisition process and hardware"),
			logging.String(logging.FieldImpact, "acquisition may still be writing to the old directory"),
		)
	}
}

func (m *Manager) recordConfigured(ctx context.Context, s *activeSession) int64 {
	if m.ledger == nil {
		return 0
	}
	id, err := m.ledger.Configured(ctx, s.dir, s.cfg)
	if err != nil {
		m.ledgerFailed("configure", err)
		return 0
	}
	return id
}

func (m *Manager) ledgerStarted(ctx context.Context, id int64) error { return m.ledger.Started(ctx, id) }

func (m *Manager) ledgerStopped(ctx context.Context, id int64) error { return m.ledger.Stopped(ctx, id) }

func (m *Manager) record(ctx context.Context, operation string, s *activeSession, fn func(context.Context, int64) error) {
	if m.ledger == nil || s.record == 0 {
		return
	}
	if err := fn(ctx, s.record); err != nil {
		m.ledgerFailed(operation, err)
	}
}

func (m *Manager) recordEnded(ctx context.Context, s *activeSession, reason history.EndReason) {
	m.record(ctx, string(reason), s, func(ctx context.Context, id int64) error {
		return m.ledger.Ended(ctx, id, reason)
	})
}

func (m *Manager) ledgerFailed(operation string, err error) {
	logging.WarnWithContext(m.logger, "session history update failed", "history_write_failed",
		logging.String("operation", operation),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check state_dir permissions and free space"),
		logging.String(logging.FieldImpact, "session history is incomplete"),
	)
}
