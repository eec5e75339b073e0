package runner

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"daqserver/internal/device"
	"daqserver/internal/logging"
)

// DefaultStopTimeout bounds how long Stop waits for the acquisition program to
// exit after an interrupt before killing it.
const DefaultStopTimeout = 10 * time.Second

// ProcessOptions configures hardware-backed runners.
type ProcessOptions struct {
	Command       string
	Args          []string
	StopTimeout   time.Duration
	FileExtension string
	Logger        *slog.Logger
}

// Process supervises an external acquisition program. The program receives the
// session in DAQ_* environment variables, runs until interrupted, and writes
// <label>.<ext> files into DAQ_OUTPUT_DIR.
type Process struct {
	cfg    device.Config
	dir    string
	opts   ProcessOptions
	files  portFiles
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewProcessFactory returns a Factory producing Process runners.
func NewProcessFactory(opts ProcessOptions) (Factory, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("acquisition command required")
	}
	return func(cfg device.Config, outputDir string) (Runner, error) {
		return NewProcess(cfg, outputDir, opts), nil
	}, nil
}

// NewProcess constructs a runner for cfg. The program is not launched until Start.
func NewProcess(cfg device.Config, outputDir string, opts ProcessOptions) *Process {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.FileExtension == "" {
		opts.FileExtension = DefaultFileExtension
	}
	return &Process{
		cfg:    cfg,
		dir:    outputDir,
		opts:   opts,
		files:  newPortFiles(outputDir, opts.FileExtension, cfg.Labels),
		logger: logging.NewComponentLogger(opts.Logger, "daq-runner"),
	}
}

// Start launches the acquisition program.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runningLocked() {
		return errors.New("acquisition already running")
	}

	cmd := exec.Command(p.opts.Command, p.opts.Args...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(), p.environment()...)
	cmd.Stdout = &lineLogger{logger: p.logger, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: p.logger, stream: "stderr"}
	// Orphaned grandchildren may hold the output pipes open after exit.
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start acquisition command %s: %w", p.opts.Command, err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.done = done
	p.logger.Info("acquisition started",
		logging.String("command", p.opts.Command),
		logging.Int("pid", cmd.Process.Pid),
		logging.String(logging.FieldSessionDir, p.dir),
	)
	go p.wait(cmd, done)
	return nil
}

func (p *Process) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)
	if err != nil {
		p.logger.Info("acquisition exited",
			logging.Int("pid", cmd.Process.Pid),
			logging.Error(err),
		)
		return
	}
	p.logger.Info("acquisition exited", logging.Int("pid", cmd.Process.Pid))
}

// Stop interrupts the acquisition program and waits for it to exit, killing it
// after the stop timeout. Stopping a runner that is not running is a no-op.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	running := p.runningLocked()
	p.mu.Unlock()
	if !running {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("interrupt failed; killing acquisition", logging.Error(err))
		return p.kill(cmd, done)
	}

	timer := time.NewTimer(p.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		logging.WarnWithContext(p.logger, "acquisition did not exit after interrupt; killing", "acquisition_kill",
			logging.Duration("stop_timeout", p.opts.StopTimeout),
			logging.String(logging.FieldErrorHint, "check that the acquisition command handles SIGINT"),
			logging.String(logging.FieldImpact, "port files may be truncated"),
		)
		return p.kill(cmd, done)
	}
}

func (p *Process) kill(cmd *exec.Cmd, done chan struct{}) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill acquisition command: %w", err)
	}
	<-done
	return nil
}

// IsRunning reports whether the acquisition program is alive.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

func (p *Process) runningLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// PortFilePath returns the file the program writes for label.
func (p *Process) PortFilePath(label string) (string, error) {
	return p.files.path(label)
}

func (p *Process) environment() []string {
	resistors := make([]string, len(p.cfg.ResistorValues))
	for i, value := range p.cfg.ResistorValues {
		resistors[i] = strconv.FormatFloat(value, 'g', -1, 64)
	}
	channels := make([]string, len(p.cfg.ChannelMap))
	for i, channel := range p.cfg.ChannelMap {
		channels[i] = strconv.Itoa(channel)
	}
	return []string{
		"DAQ_OUTPUT_DIR=" + p.dir,
		"DAQ_DEVICE_ID=" + p.cfg.DeviceID,
		"DAQ_SAMPLING_RATE=" + strconv.Itoa(p.cfg.SamplingRate),
		"DAQ_V_RANGE=" + strconv.FormatFloat(p.cfg.VRange, 'g', -1, 64),
		"DAQ_DV_RANGE=" + strconv.FormatFloat(p.cfg.DVRange, 'g', -1, 64),
		"DAQ_LABELS=" + strings.Join(p.cfg.Labels, ","),
		"DAQ_RESISTOR_VALUES=" + strings.Join(resistors, ","),
		"DAQ_CHANNEL_MAP=" + strings.Join(channels, ","),
		"DAQ_FILE_EXTENSION=" + p.opts.FileExtension,
	}
}

// lineLogger forwards complete output lines of the acquisition program to the
// debug log.
type lineLogger struct {
	logger *slog.Logger
	stream string
	buf    []byte
}

func (l *lineLogger) Write(b []byte) (int, error) {
	l.buf = append(l.buf, b...)
	for {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx < 0 {
			break
		}
		if line := strings.TrimSpace(string(l.buf[:idx])); line != "" {
			l.logger.Debug("acquisition output", logging.String("stream", l.stream), logging.String("line", line))
		}
		l.buf = l.buf[idx+1:]
	}
	return len(b), nil
}
