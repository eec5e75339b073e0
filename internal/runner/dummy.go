package runner

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"sync"

	"daqserver/internal/device"
	"daqserver/internal/logging"
)

// DefaultDummyRows is the number of samples Dummy writes per port.
const DefaultDummyRows = 200

// DummyOptions configures synthetic runners.
type DummyOptions struct {
	Rows          int
	FileExtension string
	Logger        *slog.Logger
}

// Dummy writes a fixed number of synthetic power and voltage samples for each
// port when started. It never touches hardware.
type Dummy struct {
	files  portFiles
	labels []string
	rows   int
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewDummyFactory returns a Factory producing Dummy runners.
func NewDummyFactory(opts DummyOptions) Factory {
	return func(cfg device.Config, outputDir string) (Runner, error) {
		return NewDummy(cfg, outputDir, opts), nil
	}
}

// NewDummy constructs a synthetic runner for cfg.
func NewDummy(cfg device.Config, outputDir string, opts DummyOptions) *Dummy {
	rows := opts.Rows
	if rows <= 0 {
		rows = DefaultDummyRows
	}
	logger := logging.NewComponentLogger(opts.Logger, "dummy-runner")
	logger.Info("creating runner",
		logging.String(logging.FieldSessionDir, outputDir),
		logging.Int("ports", cfg.NumberOfPorts()),
	)
	return &Dummy{
		files:  newPortFiles(outputDir, opts.FileExtension, cfg.Labels),
		labels: append([]string(nil), cfg.Labels...),
		rows:   rows,
		logger: logger,
	}
}

// Start writes every port file and marks the runner running.
func (d *Dummy) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, label := range d.labels {
		path, err := d.files.path(label)
		if err != nil {
			return err
		}
		if err := d.writePort(path); err != nil {
			return fmt.Errorf("write port %s: %w", label, err)
		}
	}
	d.running = true
	d.logger.Info("runner started")
	return nil
}

func (d *Dummy) writePort(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	w.WriteString("power,voltage\n")
	for range d.rows {
		w.WriteString(strconv.FormatFloat(rand.NormFloat64()+1.0, 'f', -1, 64))
		w.WriteByte(',')
		w.WriteString(strconv.FormatFloat(rand.NormFloat64()*0.1+1.0, 'f', -1, 64))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Stop marks the runner stopped.
func (d *Dummy) Stop() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	d.logger.Info("runner stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (d *Dummy) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// PortFilePath returns the file written for label.
func (d *Dummy) PortFilePath(label string) (string, error) {
	return d.files.path(label)
}
