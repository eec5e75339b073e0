package testsupport

import (
	"errors"
	"os"
	"sync"

	"daqserver/internal/device"
	"daqserver/internal/runner"
)

// FakeRunner records lifecycle calls. When started it writes Content to the
// port file of every label listed in WriteLabels (all labels when nil).
type FakeRunner struct {
	mu          sync.Mutex
	cfg         device.Config
	dir         string
	running     bool
	starts      int
	stops       int
	StartErr    error
	StopErr     error
	WriteLabels []string
	Content     []byte
	files       runner.Runner
}

// FakeFactory builds FakeRunners and remembers every runner it created.
type FakeFactory struct {
	mu          sync.Mutex
	Runners     []*FakeRunner
	Err         error
	WriteLabels []string
	Content     []byte
}

// Factory returns a runner.Factory bound to f.
func (f *FakeFactory) Factory() runner.Factory {
	return func(cfg device.Config, outputDir string) (runner.Runner, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.Err != nil {
			return nil, f.Err
		}
		r := &FakeRunner{
			cfg:         cfg,
			dir:         outputDir,
			WriteLabels: f.WriteLabels,
			Content:     f.Content,
			files:       runner.NewDummy(cfg, outputDir, runner.DummyOptions{}),
		}
		f.Runners = append(f.Runners, r)
		return r, nil
	}
}

// Last returns the most recently created runner.
func (f *FakeFactory) Last() *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Runners) == 0 {
		return nil
	}
	return f.Runners[len(f.Runners)-1]
}

// Start marks the runner running and writes port files.
func (r *FakeRunner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	labels := r.WriteLabels
	if labels == nil {
		labels = r.cfg.Labels
	}
	content := r.Content
	if content == nil {
		content = []byte("power,voltage\n1,1\n")
	}
	for _, label := range labels {
		path, err := r.files.PortFilePath(label)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return err
		}
	}
	r.running = true
	r.starts++
	return nil
}

// Stop marks the runner stopped.
func (r *FakeRunner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	if r.StopErr != nil {
		return r.StopErr
	}
	r.running = false
	return nil
}

// IsRunning reports the simulated state.
func (r *FakeRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// PortFilePath delegates to the dummy runner's layout.
func (r *FakeRunner) PortFilePath(label string) (string, error) {
	return r.files.PortFilePath(label)
}

// Calls returns how often Start and Stop were invoked.
func (r *FakeRunner) Calls() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

// Dir returns the output directory the runner was created for.
func (r *FakeRunner) Dir() string {
	return r.dir
}

// ErrFake is a convenience error for injecting failures.
var ErrFake = errors.New("injected failure")
