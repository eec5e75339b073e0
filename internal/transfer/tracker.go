package transfer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"daqserver/internal/faults"
	"daqserver/internal/logging"
)

const (
	// DefaultMaxLifetime bounds how long a transfer may stay open.
	DefaultMaxLifetime = 30 * time.Minute
	// MaxReadSize is the largest chunk a single Read may request.
	MaxReadSize = 64 << 20
)

// Options configures a Tracker.
type Options struct {
	MaxLifetime time.Duration
	// SweepInterval defaults to half of MaxLifetime.
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Handle identifies an open transfer.
type Handle struct {
	Descriptor string
	// Name is the base name of the file being transferred.
	Name string
}

type openFile struct {
	mu       sync.Mutex
	file     *os.File
	name     string
	openedAt time.Time
	closed   bool
}

// close releases the handle once. Reads in progress finish first.
func (o *openFile) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.file.Close()
}

// Tracker owns the open transfers of one session.
type Tracker struct {
	maxLifetime time.Duration
	interval    time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu         sync.Mutex
	files      map[string]*openFile
	terminated bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a Tracker and starts its sweep goroutine. Call Terminate to
// release it.
func New(opts Options) *Tracker {
	lifetime := opts.MaxLifetime
	if lifetime <= 0 {
		lifetime = DefaultMaxLifetime
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = lifetime / 2
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := &Tracker{
		maxLifetime: lifetime,
		interval:    interval,
		now:         now,
		logger:      logging.NewComponentLogger(opts.Logger, "transfer"),
		files:       make(map[string]*openFile),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Open opens path for reading and returns its descriptor. A missing file fails
// with faults.ErrNotFound. Errors name the file by its base name only.
func (t *Tracker) Open(path string) (Handle, error) {
	name := filepath.Base(path)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Handle{}, faults.Wrap(faults.ErrNotFound, "transfer", "open", fmt.Sprintf("no file named %s", name), nil)
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			err = pathErr.Err
		}
		return Handle{}, fmt.Errorf("open %s: %w", name, err)
	}

	entry := &openFile{file: file, name: name, openedAt: t.now()}
	descriptor := uuid.NewString()

	t.mu.Lock()
	if t.terminated {
		t.mu.Unlock()
		file.Close()
		return Handle{}, faults.Protocol("transfer", "open", "transfers are closed")
	}
	t.files[descriptor] = entry
	t.mu.Unlock()

	t.logger.Debug("transfer opened",
		logging.String(logging.FieldDescriptor, descriptor),
		logging.String("path", path),
	)
	return Handle{Descriptor: descriptor, Name: entry.name}, nil
}

// Read returns up to size bytes from the transfer. A result shorter than size
// only happens at end of file; an empty result means end of file.
func (t *Tracker) Read(descriptor string, size int) ([]byte, error) {
	if size <= 0 || size > MaxReadSize {
		return nil, faults.Protocol("transfer", "read", fmt.Sprintf("read size %d out of range (1..%d)", size, MaxReadSize))
	}
	entry, err := t.lookup(descriptor, "read")
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return nil, unknownDescriptor("read", descriptor)
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(entry.file, buf)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], nil
	default:
		return nil, fmt.Errorf("read %s: %w", entry.name, err)
	}
}

// Close closes the transfer. Unknown descriptors, including ones already
// closed or expired, fail with faults.ErrProtocol.
func (t *Tracker) Close(descriptor string) error {
	t.mu.Lock()
	entry, ok := t.files[descriptor]
	if ok {
		delete(t.files, descriptor)
	}
	t.mu.Unlock()
	if !ok {
		return unknownDescriptor("close", descriptor)
	}
	if err := entry.close(); err != nil {
		return fmt.Errorf("close %s: %w", entry.name, err)
	}
	t.logger.Debug("transfer closed", logging.String(logging.FieldDescriptor, descriptor))
	return nil
}

// Len reports the number of open transfers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// Terminate stops the sweep and closes every open transfer. It is safe to call
// more than once. Open fails after Terminate.
func (t *Tracker) Terminate() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.done

	t.mu.Lock()
	t.terminated = true
	files := t.files
	t.files = make(map[string]*openFile)
	t.mu.Unlock()

	for descriptor, entry := range files {
		if err := entry.close(); err != nil {
			t.logger.Debug("close on terminate failed",
				logging.String(logging.FieldDescriptor, descriptor),
				logging.Error(err),
			)
		}
	}
	if len(files) > 0 {
		t.logger.Info("transfers terminated", logging.Int("closed", len(files)))
	}
}

func (t *Tracker) lookup(descriptor, operation string) (*openFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.files[descriptor]
	if !ok {
		return nil, unknownDescriptor(operation, descriptor)
	}
	return entry, nil
}

func (t *Tracker) sweepLoop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(t.now())
		}
	}
}

// sweep closes transfers opened before now minus the maximum lifetime and
// returns how many it evicted.
func (t *Tracker) sweep(now time.Time) int {
	cutoff := now.Add(-t.maxLifetime)
	expired := make(map[string]*openFile)

	t.mu.Lock()
	for descriptor, entry := range t.files {
		if entry.openedAt.Before(cutoff) {
			expired[descriptor] = entry
			delete(t.files, descriptor)
		}
	}
	t.mu.Unlock()

	for descriptor, entry := range expired {
		if err := entry.close(); err != nil {
			t.logger.Debug("close on expiry failed",
				logging.String(logging.FieldDescriptor, descriptor),
				logging.Error(err),
			)
		}
		logging.WarnWithContext(t.logger, "transfer exceeded maximum lifetime; closed", "transfer_expired",
			logging.String(logging.FieldDescriptor, descriptor),
			logging.String("file", entry.name),
			logging.Duration("age", now.Sub(entry.openedAt)),
			logging.String(logging.FieldErrorHint, "close port files after reading them"),
			logging.String(logging.FieldImpact, "further reads on this descriptor fail"),
		)
	}
	return len(expired)
}

func unknownDescriptor(operation, descriptor string) error {
	return faults.Protocol("transfer", operation, fmt.Sprintf("unknown descriptor %q", descriptor))
}
