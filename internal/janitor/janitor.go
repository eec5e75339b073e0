package janitor

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"daqserver/internal/fileutil"
	"daqserver/internal/logging"
)

const (
	// DefaultPeriod is the interval between sweeps.
	DefaultPeriod = 24 * time.Hour
	// DefaultThreshold is the age after which a session directory is removed.
	DefaultThreshold = 5 * 24 * time.Hour
)

// Options configures a Janitor.
type Options struct {
	BaseDir   string
	Period    time.Duration
	Threshold time.Duration
	// Protect returns the directory that must survive the sweep, or "".
	Protect func() string
	// OnRemove is called with the path of every removed directory.
	OnRemove func(path string)
	Now      func() time.Time
	Logger   *slog.Logger
}

// Result contains the outcome of one sweep.
type Result struct {
	Removed []string
	Kept    int
	Errors  []RemoveError
}

// RemoveError pairs a directory path with its cleanup error.
type RemoveError struct {
	Path  string
	Error error
}

// Janitor removes aged session directories.
type Janitor struct {
	baseDir   string
	period    time.Duration
	threshold time.Duration
	protect   func() string
	onRemove  func(string)
	now       func() time.Time
	logger    *slog.Logger
}

// New constructs a Janitor.
func New(opts Options) *Janitor {
	period := opts.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Janitor{
		baseDir:   strings.TrimSpace(opts.BaseDir),
		period:    period,
		threshold: threshold,
		protect:   opts.Protect,
		onRemove:  opts.OnRemove,
		now:       now,
		logger:    logging.NewComponentLogger(opts.Logger, "janitor"),
	}
}

// Run sweeps once per period until ctx is cancelled. The first sweep happens
// one period after Run is called.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info("janitor started",
		logging.String("base_dir", j.baseDir),
		logging.Duration("period", j.period),
		logging.Duration("threshold", j.threshold),
	)
	ticker := time.NewTicker(j.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Debug("janitor stopped")
			return
		case <-ticker.C:
			result := j.Sweep(j.now())
			j.logger.Info("janitor sweep complete",
				logging.Int("removed", len(result.Removed)),
				logging.Int("kept", result.Kept),
				logging.Int("errors", len(result.Errors)),
				logging.String(logging.FieldEventType, "janitor_sweep"),
			)
		}
	}
}

// Sweep removes every session directory older than the threshold at now.
// Failures are collected and the sweep continues with the next entry.
func (j *Janitor) Sweep(now time.Time) Result {
	result := Result{}
	if j.baseDir == "" {
		return result
	}

	entries, err := os.ReadDir(j.baseDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, RemoveError{Path: j.baseDir, Error: err})
			logging.WarnWithContext(j.logger, "cannot list base directory", "janitor_list_failed",
				logging.String("base_dir", j.baseDir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check base directory permissions"),
				logging.String(logging.FieldImpact, "stale sessions are not reclaimed"),
			)
		}
		return result
	}

	protected := ""
	if j.protect != nil {
		protected = filepath.Clean(j.protect())
	}
	cutoff := now.Add(-j.threshold)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(j.baseDir, entry.Name())
		if dirPath == protected {
			j.logger.Debug("keeping active session directory", logging.String("path", dirPath))
			result.Kept++
			continue
		}

		created, source, err := j.createdAt(dirPath, entry)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			result.Errors = append(result.Errors, RemoveError{Path: dirPath, Error: err})
			continue
		}
		age := now.Sub(created)
		if !created.Before(cutoff) {
			j.logger.Debug("keeping session directory",
				logging.String("path", dirPath),
				logging.Duration("age", age),
				logging.String("age_source", source),
			)
			result.Kept++
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, RemoveError{Path: dirPath, Error: err})
			logging.WarnWithContext(j.logger, "failed to remove stale session directory", "janitor_remove_failed",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check base directory permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		j.logger.Info("removed stale session directory",
			logging.String("path", dirPath),
			logging.Duration("age", age),
			logging.String("age_source", source),
			logging.String(logging.FieldEventType, "janitor_cleanup"),
		)
		if j.onRemove != nil {
			j.onRemove(dirPath)
		}
	}
	return result
}

func (j *Janitor) createdAt(path string, entry fs.DirEntry) (time.Time, string, error) {
	if stamp, ok := fileutil.ParseDirName(entry.Name()); ok {
		return stamp, "name", nil
	}
	if born, ok := fileutil.BirthTime(path); ok {
		return born, "birth_time", nil
	}
	info, err := entry.Info()
	if err != nil {
		return time.Time{}, "", err
	}
	return info.ModTime(), "mod_time", nil
}
