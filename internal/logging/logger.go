package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"daqserver/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Writer receives every record. Nil means stdout.
	Writer io.Writer
}

// New builds a console or JSON logger. Debug level also records the caller.
func New(opts Options) (*slog.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	source := level <= slog.LevelDebug

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		return slog.New(newConsoleHandler(w, level, source)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			AddSource:   source,
			ReplaceAttr: shortJSONKeys,
		})), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log level: unsupported value %q", level)
	}
}

func shortJSONKeys(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
		attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
	case slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return attr
}

// LogFilePrefix is the name prefix of log files written under the log directory.
const LogFilePrefix = "daq-server-"

// LogFileName returns the log file name used for the day containing t.
func LogFileName(t time.Time) string {
	return LogFilePrefix + t.Format("20060102") + ".log"
}

// ServerLog is the daq-server logger together with the daily file it mirrors to.
type ServerLog struct {
	Logger *slog.Logger
	// Path is the daily log file, empty when no log directory is configured.
	Path string
	file *os.File
}

// OpenServerLog builds the server logger from cfg. Records go to stdout and,
// when paths.log_dir is set, are appended to the file for the day of now.
func OpenServerLog(cfg *config.Config, now time.Time) (*ServerLog, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	out := &ServerLog{}
	var w io.Writer = os.Stdout
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		out.Path = filepath.Join(dir, LogFileName(now))
		file, err := os.OpenFile(out.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out.file = file
		w = io.MultiWriter(os.Stdout, file)
	}

	logger, err := New(Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Writer: w})
	if err != nil {
		out.Close()
		return nil, err
	}
	out.Logger = logger
	return out, nil
}

// Close releases the daily log file.
func (l *ServerLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
