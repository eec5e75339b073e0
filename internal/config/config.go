package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains the RPC listener configuration.
type Server struct {
	Listen string `toml:"listen"`
}

// Paths contains the directories used by the server.
type Paths struct {
	BaseDir  string `toml:"base_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Cleanup controls reclamation of session directories that were never closed.
type Cleanup struct {
	RetentionDays int  `toml:"retention_days"`
	PeriodDays    int  `toml:"period_days"`
	ProtectActive bool `toml:"protect_active"`
}

// Transfer controls remote file transfers.
type Transfer struct {
	MaxLifetimeMinutes int `toml:"max_lifetime_minutes"`
}

// Runner selects and configures the acquisition backend.
type Runner struct {
	Mode               string   `toml:"mode"`
	Command            string   `toml:"command"`
	Args               []string `toml:"args"`
	StopTimeoutSeconds int      `toml:"stop_timeout_seconds"`
	FileExtension      string   `toml:"file_extension"`
	DummyRows          int      `toml:"dummy_rows"`
}

// Devices controls hardware enumeration for list_devices.
type Devices struct {
	NameKey string            `toml:"name_key"`
	Match   map[string]string `toml:"match"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the DAQ server.
//
// Configuration sections by subsystem:
//   - Server: RPC listen address
//   - Paths: session base directory, state (lock + history) and logs
//   - Cleanup: janitor retention and sweep period
//   - Transfer: maximum lifetime of an open remote file
//   - Runner: acquisition backend (hardware process or synthetic)
//   - Devices: sysfs match rules used to enumerate hardware
//   - Logging: log format and level
type Config struct {
	Server   Server   `toml:"server"`
	Paths    Paths    `toml:"paths"`
	Cleanup  Cleanup  `toml:"cleanup"`
	Transfer Transfer `toml:"transfer"`
	Runner   Runner   `toml:"runner"`
	Devices  Devices  `toml:"devices"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg, resolvedPath, exists, err := Read(path)
	if err != nil {
		return nil, "", false, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, "", false, err
	}
	return cfg, resolvedPath, exists, nil
}

// Read locates and parses a configuration file over the defaults without
// normalizing or validating it. Call Finalize after applying overrides.
func Read(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	return &cfg, resolvedPath, exists, nil
}

// Finalize normalizes and validates the configuration. Callers that modify a
// loaded config (for example from command-line flags) run it again.
func (c *Config) Finalize() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("daq-server.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories required for server operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.BaseDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RetentionThreshold is the age after which the janitor removes a session directory.
func (c *Config) RetentionThreshold() time.Duration {
	return time.Duration(c.Cleanup.RetentionDays) * 24 * time.Hour
}

// CleanupPeriod is the interval between janitor sweeps.
func (c *Config) CleanupPeriod() time.Duration {
	return time.Duration(c.Cleanup.PeriodDays) * 24 * time.Hour
}

// MaxTransferLifetime bounds how long a remote file may stay open.
func (c *Config) MaxTransferLifetime() time.Duration {
	return time.Duration(c.Transfer.MaxLifetimeMinutes) * time.Minute
}

// StopTimeout bounds how long the process runner waits for a graceful exit.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Runner.StopTimeoutSeconds) * time.Second
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "daq-server.lock")
}

// HistoryPath returns the session ledger database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "sessions.db")
}

// DebugMode reports whether the synthetic runner is selected.
func (c *Config) DebugMode() bool {
	return c.Runner.Mode == RunnerModeDummy
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
