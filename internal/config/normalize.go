package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeRunner()
	c.normalizeDevices()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.BaseDir) == "" {
		c.Paths.BaseDir = defaultBaseDir
	}
	if c.Paths.BaseDir, err = expandPath(strings.TrimSpace(c.Paths.BaseDir)); err != nil {
		return fmt.Errorf("paths.base_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	// An empty log dir disables the log file; only stdout is used.
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Listen = strings.TrimSpace(c.Server.Listen)
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
}

func (c *Config) normalizeRunner() {
	c.Runner.Mode = strings.ToLower(strings.TrimSpace(c.Runner.Mode))
	if c.Runner.Mode == "" {
		c.Runner.Mode = RunnerModeDAQ
	}
	c.Runner.Command = strings.TrimSpace(c.Runner.Command)
	ext := strings.TrimPrefix(strings.TrimSpace(c.Runner.FileExtension), ".")
	if ext == "" {
		ext = defaultFileExtension
	}
	c.Runner.FileExtension = ext
	if c.Runner.DummyRows <= 0 {
		c.Runner.DummyRows = defaultDummyRows
	}
}

func (c *Config) normalizeDevices() {
	c.Devices.NameKey = strings.TrimSpace(c.Devices.NameKey)
	if c.Devices.NameKey == "" {
		c.Devices.NameKey = defaultDeviceNameKey
	}
	if len(c.Devices.Match) == 0 {
		return
	}
	cleaned := make(map[string]string, len(c.Devices.Match))
	for key, value := range c.Devices.Match {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		cleaned[key] = strings.TrimSpace(value)
	}
	c.Devices.Match = cleaned
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
