package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	if err := c.validateRunner(); err != nil {
		return err
	}
	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen %q must be host:port: %w", c.Server.Listen, err)
	}
	return nil
}

func (c *Config) validateDurations() error {
	return ensurePositiveMap(map[string]int{
		"cleanup.retention_days":        c.Cleanup.RetentionDays,
		"cleanup.period_days":           c.Cleanup.PeriodDays,
		"transfer.max_lifetime_minutes": c.Transfer.MaxLifetimeMinutes,
		"runner.stop_timeout_seconds":   c.Runner.StopTimeoutSeconds,
	})
}

func (c *Config) validateRunner() error {
	switch c.Runner.Mode {
	case RunnerModeDAQ:
		if c.Runner.Command == "" {
			return errors.New("runner.command is required when runner.mode is \"daq\" (use --debug for the synthetic runner)")
		}
	case RunnerModeDummy:
	default:
		return fmt.Errorf("runner.mode: unsupported value %q (want %q or %q)", c.Runner.Mode, RunnerModeDAQ, RunnerModeDummy)
	}
	return nil
}

func (c *Config) validateDevices() error {
	for key, pattern := range c.Devices.Match {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("devices.match.%s: invalid pattern: %w", key, err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
