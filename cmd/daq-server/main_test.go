package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"daqserver/internal/config"
)

func runServerCLI(t *testing.T, args ...string) (*config.Config, string, error) {
	t.Helper()
	var got *config.Config
	cmd := newRootCommandWith(func(_ *cobra.Command, cfg *config.Config) error {
		got = cfg
		return nil
	})
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return got, stdout.String(), err
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	return home
}

func TestFlagsOverrideDefaults(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, "captures")
	cfg, _, err := runServerCLI(t, "--debug", "--verbose", "-p", "5000", "-d", dir, "-c", "2", "--cleanup-period", "3")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if cfg.Server.Listen != ":5000" {
		t.Fatalf("unexpected listen address %q", cfg.Server.Listen)
	}
	if cfg.Paths.BaseDir != dir {
		t.Fatalf("unexpected base dir %q", cfg.Paths.BaseDir)
	}
	if cfg.Cleanup.RetentionDays != 2 || cfg.Cleanup.PeriodDays != 3 {
		t.Fatalf("unexpected cleanup settings %+v", cfg.Cleanup)
	}
	if !cfg.DebugMode() || cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug runner and verbose logging, got mode=%s level=%s", cfg.Runner.Mode, cfg.Logging.Level)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	home := isolateHome(t)
	path := filepath.Join(home, "server.toml")
	content := "[server]\nlisten = \"127.0.0.1:6000\"\n[cleanup]\nretention_days = 9\n[runner]\nmode = \"dummy\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, err := runServerCLI(t, "--config", path, "--port", "7000")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:7000" {
		t.Fatalf("expected file host with flag port, got %q", cfg.Server.Listen)
	}
	if cfg.Cleanup.RetentionDays != 9 {
		t.Fatalf("expected retention from file, got %d", cfg.Cleanup.RetentionDays)
	}
}

func TestInvalidFlagsAreRejected(t *testing.T) {
	isolateHome(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero retention", []string{"--debug", "-c", "0"}, "cleanup.retention_days"},
		{"port out of range", []string{"--debug", "-p", "70000"}, "--port"},
		{"hardware without command", nil, "runner.command"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := runServerCLI(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	home := isolateHome(t)
	target := filepath.Join(home, "sample.toml")
	_, out, err := runServerCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, _, err := runServerCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting an existing file")
	}

	dummy := filepath.Join(home, "dummy.toml")
	if err := os.WriteFile(dummy, []byte("[runner]\nmode = \"dummy\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, out, err = runServerCLI(t, "--config", dummy, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected output %q", out)
	}
}
