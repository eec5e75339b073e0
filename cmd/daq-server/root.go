package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"daqserver/internal/config"
	"daqserver/internal/daemonrun"
)

type serverFlags struct {
	configPath    string
	port          int
	directory     string
	cleanupAfter  int
	cleanupPeriod int
	debug         bool
	verbose       bool
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(func(cmd *cobra.Command, cfg *config.Config) error {
		return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{})
	})
}

// newRootCommandWith builds the command tree with serve handling the resolved config.
func newRootCommandWith(serve func(*cobra.Command, *config.Config) error) *cobra.Command {
	flags := &serverFlags{}

	rootCmd := &cobra.Command{
		Use:           "daq-server",
		Short:         "Remote data acquisition control server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cmd, cfg)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Configuration file path")
	f := rootCmd.Flags()
	f.IntVarP(&flags.port, "port", "p", config.DefaultPort, "TCP port to listen on")
	f.StringVarP(&flags.directory, "directory", "d", "", "Base directory for session output")
	f.IntVarP(&flags.cleanupAfter, "cleanup-after", "c", 5, "Remove session directories older than this many days")
	f.IntVar(&flags.cleanupPeriod, "cleanup-period", 1, "Days between cleanup sweeps")
	f.BoolVar(&flags.debug, "debug", false, "Use the synthetic runner instead of acquisition hardware")
	f.BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(newConfigCommand(flags))
	return rootCmd
}

// resolveConfig reads the configuration file and applies explicitly set flags.
func resolveConfig(cmd *cobra.Command, flags *serverFlags) (*config.Config, error) {
	cfg, _, _, err := config.Read(strings.TrimSpace(flags.configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	changed := cmd.Flags().Changed
	if changed("port") {
		if flags.port < 0 || flags.port > 65535 {
			return nil, fmt.Errorf("--port %d out of range", flags.port)
		}
		host, _, err := net.SplitHostPort(cfg.Server.Listen)
		if err != nil {
			host = ""
		}
		cfg.Server.Listen = net.JoinHostPort(host, strconv.Itoa(flags.port))
	}
	if changed("directory") {
		cfg.Paths.BaseDir = flags.directory
	}
	if changed("cleanup-after") {
		cfg.Cleanup.RetentionDays = flags.cleanupAfter
	}
	if changed("cleanup-period") {
		cfg.Cleanup.PeriodDays = flags.cleanupPeriod
	}
	if flags.debug {
		cfg.Runner.Mode = config.RunnerModeDummy
	}
	if flags.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
