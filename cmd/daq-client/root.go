package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"daqserver/internal/config"
	"daqserver/internal/ipc"
	"daqserver/internal/logging"
)

type commandContext struct {
	host    string
	port    int
	verbose bool
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "daq-client",
		Short:         "Send commands to a daq-server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&ctx.host, "host", "127.0.0.1", "Server host")
	pf.IntVar(&ctx.port, "port", config.DefaultPort, "Server port")
	pf.BoolVar(&ctx.verbose, "verbose", false, "Produce verbose output")

	rootCmd.AddCommand(newConfigureCommand(ctx))
	rootCmd.AddCommand(newSimpleCommand(ctx, "start", "Start acquisition", (*ipc.Client).Start))
	rootCmd.AddCommand(newSimpleCommand(ctx, "stop", "Stop acquisition", (*ipc.Client).Stop))
	rootCmd.AddCommand(newSimpleCommand(ctx, "close", "End the session and delete its data on the server", (*ipc.Client).CloseSession))
	rootCmd.AddCommand(newListCommand(ctx, "list-devices", "List acquisition devices on the server", (*ipc.Client).ListDevices))
	rootCmd.AddCommand(newListCommand(ctx, "list-ports", "List configured port labels", (*ipc.Client).ListPorts))
	rootCmd.AddCommand(newListCommand(ctx, "list-port-files", "List ports whose data file exists", (*ipc.Client).ListPortFiles))
	rootCmd.AddCommand(newGetDataCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newSessionsCommand(ctx))

	return rootCmd
}

func (c *commandContext) address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

func (c *commandContext) logger() *slog.Logger {
	level := "info"
	if c.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Level: level, Format: "console", Writer: os.Stderr})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	addr := c.address()
	client, err := ipc.Dial(addr, c.logger())
	if err != nil {
		return wrapDialError(err, addr)
	}
	defer client.Close()
	return fn(client)
}

func wrapDialError(err error, addr string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to server: %s refused the connection; verify daq-server is running", addr)
	}
	return fmt.Errorf("connect to server: %w", err)
}
