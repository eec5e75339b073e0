package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"daqserver/internal/device"
	"daqserver/internal/ipc"
)

func newConfigureCommand(ctx *commandContext) *cobra.Command {
	var cfg device.Config

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Configure a new acquisition session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Validate locally first so obvious mistakes never reach the server.
			if err := cfg.Normalize().Validate(); err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				dir, err := client.Configure(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), dir)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.DeviceID, "device-id", device.DefaultDeviceID, "DAQ device identifier")
	f.Float64Var(&cfg.VRange, "v-range", device.DefaultVRange, "Voltage channel range in volts")
	f.Float64Var(&cfg.DVRange, "dv-range", device.DefaultDVRange, "Shunt voltage channel range in volts")
	f.IntVar(&cfg.SamplingRate, "sampling-rate", device.DefaultSamplingRate, "Samples per second")
	f.Float64SliceVar(&cfg.ResistorValues, "resistor-values", nil, "Shunt resistor value per port, in ohms")
	f.StringSliceVar(&cfg.Labels, "labels", nil, "Port labels (default PORT_<i>)")
	f.IntSliceVar(&cfg.ChannelMap, "channel-map", nil, "Analog input channel map")
	return cmd
}

func newSimpleCommand(ctx *commandContext, use, short string, call func(*ipc.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := call(client); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Ok")
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext, use, short string, call func(*ipc.Client) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				values, err := call(client)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, value := range values {
					fmt.Fprintln(out, value)
				}
				return nil
			})
		},
	}
}

func newGetDataCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "get-data",
		Short: "Download every port file of the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ipc.CheckChunkSize(chunkSize); err != nil {
				return err
			}
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				paths, err := client.GetData(cmd.Context(), outputDir, chunkSize)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, path := range paths {
					fmt.Fprintln(out, path)
				}
				fmt.Fprintln(out, "Ok")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-directory", "o", ".", "Directory for downloaded port files")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", ipc.DefaultChunkSize, "Bytes requested per read")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the server's session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"State", status.State},
					{"Server PID", strconv.Itoa(status.PID)},
				}
				if status.Session != "" {
					rows = append(rows,
						[]string{"Session", status.Session},
						[]string{"Device", status.DeviceID},
						[]string{"Sampling rate", strconv.Itoa(status.SamplingRate)},
						[]string{"Ports", strings.Join(status.Labels, ", ")},
						[]string{"Open transfers", strconv.Itoa(status.OpenTransfers)},
					)
				}
				fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil, shouldColorize(out)))
				return nil
			})
		},
	}
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show recent sessions recorded by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				records, err := client.Sessions(limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No sessions recorded")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						strconv.FormatInt(rec.ID, 10),
						rec.ConfiguredAt.Local().Format(time.DateTime),
						rec.State,
						rec.EndReason,
						strings.Join(rec.Labels, ","),
						rec.Session,
					})
				}
				headers := []string{"ID", "Configured", "State", "Ended", "Ports", "Session"}
				aligns := []columnAlignment{alignRight}
				fmt.Fprintln(out, renderTable(headers, rows, aligns, shouldColorize(out)))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions to show")
	return cmd
}
