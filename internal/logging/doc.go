// Package logging builds the slog loggers used by daq-server and daq-client.
//
// The console format puts the component, RPC method and short request id in
// front of the message so one call can be followed through the log. OpenServerLog
// mirrors server output into a per-day file under paths.log_dir, and PruneLogs
// drops days older than the retention threshold.
package logging
