// Command daq-server runs the DAQ control server: it accepts JSON-RPC
// commands on TCP, drives one acquisition session at a time, serves the
// resulting port files in chunks and periodically removes aged session
// directories.
//
// Command-line flags override values from the TOML configuration file.
// `daq-server config init` writes a commented sample configuration.
package main
