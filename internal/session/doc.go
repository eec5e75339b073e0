// Package session owns the single capture session of a DAQ server.
//
// Manager accepts device configurations, creates a timestamped output
// directory per session, drives the Runner through start and stop, and serves
// the session's port files through a transfer.Tracker. Commands issued in the
// wrong state fail with faults.ErrProtocol; recoverable anomalies such as a
// second start without a stop are logged as warnings instead.
//
// Lifecycle commands are serialised. Transfer commands only read the current
// session pointer, so file downloads proceed while another client configures
// or stops acquisition.
package session
