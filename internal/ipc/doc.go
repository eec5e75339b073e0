// Package ipc exposes the session manager over JSON-RPC on TCP and ships the
// matching client used by daq-client.
//
// Faults cross the wire as "<kind>: <message>" strings; the client turns them
// back into errors that satisfy errors.Is against the faults sentinels.
// Client.GetData implements the chunked download of every port file.
package ipc
