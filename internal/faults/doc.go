// Package faults defines the error taxonomy shared by the DAQ server and its
// clients.
//
// Every failure surfaced to a caller is tagged with one of the exported
// sentinels so it can be classified with errors.Is on either side of the RPC
// boundary. Remote faults travel as "<kind>: <detail>" strings and are turned
// back into tagged errors by FromRemote.
package faults
