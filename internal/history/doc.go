// Package history keeps a SQLite ledger of capture sessions.
//
// Each configure creates a record that is updated as the session starts,
// stops and ends. Records outlive their session directories so operators can
// see what ran on the server, how each session ended and when the janitor
// reclaimed its data. The ledger is informational: the server keeps working
// when it cannot be written.
package history
