package history

import "time"

// State is the lifecycle state recorded for a session.
type State string

const (
	StateConfigured State = "configured"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateEnded      State = "ended"
)

// EndReason records why a session ended.
type EndReason string

const (
	// EndClosed means the client closed the session and its data was deleted.
	EndClosed EndReason = "closed"
	// EndReplaced means a new configure superseded the session; its data was kept.
	EndReplaced EndReason = "replaced"
	// EndReclaimed means the janitor removed the directory of a session that never ended.
	EndReclaimed EndReason = "reclaimed"
	// EndShutdown means the server exited while the session was active.
	EndShutdown EndReason = "shutdown"
)

// Record is one row of the session ledger.
type Record struct {
	ID           int64
	Directory    string
	Labels       []string
	DeviceID     string
	SamplingRate int
	State        State
	ConfiguredAt time.Time
	StartedAt    *time.Time
	StoppedAt    *time.Time
	EndedAt      *time.Time
	EndReason    EndReason
	ReclaimedAt  *time.Time
}
