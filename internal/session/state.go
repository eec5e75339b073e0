package session

// State is the externally visible state of the manager.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateConfigured   State = "configured"
	StateRunning      State = "running"
)

// Status summarises the current session.
type Status struct {
	State         State
	Directory     string
	Labels        []string
	DeviceID      string
	SamplingRate  int
	OpenTransfers int
}
