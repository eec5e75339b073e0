package ipc

import (
	"path/filepath"
	"time"

	"daqserver/internal/device"
	"daqserver/internal/history"
	"daqserver/internal/session"
)

// ServiceName prefixes every RPC method.
const ServiceName = "Daq"

// Empty is the request type of commands that take no arguments.
type Empty struct{}

// ConfigureRequest carries the device configuration for a new session.
type ConfigureRequest struct {
	Config device.Config `json:"config"`
}

// ConfigureResponse names the new session. Session is the base name of its
// output directory; server paths are never sent.
type ConfigureResponse struct {
	Session string `json:"session"`
}

// StartResponse acknowledges a start command.
type StartResponse struct{}

// StopResponse acknowledges a stop command.
type StopResponse struct{}

// ListDevicesResponse lists acquisition hardware visible to the server.
type ListDevicesResponse struct {
	Devices []string `json:"devices"`
}

// ListPortsResponse lists the configured labels in configuration order.
type ListPortsResponse struct {
	Labels []string `json:"labels"`
}

// ListPortFilesResponse lists labels whose port file exists on disk.
type ListPortFilesResponse struct {
	Labels []string `json:"labels"`
}

// OpenPortFileRequest names the port to open.
type OpenPortFileRequest struct {
	Label string `json:"label"`
}

// OpenPortFileResponse identifies the opened transfer.
type OpenPortFileResponse struct {
	Descriptor string `json:"descriptor"`
	Name       string `json:"name"`
}

// ReadPortFileRequest asks for the next chunk of an open transfer.
type ReadPortFileRequest struct {
	Descriptor string `json:"descriptor"`
	Size       int    `json:"size"`
}

// ReadPortFileResponse carries a chunk. An empty chunk means end of file.
type ReadPortFileResponse struct {
	Data []byte `json:"data"`
}

// ClosePortFileRequest releases an open transfer.
type ClosePortFileRequest struct {
	Descriptor string `json:"descriptor"`
}

// ClosePortFileResponse acknowledges a close_port_file command.
type ClosePortFileResponse struct{}

// CloseResponse acknowledges a close command.
type CloseResponse struct{}

// StatusResponse summarises the active session.
type StatusResponse struct {
	State         string   `json:"state"`
	Session       string   `json:"session,omitempty"`
	DeviceID      string   `json:"device_id,omitempty"`
	SamplingRate  int      `json:"sampling_rate,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	OpenTransfers int      `json:"open_transfers"`
	PID           int      `json:"pid"`
}

// SessionsRequest limits how many history records are returned.
type SessionsRequest struct {
	Limit int `json:"limit"`
}

// SessionRecord is the wire form of a history record.
type SessionRecord struct {
	ID           int64      `json:"id"`
	Session      string     `json:"session"`
	Labels       []string   `json:"labels"`
	DeviceID     string     `json:"device_id"`
	SamplingRate int        `json:"sampling_rate"`
	State        string     `json:"state"`
	ConfiguredAt time.Time  `json:"configured_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	StoppedAt    *time.Time `json:"stopped_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	EndReason    string     `json:"end_reason,omitempty"`
	ReclaimedAt  *time.Time `json:"reclaimed_at,omitempty"`
}

// SessionsResponse lists history records newest first.
type SessionsResponse struct {
	Sessions []SessionRecord `json:"sessions"`
}

func statusResponse(status session.Status, pid int) StatusResponse {
	return StatusResponse{
		State:         string(status.State),
		Session:       sessionName(status.Directory),
		DeviceID:      status.DeviceID,
		SamplingRate:  status.SamplingRate,
		Labels:        status.Labels,
		OpenTransfers: status.OpenTransfers,
		PID:           pid,
	}
}

func sessionRecord(rec history.Record) SessionRecord {
	return SessionRecord{
		ID:           rec.ID,
		Session:      sessionName(rec.Directory),
		Labels:       rec.Labels,
		DeviceID:     rec.DeviceID,
		SamplingRate: rec.SamplingRate,
		State:        string(rec.State),
		ConfiguredAt: rec.ConfiguredAt,
		StartedAt:    rec.StartedAt,
		StoppedAt:    rec.StoppedAt,
		EndedAt:      rec.EndedAt,
		EndReason:    string(rec.EndReason),
		ReclaimedAt:  rec.ReclaimedAt,
	}
}

func sessionName(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Base(dir)
}
