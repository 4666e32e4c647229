package supervisor

import "time"

// CameraID identifies a supervised camera. It is opaque and stable for the
// lifetime of the process.
type CameraID string

// Status is the health classification of a playback session.
type Status string

const (
	StatusConnecting     Status = "connecting"
	StatusConnected      Status = "connected"
	StatusConnectedMuted Status = "connectedMuted"
	StatusReconnecting   Status = "reconnecting"
	StatusBuffering      Status = "buffering"
	StatusStalled        Status = "stalled"
	StatusRestarting     Status = "restarting"
	StatusError          Status = "error"
	StatusPaused         Status = "paused"
)

// AllStatuses lists every Status, in declaration order.
var AllStatuses = []Status{
	StatusConnecting,
	StatusConnected,
	StatusConnectedMuted,
	StatusReconnecting,
	StatusBuffering,
	StatusStalled,
	StatusRestarting,
	StatusError,
	StatusPaused,
}

// ErrorKind classifies fatal playback engine errors.
type ErrorKind string

const (
	ErrorNetwork ErrorKind = "network"
	ErrorMedia   ErrorKind = "media"
	ErrorOther   ErrorKind = "other"
)

// ReadyState mirrors the media element ready states.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// Snapshot is a read-only copy of a session, published after every change.
type Snapshot struct {
	CameraID           CameraID  `json:"camera_id"`
	Name               string    `json:"name"`
	Status             Status    `json:"status"`
	Detail             string    `json:"detail,omitempty"`
	MediaEndpoint      string    `json:"media_endpoint,omitempty"`
	RetryCount         int       `json:"retry_count"`
	LastFragmentAt     time.Time `json:"last_fragment_at"`
	HealthCheckEnabled bool      `json:"health_check_enabled"`
	Generation         uint64    `json:"generation"`
	Reinitializations  int       `json:"reinitializations"`
	UpdatedAt          time.Time `json:"updated_at"`
}
