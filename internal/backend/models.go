package backend

import (
	"strings"
	"time"
)

// CommandResult is the reply to a backend control command
// (restart_stream, restart_all_streams, start/stop recordings).
type CommandResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the backend acknowledged the command. Recording
// commands answer with free-form status text ("all recordings started",
// "some recordings failed to stop"), so any mention of a failure is not OK.
func (r CommandResult) OK() bool {
	switch r.Status {
	case "", "error", "partial":
		return false
	}
	return !strings.Contains(strings.ToLower(r.Status), "fail")
}

// recordingRequest is the body of /start_recording and /stop_recording.
type recordingRequest struct {
	CameraID string `json:"camera_id"`
	RTSPURL  string `json:"rtsp_url,omitempty"`
}

// CleanupResult is the reply to POST /cleanup_old_recordings.
type CleanupResult struct {
	Status       string `json:"status"`
	DeletedCount int    `json:"deleted_count"`
	Message      string `json:"message,omitempty"`
}

// SystemStatus is the body of GET /status.
type SystemStatus struct {
	Cameras   map[string]CameraStatus `json:"cameras"`
	DiskSpace map[string]DiskStatus   `json:"disk_space"`
	LastCheck string                  `json:"last_check"`
}

// CameraStatus is one camera entry of SystemStatus.
type CameraStatus struct {
	Name      string          `json:"name"`
	Streaming StreamingStatus `json:"streaming"`
	Recording RecordingStatus `json:"recording"`
}

// StreamingStatus describes the backend capture process for a camera.
type StreamingStatus struct {
	Connected  bool    `json:"connected"`
	ErrorCount int     `json:"error_count"`
	Uptime     float64 `json:"uptime"`
	StatusCode int     `json:"status_code"`
}

// RecordingStatus describes the backend recorder for a camera.
type RecordingStatus struct {
	Active bool   `json:"active"`
	Status string `json:"status"`
}

// DiskStatus is the free space report for one storage path.
type DiskStatus struct {
	FreeSpaceGB float64 `json:"free_space_gb"`
	Status      string  `json:"status"`
}

// UptimeDuration converts the backend's uptime seconds.
func (s StreamingStatus) UptimeDuration() time.Duration {
	return time.Duration(s.Uptime * float64(time.Second))
}
