package supervisor

import (
	"context"
	"log/slog"

	"hls-supervisor/internal/backend"
	"hls-supervisor/internal/platform/metrics"
)

// Backend is the subset of the camera backend the service drives.
// *backend.Client implements it.
type Backend interface {
	Restarter
	RestartAllStreams(ctx context.Context) (*backend.CommandResult, error)
	StartAllRecordings(ctx context.Context) (*backend.CommandResult, error)
	StopAllRecordings(ctx context.Context) (*backend.CommandResult, error)
	StartRecording(ctx context.Context, cameraID, rtspURL string) (*backend.CommandResult, error)
	StopRecording(ctx context.Context, cameraID string) (*backend.CommandResult, error)
	CleanupOldRecordings(ctx context.Context) (*backend.CleanupResult, error)
	Status(ctx context.Context) (*backend.SystemStatus, error)
}

// Service fronts the registry for the HTTP layer and relays backend commands.
type Service struct {
	registry *Registry
	backend  Backend
	metrics  *metrics.Metrics
	hub      *Hub
	log      *slog.Logger
}

// NewService returns a Service. backend, metrics and hub may be nil.
func NewService(reg *Registry, b Backend, m *metrics.Metrics, hub *Hub, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{registry: reg, backend: b, metrics: m, hub: hub, log: log}
}

// Registry returns the underlying registry.
func (s *Service) Registry() *Registry { return s.registry }

// StatusChanged is the OnChange hook handed to every supervisor.
func (s *Service) StatusChanged(snap Snapshot) {
	if s.metrics != nil {
		all := make([]string, len(AllStatuses))
		for i, st := range AllStatuses {
			all[i] = string(st)
		}
		s.metrics.SetStatus(string(snap.CameraID), string(snap.Status), all)
	}
	if s.hub != nil {
		s.hub.Broadcast(snap)
	}
}

// StartAll starts every registered supervisor.
func (s *Service) StartAll() {
	for _, sup := range s.registry.List() {
		sup.Start()
	}
}

// Close tears down every supervisor.
func (s *Service) Close() {
	for _, sup := range s.registry.List() {
		sup.Close()
	}
}

// Snapshots returns the state of every camera ordered by id.
func (s *Service) Snapshots() []Snapshot {
	sups := s.registry.List()
	out := make([]Snapshot, 0, len(sups))
	for _, sup := range sups {
		out = append(out, sup.Snapshot())
	}
	return out
}

// Snapshot returns the state of one camera.
func (s *Service) Snapshot(id CameraID) (Snapshot, error) {
	sup, ok := s.registry.Get(id)
	if !ok {
		return Snapshot{}, ErrCameraNotFound
	}
	return sup.Snapshot(), nil
}

// Reload fully reinitializes one camera.
func (s *Service) Reload(id CameraID) error {
	sup, ok := s.registry.Get(id)
	if !ok {
		return ErrCameraNotFound
	}
	sup.Reload()
	return nil
}

// Restart restarts the backend stream of one camera and reinitializes it.
func (s *Service) Restart(ctx context.Context, id CameraID) (*backend.CommandResult, error) {
	sup, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrCameraNotFound
	}
	res, err := sup.Restart(ctx)
	s.countCommand("restart_stream", res, err)
	return res, err
}

// Remove tears down one camera and drops it from the registry.
func (s *Service) Remove(id CameraID) error {
	sup, ok := s.registry.Remove(id)
	if !ok {
		return ErrCameraNotFound
	}
	sup.Close()
	s.log.Info("camera removed", slog.String("camera_id", string(id)))
	return nil
}

// SetVisible suspends or resumes one camera.
func (s *Service) SetVisible(id CameraID, visible bool) error {
	sup, ok := s.registry.Get(id)
	if !ok {
		return ErrCameraNotFound
	}
	sup.SetVisible(visible)
	return nil
}

// SetAllVisible suspends or resumes every camera.
func (s *Service) SetAllVisible(visible bool) {
	for _, sup := range s.registry.List() {
		sup.SetVisible(visible)
	}
}

// RestartAll asks the backend to restart every stream, then reloads every
// session whatever the backend answered.
func (s *Service) RestartAll(ctx context.Context) (*backend.CommandResult, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	res, err := s.backend.RestartAllStreams(ctx)
	s.countCommand("restart_all_streams", res, err)
	if err != nil {
		s.log.Warn("restart all streams failed", slog.String("error", err.Error()))
	}
	for _, sup := range s.registry.List() {
		sup.Reload()
	}
	return res, err
}

// StartAllRecordings relays to the backend.
func (s *Service) StartAllRecordings(ctx context.Context) (*backend.CommandResult, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	res, err := s.backend.StartAllRecordings(ctx)
	s.countCommand("start_all_recordings", res, err)
	return res, err
}

// StopAllRecordings relays to the backend.
func (s *Service) StopAllRecordings(ctx context.Context) (*backend.CommandResult, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	res, err := s.backend.StopAllRecordings(ctx)
	s.countCommand("stop_all_recordings", res, err)
	return res, err
}

// StartRecording asks the backend to record one camera from rtspURL.
func (s *Service) StartRecording(ctx context.Context, id CameraID, rtspURL string) (*backend.CommandResult, error) {
	if _, ok := s.registry.Get(id); !ok {
		return nil, ErrCameraNotFound
	}
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	res, err := s.backend.StartRecording(ctx, string(id), rtspURL)
	s.countCommand("start_recording", res, err)
	return res, err
}

// StopRecording asks the backend to stop recording one camera.
func (s *Service) StopRecording(ctx context.Context, id CameraID) (*backend.CommandResult, error) {
	if _, ok := s.registry.Get(id); !ok {
		return nil, ErrCameraNotFound
	}
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	res, err := s.backend.StopRecording(ctx, string(id))
	s.countCommand("stop_recording", res, err)
	return res, err
}

// CleanupOldRecordings relays to the backend.
func (s *Service) CleanupOldRecordings(ctx context.Context) (*backend.CleanupResult, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	res, err := s.backend.CleanupOldRecordings(ctx)
	outcome := "ok"
	if err != nil || res.Status != "success" {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.IncBackendCommand("cleanup_old_recordings", outcome)
	}
	return res, err
}

// BackendStatus fetches the backend's status report.
func (s *Service) BackendStatus(ctx context.Context) (*backend.SystemStatus, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	return s.backend.Status(ctx)
}

func (s *Service) countCommand(command string, res *backend.CommandResult, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil || res == nil || !res.OK() {
		outcome = "error"
	}
	s.metrics.IncBackendCommand(command, outcome)
}
