package supervisor

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"hls-supervisor/internal/backend"

	"github.com/go-chi/chi/v5"
)

// Handler exposes supervisor HTTP endpoints using go-chi.
type Handler struct {
	svc *Service
	hub *Hub
	log *slog.Logger
}

// NewHandler returns a Handler for svc. hub may be nil to disable /ws.
func NewHandler(svc *Service, hub *Hub, log *slog.Logger) *Handler {
	return &Handler{svc: svc, hub: hub, log: log}
}

// Mount registers every route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.BackendStatus)
	r.Post("/suspend", h.SuspendAll)
	r.Post("/resume", h.ResumeAll)
	r.Post("/restart_all_streams", h.RestartAll)
	r.Route("/recordings", func(r chi.Router) {
		r.Post("/start", h.StartRecordings)
		r.Post("/stop", h.StopRecordings)
		r.Post("/cleanup", h.CleanupRecordings)
	})
	r.Route("/cameras", func(r chi.Router) {
		r.Get("/", h.ListCameras)
		r.Route("/{camera_id}", func(r chi.Router) {
			r.Get("/", h.GetCamera)
			r.Delete("/", h.RemoveCamera)
			r.Post("/reload", h.Reload)
			r.Post("/restart", h.Restart)
			r.Post("/suspend", h.Suspend)
			r.Post("/resume", h.Resume)
			r.Post("/recordings/start", h.StartRecording)
			r.Post("/recordings/stop", h.StopRecording)
		})
	})
	if h.hub != nil {
		r.Get("/ws", h.hub.ServeWS(h.svc.Snapshots))
	}
}

// commandResponse is the body returned by command endpoints.
type commandResponse struct {
	CameraID CameraID               `json:"camera_id,omitempty"`
	Backend  *backend.CommandResult `json:"backend,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"cameras": h.svc.Registry().Len(),
	})
}

// ListCameras handles GET /cameras.
func (h *Handler) ListCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Snapshots())
}

// GetCamera handles GET /cameras/{camera_id}.
func (h *Handler) GetCamera(w http.ResponseWriter, r *http.Request) {
	id := CameraID(chi.URLParam(r, "camera_id"))
	snap, err := h.svc.Snapshot(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RemoveCamera handles DELETE /cameras/{camera_id}.
func (h *Handler) RemoveCamera(w http.ResponseWriter, r *http.Request) {
	id := CameraID(chi.URLParam(r, "camera_id"))
	if err := h.svc.Remove(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload handles POST /cameras/{camera_id}/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	id := CameraID(chi.URLParam(r, "camera_id"))
	if err := h.svc.Reload(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("camera reload requested", slog.String("camera_id", string(id)))
	writeJSON(w, http.StatusAccepted, commandResponse{CameraID: id})
}

// Restart handles POST /cameras/{camera_id}/restart. The session is
// reinitialized even when the backend call fails; the response reports the
// backend outcome.
func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	id := CameraID(chi.URLParam(r, "camera_id"))
	res, err := h.svc.Restart(r.Context(), id)
	switch {
	case errors.Is(err, ErrCameraNotFound):
		h.writeError(w, err)
		return
	case err != nil:
		h.log.Warn("camera restart backend failure",
			slog.String("camera_id", string(id)),
			slog.String("error", err.Error()))
		status := http.StatusBadGateway
		if errors.Is(err, ErrNoBackend) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, commandResponse{CameraID: id, Error: err.Error()})
		return
	}

	h.log.Info("camera restart requested",
		slog.String("camera_id", string(id)),
		slog.String("backend_status", res.Status))
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, commandResponse{CameraID: id, Backend: res})
}

// Suspend handles POST /cameras/{camera_id}/suspend.
func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setVisible(w, r, false)
}

// Resume handles POST /cameras/{camera_id}/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setVisible(w, r, true)
}

func (h *Handler) setVisible(w http.ResponseWriter, r *http.Request, visible bool) {
	id := CameraID(chi.URLParam(r, "camera_id"))
	if err := h.svc.SetVisible(id, visible); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{CameraID: id})
}

// SuspendAll handles POST /suspend.
func (h *Handler) SuspendAll(w http.ResponseWriter, r *http.Request) {
	h.svc.SetAllVisible(false)
	w.WriteHeader(http.StatusAccepted)
}

// ResumeAll handles POST /resume.
func (h *Handler) ResumeAll(w http.ResponseWriter, r *http.Request) {
	h.svc.SetAllVisible(true)
	w.WriteHeader(http.StatusAccepted)
}

// RestartAll handles POST /restart_all_streams.
func (h *Handler) RestartAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RestartAll(r.Context())
	h.writeCommand(w, res, err)
}

type startRecordingRequest struct {
	RTSPURL string `json:"rtsp_url"`
}

// StartRecording handles POST /cameras/{camera_id}/recordings/start.
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	id := CameraID(chi.URLParam(r, "camera_id"))
	var req startRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, commandResponse{CameraID: id, Error: "invalid request body"})
		return
	}
	if req.RTSPURL == "" {
		writeJSON(w, http.StatusBadRequest, commandResponse{CameraID: id, Error: "rtsp_url is required"})
		return
	}
	res, err := h.svc.StartRecording(r.Context(), id, req.RTSPURL)
	h.writeCameraCommand(w, id, res, err)
}

// StopRecording handles POST /cameras/{camera_id}/recordings/stop.
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	id := CameraID(chi.URLParam(r, "camera_id"))
	res, err := h.svc.StopRecording(r.Context(), id)
	h.writeCameraCommand(w, id, res, err)
}

// StartRecordings handles POST /recordings/start.
func (h *Handler) StartRecordings(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.StartAllRecordings(r.Context())
	h.writeCommand(w, res, err)
}

// StopRecordings handles POST /recordings/stop.
func (h *Handler) StopRecordings(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.StopAllRecordings(r.Context())
	h.writeCommand(w, res, err)
}

// CleanupRecordings handles POST /recordings/cleanup.
func (h *Handler) CleanupRecordings(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CleanupOldRecordings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BackendStatus handles GET /status.
func (h *Handler) BackendStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.BackendStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) writeCommand(w http.ResponseWriter, res *backend.CommandResult, err error) {
	h.writeCameraCommand(w, "", res, err)
}

func (h *Handler) writeCameraCommand(w http.ResponseWriter, id CameraID, res *backend.CommandResult, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, commandResponse{CameraID: id, Backend: res})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCameraNotFound):
		writeJSON(w, http.StatusNotFound, commandResponse{Error: err.Error()})
	case errors.Is(err, ErrNoBackend):
		writeJSON(w, http.StatusServiceUnavailable, commandResponse{Error: err.Error()})
	default:
		h.log.Error("backend request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, commandResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
