package streaming

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the operator HTTP endpoints using go-chi.
type Handler struct {
	ctrl *Controller
	log  *slog.Logger
}

// NewHandler returns a Handler for ctrl.
func NewHandler(ctrl *Controller, log *slog.Logger) *Handler {
	return &Handler{ctrl: ctrl, log: log}
}

// Routes mounts the operator API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/mounts", func(r chi.Router) {
		r.Get("/", h.ListMounts)
		r.Put("/*", h.PutMount)
		r.Delete("/*", h.DeleteMount)
	})
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Delete("/{session_id}", h.CloseSession)
	})
	r.Get("/instances", h.ListInstances)
	r.Route("/server", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/stop", h.StopServer)
		r.Post("/restart", h.RestartServer)
	})
}

type mountBody struct {
	Description string  `json:"description"`
	Sharing     Sharing `json:"sharing"`
}

type restartBody struct {
	Mounts []Template `json:"mounts"`
}

type errorBody struct {
	Error string `json:"error"`
}

// ListMounts handles GET /mounts.
func (h *Handler) ListMounts(w http.ResponseWriter, r *http.Request) {
	mounts, err := h.ctrl.Mounts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mounts)
}

// PutMount handles PUT /mounts/{path...}.
// Body: { "description": "videotestsrc ! x264enc ! rtph264pay name=pay0", "sharing": "shared" }.
func (h *Handler) PutMount(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	var body mountBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid mount body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if body.Sharing == "" {
		body.Sharing = SharingShared
	}

	t := Template{MountPath: path, Description: body.Description, Sharing: body.Sharing}
	if err := h.ctrl.Register(r.Context(), t); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMount handles DELETE /mounts/{path...}.
func (h *Handler) DeleteMount(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Unregister(r.Context(), chi.URLParam(r, "*")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.ctrl.Sessions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CloseSession handles DELETE /sessions/{session_id}.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.CloseSession(r.Context(), chi.URLParam(r, "session_id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListInstances handles GET /instances.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.ctrl.Instances(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instances)
}

// GetStatus handles GET /server/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status(r.Context()))
}

// StopServer handles POST /server/stop.
func (h *Handler) StopServer(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Stop()
	writeJSON(w, http.StatusOK, h.ctrl.Status(r.Context()))
}

// RestartServer handles POST /server/restart. An empty body restarts with
// the current mounts; { "mounts": [...] } replaces them.
func (h *Handler) RestartServer(w http.ResponseWriter, r *http.Request) {
	var body restartBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}

	if err := h.ctrl.Restart(r.Context(), body.Mounts); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("server restarted by operator", slog.Int("mounts", len(body.Mounts)))
	writeJSON(w, http.StatusOK, h.ctrl.Status(r.Context()))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrMountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrDuplicateMount), errors.Is(err, ErrMountInUse), errors.Is(err, ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidTemplate):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotRunning):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("operator request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
