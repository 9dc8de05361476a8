package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ayusman/fingerspell/internal/aggregator"
	"github.com/ayusman/fingerspell/internal/app"
	"github.com/ayusman/fingerspell/internal/logging"
)

// Controller is the part of the application the HTTP API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Reset() error
	AppendSpace() error
	Snapshot() aggregator.Snapshot
	Status() app.Status
}

// ControlHandler serves the live state, buffer actions and session control.
type ControlHandler struct {
	ctrl   Controller
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler for ctrl.
func NewControlHandler(ctrl Controller, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		ctrl:   ctrl,
		logger: logging.OrDiscard(logger).With("component", "api"),
	}
}

// Register adds the handler's routes to mux.
func (h *ControlHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.state)
	mux.HandleFunc("/api/buffer/reset", h.post(h.ctrl.Reset))
	mux.HandleFunc("/api/buffer/space", h.post(h.ctrl.AppendSpace))
	mux.HandleFunc("/api/session/start", h.start)
	mux.HandleFunc("/api/session/stop", h.post(h.ctrl.Stop))
}

type stateResponse struct {
	aggregator.Snapshot
	Running bool `json:"running"`
}

type startErrorResponse struct {
	Error string              `json:"error"`
	State aggregator.Snapshot `json:"state"`
}

func (h *ControlHandler) current() stateResponse {
	return stateResponse{
		Snapshot: h.ctrl.Snapshot(),
		Running:  h.ctrl.Status().Running,
	}
}

// state handles GET /api/state.
func (h *ControlHandler) state(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.current())
}

// post wraps a user action as a POST endpoint that answers with the new
// state.
func (h *ControlHandler) post(action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := action(); err != nil {
			if errors.Is(err, app.ErrNotRunning) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			h.logger.Error("action failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, h.current())
	}
}

// start handles POST /api/session/start. A failed connection still
// answers with the state so the client can show the transport banner.
func (h *ControlHandler) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := h.ctrl.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.current())
	case errors.Is(err, app.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Warn("session start failed", "error", err)
		writeJSON(w, http.StatusBadGateway, startErrorResponse{
			Error: err.Error(),
			State: h.ctrl.Snapshot(),
		})
	}
}
