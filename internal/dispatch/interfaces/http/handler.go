package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	commandsapp "roomcast-cloud/internal/commands/application"
	commands "roomcast-cloud/internal/commands/domain"
	dispatchapp "roomcast-cloud/internal/dispatch/application"
)

// Handler provides the device-facing endpoints: command pull, heartbeat and
// acknowledgment. Callers are devices authenticated by HMAC, not operators.
type Handler struct {
	dispatch  *dispatchapp.Service
	lifecycle *commandsapp.Service
}

// NewHandler constructs a handler.
func NewHandler(dispatch *dispatchapp.Service, lifecycle *commandsapp.Service) (*Handler, error) {
	if dispatch == nil {
		return nil, errors.New("device handler: nil dispatch service")
	}
	if lifecycle == nil {
		return nil, errors.New("device handler: nil lifecycle service")
	}
	return &Handler{dispatch: dispatch, lifecycle: lifecycle}, nil
}

// PullCommands handles POST /api/v1/device/commands/pull.
func (h *Handler) PullCommands(w http.ResponseWriter, r *http.Request) {
	var req dispatchapp.PullRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.dispatch.PullCommands(r.Context(), req)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Heartbeat handles POST /api/v1/device/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req dispatchapp.HeartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.dispatch.Heartbeat(r.Context(), req)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Acknowledge handles POST /api/v1/device/commands/ack.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req commandsapp.AckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.lifecycle.Acknowledge(r.Context(), req)
	if err != nil {
		respondAckError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatchapp.ErrDeviceIDRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, dispatchapp.ErrDeviceNotFound):
		http.Error(w, "device not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondAckError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commandsapp.ErrDeviceIDRequired),
		errors.Is(err, commandsapp.ErrCommandIDRequired),
		errors.Is(err, commandsapp.ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, commands.ErrNotFound):
		http.Error(w, "command not found", http.StatusNotFound)
	case errors.Is(err, commands.ErrNotResolvable):
		http.Error(w, "command not resolvable", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
