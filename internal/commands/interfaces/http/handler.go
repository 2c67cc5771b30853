package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"roomcast-cloud/internal/audit"
	"roomcast-cloud/internal/auth"
	commandsapp "roomcast-cloud/internal/commands/application"
	commands "roomcast-cloud/internal/commands/domain"
)

// Handler provides the operator-facing command endpoints.
type Handler struct {
	service       *commandsapp.Service
	deviceChecker auth.DeviceTenantChecker
	auditLogger   audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *commandsapp.Service, deviceChecker auth.DeviceTenantChecker, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("commands handler: nil service")
	}
	return &Handler{service: service, deviceChecker: deviceChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST/GET /api/v1/commands.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleIssue(w, r)
	case http.MethodGet:
		h.handleHistory(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req commandsapp.IssueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" {
		if err := ensureDeviceTenant(r, h.deviceChecker, tenantID, req.DeviceID); err != nil {
			respondTenantError(w, err)
			return
		}
	}

	resp, err := h.service.Issue(r.Context(), tenantID, req)
	if err != nil {
		respondIssueError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)

	h.logAudit(r, tenantID, resp)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	fromValue := r.URL.Query().Get("from")
	toValue := r.URL.Query().Get("to")
	if deviceID == "" || fromValue == "" || toValue == "" {
		http.Error(w, "device_id/from/to required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, fromValue)
	if err != nil {
		http.Error(w, "from must be RFC3339", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toValue)
	if err != nil {
		http.Error(w, "to must be RFC3339", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" {
		if err := ensureDeviceTenant(r, h.deviceChecker, tenantID, deviceID); err != nil {
			respondTenantError(w, err)
			return
		}
	}

	list, err := h.service.History(r.Context(), tenantID, deviceID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// ReceiptsHandler serves GET /api/v1/commands/receipts.
type ReceiptsHandler struct {
	service *commandsapp.Service
}

// NewReceiptsHandler constructs a receipts handler.
func NewReceiptsHandler(service *commandsapp.Service) (*ReceiptsHandler, error) {
	if service == nil {
		return nil, errors.New("receipts handler: nil service")
	}
	return &ReceiptsHandler{service: service}, nil
}

// ServeHTTP handles GET /api/v1/commands/receipts?command_id=...
func (h *ReceiptsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	commandID := r.URL.Query().Get("command_id")
	if commandID == "" {
		http.Error(w, "command_id required", http.StatusBadRequest)
		return
	}
	list, err := h.service.Receipts(r.Context(), commandID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) logAudit(r *http.Request, tenantID string, cmd *commandsapp.IssueResponse) {
	if h.auditLogger == nil || tenantID == "" {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"device_id":    cmd.DeviceID,
		"command_type": cmd.CommandType,
		"priority":     cmd.Priority,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "command.issue",
		ResourceType: "command",
		ResourceID:   cmd.CommandID,
		PropertyID:   cmd.PropertyID,
		Metadata:     meta,
		IP:           audit.ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For")),
		UserAgent:    r.UserAgent(),
	})
}

func respondIssueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commandsapp.ErrDeviceNotFound):
		http.Error(w, "device not found", http.StatusNotFound)
	case errors.Is(err, commandsapp.ErrDeviceIDRequired),
		errors.Is(err, commandsapp.ErrCommandTypeRequired),
		errors.Is(err, commandsapp.ErrInvalidPayload),
		errors.Is(err, commands.ErrInvalidWindow):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func ensureDeviceTenant(r *http.Request, checker auth.DeviceTenantChecker, tenantID, deviceID string) error {
	if checker == nil || tenantID == "" || deviceID == "" {
		return nil
	}
	return checker.EnsureDeviceTenant(r.Context(), tenantID, deviceID)
}

func respondTenantError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrTenantMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "tenant check failed", http.StatusInternalServerError)
}
