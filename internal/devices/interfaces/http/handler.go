package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"roomcast-cloud/internal/auth"
	devicesapp "roomcast-cloud/internal/devices/application"
)

// Handler serves GET /api/v1/fleet/devices.
type Handler struct {
	service *devicesapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *devicesapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("fleet handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles GET /api/v1/fleet/devices?property_id=...
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	propertyID := r.URL.Query().Get("property_id")
	if propertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	entries, err := h.service.Fleet(r.Context(), tenantID, propertyID)
	if err != nil {
		if errors.Is(err, devicesapp.ErrPropertyIDRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
