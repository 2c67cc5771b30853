package reporting

import (
	"context"
	"errors"
	"net/http"
	"time"

	"roomcast-cloud/internal/auth"
	devicesapp "roomcast-cloud/internal/devices/application"
	receipts "roomcast-cloud/internal/receipts/domain"
)

// ReceiptSource reads receipts for a time window.
type ReceiptSource interface {
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]receipts.Receipt, error)
}

// Handler serves the export endpoints under /api/v1/exports/.
type Handler struct {
	receipts ReceiptSource
	fleet    *devicesapp.Service
}

// NewHandler constructs an export handler.
func NewHandler(receiptSource ReceiptSource, fleet *devicesapp.Service) (*Handler, error) {
	if receiptSource == nil {
		return nil, errors.New("reporting: nil receipt source")
	}
	if fleet == nil {
		return nil, errors.New("reporting: nil fleet service")
	}
	return &Handler{receipts: receiptSource, fleet: fleet}, nil
}

// ReceiptsXLSX handles GET /api/v1/exports/receipts.xlsx?from=...&to=...
func (h *Handler) ReceiptsXLSX(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	list, err := h.receipts.ListByTimeRange(r.Context(), from, to)
	if err != nil {
		http.Error(w, "list receipts error", http.StatusInternalServerError)
		return
	}
	data, err := BuildReceiptsXLSX(from, to, list)
	if err != nil {
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// FleetPDF handles GET /api/v1/exports/fleet.pdf?property_id=...
func (h *Handler) FleetPDF(w http.ResponseWriter, r *http.Request) {
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
	entries, err := h.fleet.Fleet(r.Context(), tenantID, propertyID)
	if err != nil {
		http.Error(w, "fleet query error", http.StatusInternalServerError)
		return
	}
	data, err := BuildFleetPDF(propertyID, time.Now().UTC(), entries)
	if err != nil {
		http.Error(w, "export pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	fromValue := r.URL.Query().Get("from")
	toValue := r.URL.Query().Get("to")
	if fromValue == "" || toValue == "" {
		http.Error(w, "from/to required", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	from, err := time.Parse(time.RFC3339, fromValue)
	if err != nil {
		http.Error(w, "from must be RFC3339", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(time.RFC3339, toValue)
	if err != nil {
		http.Error(w, "to must be RFC3339", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from.UTC(), to.UTC(), true
}
