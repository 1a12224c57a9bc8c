package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/services"
)

// OwnershipSummary is the response for GET /api/ownership.
type OwnershipSummary struct {
	*services.Snapshot
	State services.SyncState `json:"state"`
}

// CompanySitesResponse for GET /api/companies/{cid}/sites
type CompanySitesResponse struct {
	Company models.Company     `json:"company"`
	Sites   []services.SiteRow `json:"sites"`
	Total   int                `json:"total"`
}

// OwnershipHandler serves the ownership read model.
type OwnershipHandler struct {
	sync   services.OwnershipSync
	status services.SiteStatusMonitor
	logger *zap.Logger
}

// NewOwnershipHandler creates a new ownership handler.
func NewOwnershipHandler(
	sync services.OwnershipSync,
	status services.SiteStatusMonitor,
	logger *zap.Logger,
) *OwnershipHandler {
	return &OwnershipHandler{
		sync:   sync,
		status: status,
		logger: logger,
	}
}

// RegisterRoutes registers the ownership handler's routes on the given mux.
func (h *OwnershipHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ownership", h.Get)
	mux.HandleFunc("POST /api/ownership/refresh", h.Refresh)
	mux.HandleFunc("GET /api/ownership/unassigned", h.Unassigned)
	mux.HandleFunc("GET /api/companies/{cid}/sites", h.CompanySites)
}

// Get handles GET /api/ownership
func (h *OwnershipHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}

	response := OwnershipSummary{Snapshot: snap, State: h.sync.State()}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Refresh handles POST /api/ownership/refresh
func (h *OwnershipHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.Refresh(r.Context(), false)
	if err != nil {
		h.logger.Warn("Manual refresh failed", zap.Error(err))
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "refresh_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Unassigned handles GET /api/ownership/unassigned
func (h *OwnershipHandler) Unassigned(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}

	rows := h.status.Annotate(snap.Unassigned)
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rows}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CompanySites handles GET /api/companies/{cid}/sites
// Rows carry the last known status; pass ?check=true to re-check stale ones.
func (h *OwnershipHandler) CompanySites(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}

	company := companyFor(snap, r.PathValue("cid"))
	rows := snap.Rows(company.ID)
	if r.URL.Query().Get("check") == "true" && len(rows) > 0 {
		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.SiteID
		}
		h.status.Check(r.Context(), ids)
	}
	rows = h.status.Annotate(rows)

	response := CompanySitesResponse{
		Company: company,
		Sites:   rows,
		Total:   len(rows),
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *OwnershipHandler) snapshot(w http.ResponseWriter) (*services.Snapshot, bool) {
	snap := h.sync.Snapshot()
	if snap == nil {
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "not_ready", "Ownership has not been loaded yet"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return snap, true
}

// companyFor finds the listed company matching a raw or normalized id.
func companyFor(snap *services.Snapshot, id string) models.Company {
	want := models.Company{ID: id}
	if snap != nil {
		for _, c := range snap.Companies {
			if c.Key() == want.Key() {
				return c
			}
		}
	}
	return want
}
