package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/services"
)

// ConfirmHeader carries the caller's approval of a mutation. Requests without
// it are answered with 428 and change nothing.
const ConfirmHeader = "X-Confirm"

// UpsertSiteRequest for PUT /api/companies/{cid}/sites/{sid}
type UpsertSiteRequest struct {
	SiteName           string `json:"siteName"`
	SiteURL            string `json:"siteUrl"`
	Role               string `json:"role,omitempty"`
	VisibleInLeftPanel bool   `json:"visibleInLeftPanel"`
}

// VisibilityRequest for PUT /api/companies/{cid}/sites/{sid}/visibility
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// RenameSiteRequest for PUT /api/companies/{cid}/sites/{sid}/name
type RenameSiteRequest struct {
	Name string `json:"name"`
}

// MoveSiteRequest for POST /api/companies/{cid}/sites/{sid}/move
type MoveSiteRequest struct {
	To string `json:"to"`
}

// CreateSiteRequest for POST /api/companies/{cid}/sites
type CreateSiteRequest struct {
	Suffix string `json:"suffix"`
}

// CheckStatusRequest for POST /api/sites/status
type CheckStatusRequest struct {
	SiteIDs []string `json:"siteIds"`
}

// SiteHandler handles site mutations and status checks.
type SiteHandler struct {
	sites  services.SiteService
	sync   services.OwnershipSync
	status services.SiteStatusMonitor
	logger *zap.Logger
}

// NewSiteHandler creates a new site handler.
func NewSiteHandler(
	sites services.SiteService,
	sync services.OwnershipSync,
	status services.SiteStatusMonitor,
	logger *zap.Logger,
) *SiteHandler {
	return &SiteHandler{
		sites:  sites,
		sync:   sync,
		status: status,
		logger: logger,
	}
}

// RegisterRoutes registers the site handler's routes on the given mux.
func (h *SiteHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/companies/{cid}/sites"

	mux.HandleFunc("POST "+base, h.Create)
	mux.HandleFunc("PUT "+base+"/{sid}", h.Upsert)
	mux.HandleFunc("DELETE "+base+"/{sid}", h.Remove)
	mux.HandleFunc("PUT "+base+"/{sid}/visibility", h.SetVisibility)
	mux.HandleFunc("PUT "+base+"/{sid}/name", h.Rename)
	mux.HandleFunc("POST "+base+"/{sid}/move", h.Move)
	mux.HandleFunc("POST /api/sites/status", h.CheckStatus)
}

// Upsert handles PUT /api/companies/{cid}/sites/{sid}
func (h *SiteHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertSiteRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	role, err := models.ParseSiteRole(req.Role)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_role", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rec := &models.OwnershipRecord{
		CompanyKey:         r.PathValue("cid"),
		SiteID:             r.PathValue("sid"),
		SiteName:           req.SiteName,
		SiteURL:            req.SiteURL,
		Role:               role,
		VisibleInLeftPanel: req.VisibleInLeftPanel,
	}
	if err := h.sites.UpsertSite(confirmedContext(r), rec); err != nil {
		writeServiceError(w, err, "upsert_site_failed", h.logger)
		return
	}

	h.writeResult(w, http.StatusOK, rec)
}

// SetVisibility handles PUT /api/companies/{cid}/sites/{sid}/visibility
func (h *SiteHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	cid, sid := r.PathValue("cid"), r.PathValue("sid")
	if err := h.sites.SetVisibility(confirmedContext(r), cid, sid, req.Visible); err != nil {
		writeServiceError(w, err, "set_visibility_failed", h.logger)
		return
	}

	h.writeResult(w, http.StatusOK, h.row(sid))
}

// Rename handles PUT /api/companies/{cid}/sites/{sid}/name
func (h *SiteHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameSiteRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	cid, sid := r.PathValue("cid"), r.PathValue("sid")
	if err := h.sites.RenameSite(confirmedContext(r), cid, sid, req.Name); err != nil {
		writeServiceError(w, err, "rename_site_failed", h.logger)
		return
	}

	h.writeResult(w, http.StatusOK, h.row(sid))
}

// Move handles POST /api/companies/{cid}/sites/{sid}/move
func (h *SiteHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveSiteRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	cid, sid := r.PathValue("cid"), r.PathValue("sid")
	if err := h.sites.MoveSite(confirmedContext(r), sid, cid, req.To); err != nil {
		writeServiceError(w, err, "move_site_failed", h.logger)
		return
	}

	h.writeResult(w, http.StatusOK, h.row(sid))
}

// Remove handles DELETE /api/companies/{cid}/sites/{sid}
func (h *SiteHandler) Remove(w http.ResponseWriter, r *http.Request) {
	cid, sid := r.PathValue("cid"), r.PathValue("sid")
	if err := h.sites.RemoveSite(confirmedContext(r), cid, sid); err != nil {
		writeServiceError(w, err, "remove_site_failed", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Create handles POST /api/companies/{cid}/sites
func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSiteRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	company := companyFor(h.sync.Snapshot(), r.PathValue("cid"))
	rec, err := h.sites.CreateSite(confirmedContext(r), company, req.Suffix)
	if err != nil {
		writeServiceError(w, err, "create_site_failed", h.logger)
		return
	}

	h.writeResult(w, http.StatusCreated, rec)
}

// CheckStatus handles POST /api/sites/status
func (h *SiteHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	var req CheckStatusRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	statuses := h.status.Check(r.Context(), req.SiteIDs)
	h.writeResult(w, http.StatusOK, statuses)
}

// row returns the site's row from the current snapshot, or nil when the site
// has no owner.
func (h *SiteHandler) row(siteID string) any {
	row, ok := h.sync.Snapshot().Site(siteID)
	if !ok {
		return nil
	}
	return row
}

func (h *SiteHandler) writeResult(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// confirmedContext marks the request context as confirmed when the caller sent
// a true ConfirmHeader.
func confirmedContext(r *http.Request) context.Context {
	confirmed, _ := strconv.ParseBool(r.Header.Get(ConfirmHeader))
	return services.WithConfirmation(r.Context(), confirmed)
}
