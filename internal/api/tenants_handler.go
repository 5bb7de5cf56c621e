package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/stashd/filevault/pkg/filevault"
)

// TenantsHandler exposes tenant-scoped endpoints.
type TenantsHandler struct {
	svc    filevault.Service
	logger *slog.Logger
}

// NewTenantsHandler creates a new tenants handler.
func NewTenantsHandler(svc filevault.Service, logger *slog.Logger) *TenantsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantsHandler{svc: svc, logger: logger}
}

// Routes returns the router for tenant endpoints.
func (h *TenantsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{tenant_id}/quota", h.GetQuota)
	return r
}

// GetQuota returns the tenant's storage usage against its limits.
func (h *TenantsHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenant_id"))
	if err != nil {
		err := &filevault.ValidationError{Field: "tenant_id", Reason: "malformed"}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: filevault.ErrorCode(err), Message: err.Error()})
		return
	}

	quota, err := h.svc.GetQuota(r.Context(), tenantID)
	if err != nil {
		code := filevault.ErrorCode(err)
		status, ok := statusByCode[code]
		if !ok {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("quota lookup failed", "tenant_id", tenantID, "error", err)
		}
		render.Status(r, status)
		render.JSON(w, r, ErrorResponse{Code: code, Message: err.Error()})
		return
	}
	render.JSON(w, r, quota)
}
