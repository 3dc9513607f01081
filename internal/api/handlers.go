package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfeidau/tenancy/internal/auth"
	httputil "github.com/wolfeidau/tenancy/internal/http"
	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/tenancy"
)

type handlers struct {
	svc *tenancy.Service
}

// principal returns the authenticated principal, writing 401 if there is none.
func principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, http.StatusUnauthorized, "unauthenticated", "Authentication required.")
	}
	return p, ok
}

func (h *handlers) currentSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	tenantID, _ := h.svc.CurrentTenant(p.ID)
	httputil.WriteJSON(w, r, http.StatusOK, currentResponse{TenantID: tenantID})
}

func (h *handlers) resolveSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	sel, err := h.svc.ResolveAndSelectTenant(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, newSelectionResponse(sel))
}

func (h *handlers) signOut(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	h.svc.SignOut(p.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) switchTenant(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req switchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	access, err := h.svc.SwitchTenant(r.Context(), p, req.TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, newAccessResponse(access))
}

func (h *handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	tenants, err := h.svc.ResolveTenants(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, tenantListResponse{Tenants: newResolvedTenantsResponse(tenants)})
}

func (h *handlers) createTenant(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req createTenantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	tenant, err := h.svc.CreateTenant(r.Context(), p, req.Name, req.Settings)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusCreated, newTenantResponse(tenant))
}

func (h *handlers) renameTenant(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req renameTenantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	tenant, err := h.svc.RenameTenant(r.Context(), p, chi.URLParam(r, "tenantID"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, newTenantResponse(tenant))
}

func (h *handlers) deleteTenant(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	sel, err := h.svc.DeleteTenant(r.Context(), p, chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if sel == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, newSelectionResponse(sel))
}

func (h *handlers) runMigration(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	result, err := h.svc.RunLegacyMigration(r.Context(), p, chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, newMigrationResponse(result))
}

func (h *handlers) verifyMigration(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	v, err := h.svc.VerifyMigrationState(r.Context(), p, chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, verificationResponse{
		TenantID:            v.TenantID,
		Exists:              v.Exists,
		State:               v.State,
		ActualMigratedCount: v.ActualMigratedCount,
		Consistent:          v.Consistent,
		NeedsRerun:          v.NeedsRerun(),
	})
}
