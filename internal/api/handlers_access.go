package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ibero-data/modgate/internal/licensing"
)

// GetAccess returns the access context snapshot.
func (h *Handlers) GetAccess(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.manager.Snapshot())
}

// GetModuleAccess evaluates the guard for one module.
func (h *Handlers) GetModuleAccess(w http.ResponseWriter, r *http.Request) {
	out := h.manager.Guard(chi.URLParam(r, "id")).Evaluate(r.Context())
	status := http.StatusOK
	if out.Kind == licensing.OutcomeLoading {
		w.Header().Set("Retry-After", "2")
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, out)
}

// RefreshAccess reloads license and modules now.
func (h *Handlers) RefreshAccess(w http.ResponseWriter, r *http.Request) {
	snap := h.manager.Refresh(context.WithoutCancel(r.Context()))
	h.audit.RecordRequest(r, actor(r), "access.refresh", "access", map[string]interface{}{
		"state": snap.State,
	})
	writeJSON(w, r, http.StatusOK, snap)
}
