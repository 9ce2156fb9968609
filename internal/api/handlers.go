package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/audit"
	"github.com/ibero-data/modgate/internal/auth"
	"github.com/ibero-data/modgate/internal/config"
	"github.com/ibero-data/modgate/internal/license"
	"github.com/ibero-data/modgate/internal/licensing"
	"github.com/ibero-data/modgate/internal/modules"
	"github.com/ibero-data/modgate/internal/settings"
)

// Version is set from main.go at startup
var Version = "dev"

type Handlers struct {
	cfg      *config.Config
	licenses *license.Service
	modules  *modules.Service
	manager  *licensing.Manager
	users    *auth.Users
	auth     *auth.Auth
	audit    *audit.Log
	settings *settings.Service
	logger   *zap.Logger
}

// Health check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	lic, mods := h.manager.Loading()
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"state":  h.manager.State(),
		"ready":  !lic && !mods,
	})
}

// GetVersion returns the current version
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"version": Version})
}

// ServeModule is the landing endpoint of a protected module. The license and
// module middleware have already admitted the request.
func (h *Handlers) ServeModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "module")
	if id == "" {
		id = "dashboard"
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"module":  id,
		"license": h.manager.LicenseInfo(),
	})
}

// mutated writes an audit entry for the caller and refreshes the access
// context so guards see the change.
func (h *Handlers) mutated(r *http.Request, action, target string, details map[string]interface{}) {
	h.audit.RecordRequest(r, actor(r), action, target, details)
	h.manager.Refresh(context.WithoutCancel(r.Context()))
}
