package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/modules"
)

type createModuleRequest struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name"`
	Route    string `json:"route"`
	Icon     string `json:"icon"`
	Category string `json:"category"`
	Enabled  *bool  `json:"enabled"`
	Order    int    `json:"order"`
}

type patchModuleRequest struct {
	ModuleID string `json:"moduleId" validate:"required"`
	Action   string `json:"action"`
	modules.Patch
}

// ListModules returns every module, or only the enabled ones with
// ?enabled=true.
func (h *Handlers) ListModules(w http.ResponseWriter, r *http.Request) {
	var (
		list []modules.Module
		err  error
	)
	if r.URL.Query().Get("enabled") == "true" {
		list, err = h.modules.Enabled(r.Context())
	} else {
		list, err = h.modules.All(r.Context())
	}
	if err != nil {
		h.logger.Error("list modules", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Error obteniendo módulos")
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

// CreateModule creates or replaces a module and returns the full list.
func (h *Handlers) CreateModule(w http.ResponseWriter, r *http.Request) {
	var input createModuleRequest
	if !readJSON(w, r, &input) {
		return
	}

	_, err := h.modules.Create(r.Context(), modules.Module{
		ID:       input.ID,
		Name:     input.Name,
		Route:    input.Route,
		Icon:     input.Icon,
		Category: input.Category,
		Enabled:  input.Enabled,
		Order:    input.Order,
	})
	if err != nil {
		h.logger.Error("create module", zap.String("module", input.ID), zap.Error(err))
		writeError(w, r, statusFor(err), "Error creando módulo")
		return
	}

	h.mutated(r, "module.create", input.ID, nil)
	h.writeModules(w, r)
}

// PatchModule toggles a module with action "toggle" and otherwise merges
// the given fields.
func (h *Handlers) PatchModule(w http.ResponseWriter, r *http.Request) {
	var input patchModuleRequest
	if !readJSON(w, r, &input) {
		return
	}

	ctx := r.Context()
	var (
		details map[string]interface{}
		err     error
	)
	if input.Action == "toggle" {
		var m *modules.Module
		m, err = h.modules.Toggle(ctx, input.ModuleID)
		if err == nil {
			details = map[string]interface{}{"enabled": m.IsEnabled()}
		}
	} else {
		err = h.modules.Update(ctx, input.ModuleID, input.Patch)
	}
	if err != nil {
		status := statusFor(err)
		msg := "Error actualizando módulo"
		if status == http.StatusNotFound {
			msg = "Módulo no encontrado"
		} else {
			h.logger.Error("update module", zap.String("module", input.ModuleID), zap.Error(err))
		}
		writeError(w, r, status, msg)
		return
	}

	action := "module.update"
	if input.Action == "toggle" {
		action = "module.toggle"
	}
	h.mutated(r, action, input.ModuleID, details)
	h.writeModules(w, r)
}

func (h *Handlers) writeModules(w http.ResponseWriter, r *http.Request) {
	list, err := h.modules.All(r.Context())
	if err != nil {
		h.logger.Error("list modules", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Error obteniendo módulos")
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}
