package api

import (
	"maps"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/audit"
	"github.com/ibero-data/modgate/internal/settings"
)

const maxAuditLimit = 1000

// ListAudit returns recent admin mutations, newest first.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), queryInt(r, "limit", audit.DefaultLimit, maxAuditLimit))
	if err != nil {
		h.logger.Error("list audit", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Error obteniendo auditoría")
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// GetSettings returns all settings with sensitive values masked
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.GetAllMasked(r.Context())
	if err != nil {
		h.logger.Error("list settings", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Error obteniendo configuración")
		return
	}
	writeJSON(w, r, http.StatusOK, all)
}

// UpdateSettings stores the given keys. Sensitive keys are managed by the
// server and cannot be written here.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var input map[string]string
	if !readJSON(w, r, &input) {
		return
	}
	if len(input) == 0 {
		writeError(w, r, http.StatusBadRequest, "No hay cambios")
		return
	}
	for key := range input {
		if key == "" || settings.IsSensitive(key) {
			writeError(w, r, http.StatusBadRequest, "Clave no permitida: "+key)
			return
		}
	}

	if err := h.settings.SetMany(r.Context(), input); err != nil {
		h.logger.Error("update settings", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Error guardando configuración")
		return
	}

	keys := slices.Sorted(maps.Keys(input))
	h.audit.RecordRequest(r, actor(r), "settings.update", "settings", map[string]interface{}{"keys": keys})

	h.GetSettings(w, r)
}
