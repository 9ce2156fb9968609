package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/license"
)

const (
	actionExtend     = "extend"
	actionUpdate     = "update"
	actionActivate   = "activate"
	actionDeactivate = "deactivate"
	actionUnlimited  = "unlimited"
	actionReset      = "reset"
)

type licensePatchRequest struct {
	Action    string     `json:"action"`
	Days      int        `json:"days"`
	IsActive  *bool      `json:"isActive"`
	DemoMode  *bool      `json:"demoMode"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Features  []string   `json:"features"`
	Notes     *string    `json:"notes"`
}

// GetLicense returns the license read model. A token is optional.
func (h *Handlers) GetLicense(w http.ResponseWriter, r *http.Request) {
	info, err := h.licenses.LoadInfo(r.Context())
	if err != nil {
		h.logger.Error("load license", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Error obteniendo información de licencia")
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

// PatchLicense applies an administrative action to the license.
func (h *Handlers) PatchLicense(w http.ResponseWriter, r *http.Request) {
	var input licensePatchRequest
	if !readJSON(w, r, &input) {
		return
	}

	ctx := r.Context()
	var err error
	switch input.Action {
	case actionExtend:
		if input.Days <= 0 {
			writeError(w, r, http.StatusBadRequest, "Días inválidos")
			return
		}
		_, err = h.licenses.Extend(ctx, input.Days)
	case actionUpdate:
		err = h.licenses.Update(ctx, license.Patch{
			IsActive:  input.IsActive,
			DemoMode:  input.DemoMode,
			ExpiresAt: input.ExpiresAt,
			Features:  input.Features,
			Notes:     input.Notes,
		})
	case actionActivate:
		err = h.licenses.SetActive(ctx, true)
	case actionDeactivate:
		err = h.licenses.SetActive(ctx, false)
	case actionUnlimited:
		err = h.licenses.SetUnlimited(ctx)
	case actionReset:
		if input.Days <= 0 {
			writeError(w, r, http.StatusBadRequest, "Días inválidos")
			return
		}
		_, err = h.licenses.Reset(ctx, input.Days)
	default:
		writeError(w, r, http.StatusBadRequest, "Acción inválida")
		return
	}

	if err != nil {
		status := statusFor(err)
		msg := "Error actualizando licencia"
		if errors.Is(err, license.ErrNotFound) {
			msg = "No hay licencia activa"
		}
		if status == http.StatusInternalServerError {
			h.logger.Error("update license", zap.String("action", input.Action), zap.Error(err))
		}
		writeError(w, r, status, msg)
		return
	}

	details := map[string]interface{}{}
	if input.Days > 0 {
		details["days"] = input.Days
	}
	h.mutated(r, "license."+input.Action, "license", details)

	writeJSON(w, r, http.StatusOK, h.licenses.Info(ctx))
}
