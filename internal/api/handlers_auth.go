package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login issues a bearer token and sets the session cookie.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var input loginRequest
	if !readJSON(w, r, &input) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), input.Email, input.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.audit.RecordRequest(r, input.Email, "auth.login_failed", input.Email, nil)
		writeError(w, r, http.StatusUnauthorized, "Email o contraseña incorrectos")
		return
	}
	if err != nil {
		h.logger.Error("authenticate", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Error iniciando sesión")
		return
	}

	token, err := h.auth.GenerateToken(user)
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Error iniciando sesión")
		return
	}
	h.auth.SetAuthCookie(w, token)
	h.audit.RecordRequest(r, user.Email, "auth.login", user.Email, nil)

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresIn": int(h.auth.TokenTTL().Seconds()),
		"user":      user.Public(),
	})
}

// Logout clears the session cookie. Bearer tokens stay valid until expiry.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.ClearAuthCookie(w)
	writeJSON(w, r, http.StatusOK, nil)
}

// Me returns the authenticated user.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r.Context())
	user, err := h.users.Get(r.Context(), claims.Email)
	if err != nil {
		writeError(w, r, statusFor(err), "Usuario no encontrado")
		return
	}
	writeJSON(w, r, http.StatusOK, user.Public())
}
