package licensing

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/ibero-data/modgate/internal/modules"
)

const (
	HeaderDaysRemaining = "X-License-Days-Remaining"
	HeaderWarning       = "X-License-Warning"

	loadingRetryAfter = "2"
)

// RequireLicense blocks every request while the effective license is
// invalid. Valid responses carry the remaining days, plus a warning header
// when expiry is near.
func RequireLicense(manager *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := manager.Snapshot()
			if snap.LicenseLoading {
				writeLoading(w, r)
				return
			}
			if !snap.Valid {
				render.Status(r, http.StatusPaymentRequired)
				render.JSON(w, r, map[string]interface{}{
					"success": false,
					"error":   snap.License.Message,
					"reason":  modules.ReasonLicenseExpired,
					"license": snap.License,
				})
				return
			}

			w.Header().Set(HeaderDaysRemaining, strconv.Itoa(snap.License.DaysRemaining))
			if snap.Tolerant {
				w.Header().Set(HeaderWarning, "grace-period")
			} else if snap.License.ExpiringSoon {
				w.Header().Set(HeaderWarning, "expiring-soon")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireModule guards a fixed module id.
func RequireModule(manager *Manager, moduleID string) func(http.Handler) http.Handler {
	return requireModule(manager, func(*http.Request) string { return moduleID })
}

// RequireModuleParam guards the module named by a chi URL parameter.
func RequireModuleParam(manager *Manager, param string) func(http.Handler) http.Handler {
	return requireModule(manager, func(r *http.Request) string { return chi.URLParam(r, param) })
}

func requireModule(manager *Manager, moduleID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := manager.Guard(moduleID(r)).Evaluate(r.Context())
			switch out.Kind {
			case OutcomeAllowed:
				next.ServeHTTP(w, r)
			case OutcomeLoading:
				writeLoading(w, r)
			default:
				WriteUnavailable(w, r, out)
			}
		})
	}
}

func writeLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", loadingRetryAfter)
	render.Status(r, http.StatusServiceUnavailable)
	render.JSON(w, r, map[string]interface{}{
		"success": false,
		"error":   "Verificando acceso...",
	})
}

// WriteUnavailable renders the module-unavailable response for out.
func WriteUnavailable(w http.ResponseWriter, r *http.Request, out Outcome) {
	status := http.StatusForbidden
	msg := fmt.Sprintf("El módulo %q no está disponible en tu licencia actual", out.ModuleName)
	if out.Reason == modules.ReasonLicenseExpired {
		status = http.StatusPaymentRequired
		msg = "La licencia ha expirado"
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]interface{}{
		"success": false,
		"error":   msg,
		"reason":  out.Reason,
		"module":  out.ModuleID,
	})
}
