package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibero-data/modgate/internal/api"
	"github.com/ibero-data/modgate/internal/audit"
	"github.com/ibero-data/modgate/internal/auth"
	"github.com/ibero-data/modgate/internal/config"
	"github.com/ibero-data/modgate/internal/license"
	"github.com/ibero-data/modgate/internal/licensing"
	"github.com/ibero-data/modgate/internal/metrics"
	"github.com/ibero-data/modgate/internal/modules"
	"github.com/ibero-data/modgate/internal/settings"
	"github.com/ibero-data/modgate/internal/store"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Reason  string          `json:"reason"`
}

type testServer struct {
	t       *testing.T
	ctx     context.Context
	clock   *quartz.Mock
	handler http.Handler
	lic     *license.Service
	mods    *modules.Service
	mgr     *licensing.Manager
	audit   *audit.Log
	admin   string
	viewer  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	clock := quartz.NewMock(t)
	st := store.NewMemory(store.WithClock(clock))
	lic := license.NewService(st, license.WithClock(clock))
	mods := modules.NewService(st, lic, nil)
	reg := prometheus.NewRegistry()
	mgr := licensing.NewManager(lic, mods,
		licensing.WithClock(clock),
		licensing.WithMetrics(metrics.New(reg)),
	)
	t.Cleanup(mgr.Stop)
	require.NoError(t, mgr.Start(ctx))

	users := auth.NewUsers(st)
	authSvc := auth.New("test-secret", auth.WithClock(clock))
	admin, err := users.Create(ctx, "admin@example.com", "password123", "Admin", auth.RoleAdmin)
	require.NoError(t, err)
	viewer, err := users.Create(ctx, "viewer@example.com", "password123", "Viewer", auth.RoleViewer)
	require.NoError(t, err)
	adminToken, err := authSvc.GenerateToken(admin)
	require.NoError(t, err)
	viewerToken, err := authSvc.GenerateToken(viewer)
	require.NoError(t, err)

	cfg := &config.Config{AllowedOrigins: []string{"*"}}
	cfg.RateLimit.LoginPerMinute = 2

	auditLog := audit.New(st, nil, clock, nil)
	h := api.NewRouter(api.Deps{
		Config:   cfg,
		Licenses: lic,
		Modules:  mods,
		Manager:  mgr,
		Users:    users,
		Auth:     authSvc,
		Audit:    auditLog,
		Settings: settings.New(st),
		Gatherer: reg,
		Clock:    clock,
	})

	return &testServer{
		t: t, ctx: ctx, clock: clock, handler: h,
		lic: lic, mods: mods, mgr: mgr, audit: auditLog,
		admin: adminToken, viewer: viewerToken,
	}
}

func (s *testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	return s.doCtx(context.Background(), method, path, token, body)
}

func (s *testServer) doCtx(ctx context.Context, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequestWithContext(ctx, method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:41000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	health := decodeData[map[string]interface{}](t, env)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["ready"])
	assert.Equal(t, "normal_valid", health["state"])

	rec, env = s.do(http.MethodGet, "/api/version", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"version": api.Version}, decodeData[map[string]string](t, env))
}

func TestGetLicenseIsPublic(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(http.MethodGet, "/api/license", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	info := decodeData[license.Info](t, env)
	assert.True(t, info.Valid)
	assert.Equal(t, 30, info.DaysRemaining)

	// An invalid token is ignored on public reads.
	rec, _ = s.do(http.MethodGet, "/api/license", "garbage", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPatchLicenseRequiresToken(t *testing.T) {
	s := newTestServer(t)
	rec, env := s.do(http.MethodPatch, "/api/license", "", map[string]interface{}{"action": "extend", "days": 5})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
}

func TestPatchLicenseExtend(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(http.MethodPatch, "/api/license", s.admin, map[string]interface{}{"action": "extend", "days": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40, decodeData[license.Info](t, env).DaysRemaining)
	assert.Equal(t, 40, s.mgr.LicenseInfo().DaysRemaining)

	for _, days := range []int{0, -3} {
		rec, env = s.do(http.MethodPatch, "/api/license", s.admin, map[string]interface{}{"action": "extend", "days": days})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Días inválidos", env.Error)
	}

	rec, env = s.do(http.MethodPatch, "/api/license", s.admin, map[string]interface{}{"action": "burn"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Acción inválida", env.Error)

	entries, err := s.audit.List(s.ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "license.extend", entries[0].Action)
	assert.Equal(t, "admin@example.com", entries[0].Actor)
	assert.Equal(t, "203.0.113.0", entries[0].Client.IP)
}

func TestPatchLicenseUpdateAndUnlimited(t *testing.T) {
	s := newTestServer(t)

	notes := "renovada"
	rec, _ := s.do(http.MethodPatch, "/api/license", s.admin, map[string]interface{}{
		"action": "update", "demoMode": false, "notes": notes,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	l, err := s.lic.Get(s.ctx)
	require.NoError(t, err)
	assert.False(t, l.DemoMode)
	assert.Equal(t, notes, l.Notes)

	rec, env := s.do(http.MethodPatch, "/api/license", s.admin, map[string]interface{}{"action": "unlimited"})
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeData[license.Info](t, env)
	assert.True(t, info.Unlimited)
	assert.Equal(t, license.MessageUnlimited, info.Message)
}

func TestDeactivatedLicenseBlocksApp(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(http.MethodGet, "/app/ventas", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "30", rec.Header().Get(licensing.HeaderDaysRemaining))

	rec, _ = s.do(http.MethodPatch, "/api/license", s.admin, map[string]interface{}{"action": "deactivate"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := s.do(http.MethodGet, "/app/ventas", "", nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, string(modules.ReasonLicenseExpired), env.Reason)

	rec, _ = s.do(http.MethodPatch, "/api/license", s.admin, map[string]interface{}{"action": "activate"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(http.MethodGet, "/app/ventas", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestModulesEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(http.MethodGet, "/api/modules", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]modules.Module](t, env), 10)

	rec, env = s.do(http.MethodPatch, "/api/modules", s.admin, map[string]interface{}{"moduleId": "obras", "action": "toggle"})
	require.Equal(t, http.StatusOK, rec.Code)
	for _, m := range decodeData[[]modules.Module](t, env) {
		assert.Equal(t, m.ID != "obras", m.IsEnabled(), m.ID)
	}

	rec, env = s.do(http.MethodGet, "/api/modules?enabled=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]modules.Module](t, env), 9)

	// Guards see the toggle without waiting for the next tick.
	rec, env = s.do(http.MethodGet, "/app/obras", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(modules.ReasonDisabled), env.Reason)

	rec, _ = s.do(http.MethodPatch, "/api/modules", s.admin, map[string]interface{}{"moduleId": "obras", "name": "Obras y Proyectos"})
	require.Equal(t, http.StatusOK, rec.Code)
	m, err := s.mods.Get(s.ctx, "obras")
	require.NoError(t, err)
	assert.Equal(t, "Obras y Proyectos", m.Name)
	assert.False(t, m.IsEnabled())

	rec, env = s.do(http.MethodPatch, "/api/modules", s.admin, map[string]interface{}{"action": "toggle"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "moduleId es requerido", env.Error)

	rec, _ = s.do(http.MethodPatch, "/api/modules", s.admin, map[string]interface{}{"moduleId": "reportes", "action": "toggle"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/modules", s.admin, map[string]interface{}{"name": "Sin id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(http.MethodPost, "/api/modules", s.admin, map[string]interface{}{"id": "reportes", "name": "Reportes", "order": 11})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]modules.Module](t, env), 11)

	rec, _ = s.do(http.MethodGet, "/app/reportes", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/modules", "", map[string]interface{}{"id": "otro"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccessEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(http.MethodGet, "/api/access", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeData[licensing.Snapshot](t, env)
	assert.Equal(t, licensing.StateNormalValid, snap.State)
	assert.Len(t, snap.EnabledModules, 10)

	rec, env = s.do(http.MethodGet, "/api/access/modules/ventas", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, licensing.OutcomeAllowed, decodeData[licensing.Outcome](t, env).Kind)

	rec, env = s.do(http.MethodGet, "/api/access/modules/reportes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeData[licensing.Outcome](t, env)
	assert.Equal(t, licensing.OutcomeUnavailable, out.Kind)
	assert.Equal(t, modules.ReasonNotFound, out.Reason)

	rec, _ = s.do(http.MethodPost, "/api/access/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, s.mods.SetEnabled(s.ctx, "ventas", false))
	rec, env = s.do(http.MethodPost, "/api/access/refresh", s.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[licensing.Snapshot](t, env).EnabledModules, 9)
}

func TestRefreshOutlivesDisconnectedClient(t *testing.T) {
	s := newTestServer(t)
	gone, cancel := context.WithCancel(context.Background())
	cancel()

	rec, _ := s.doCtx(gone, http.MethodPatch, "/api/modules", s.admin, map[string]interface{}{"moduleId": "obras", "action": "toggle"})
	require.Equal(t, http.StatusOK, rec.Code)
	snap := s.mgr.Snapshot()
	assert.Equal(t, licensing.StateNormalValid, snap.State)
	assert.Len(t, snap.EnabledModules, 9)

	require.NoError(t, s.mods.SetEnabled(s.ctx, "obras", true))
	rec, env := s.doCtx(gone, http.MethodPost, "/api/access/refresh", s.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decodeData[licensing.Snapshot](t, env)
	assert.True(t, snap.Valid)
	assert.Len(t, snap.EnabledModules, 10)
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "Admin@Example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData[struct {
		Token string    `json:"token"`
		User  auth.User `json:"user"`
	}](t, env)
	require.NotEmpty(t, data.Token)
	assert.Empty(t, data.User.PasswordHash)
	assert.NotEmpty(t, rec.Result().Cookies())

	rec, env = s.do(http.MethodGet, "/api/auth/me", data.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeData[auth.User](t, env)
	assert.Equal(t, "admin@example.com", me.Email)
	assert.Equal(t, auth.RoleAdmin, me.Role)

	rec, env = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email debe ser un email válido", env.Error)
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t)
	bad := map[string]string{"email": "admin@example.com", "password": "wrong"}

	for range 2 {
		rec, _ := s.do(http.MethodPost, "/api/auth/login", "", bad)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, _ := s.do(http.MethodPost, "/api/auth/login", "", bad)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	s.clock.Advance(30 * time.Second)
	rec, _ = s.do(http.MethodPost, "/api/auth/login", "", bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	s := newTestServer(t)

	// Issue with a clock that lags the server by more than the token TTL.
	past := quartz.NewMock(t)
	past.Set(s.clock.Now().Add(-auth.DefaultTokenTTL - time.Minute))
	stale, err := auth.New("test-secret", auth.WithClock(past)).GenerateToken(&auth.User{
		ID: "u1", Email: "admin@example.com", Role: auth.RoleAdmin,
	})
	require.NoError(t, err)

	rec, env := s.do(http.MethodGet, "/api/auth/me", stale, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token expired", env.Error)
}

func TestSettingsAdminOnly(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(http.MethodGet, "/api/settings", s.viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := s.do(http.MethodPut, "/api/settings", s.admin, map[string]string{"company_name": "Acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Acme", decodeData[map[string]string](t, env)["company_name"])

	rec, _ = s.do(http.MethodPut, "/api/settings", s.admin, map[string]string{settings.KeyJWTSecret: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(http.MethodGet, "/api/audit", s.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeData[[]audit.Entry](t, env)
	require.NotEmpty(t, entries)
	assert.Equal(t, "settings.update", entries[0].Action)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/app/ventas", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `modgate_access_decisions_total{reason="granted"} 1`)
	assert.Contains(t, body, "modgate_license_days_remaining 30")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/license", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}
