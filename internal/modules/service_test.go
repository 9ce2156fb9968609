package modules_test

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibero-data/modgate/internal/license"
	"github.com/ibero-data/modgate/internal/modules"
	"github.com/ibero-data/modgate/internal/store"
)

type staticLicense bool

func (v staticLicense) IsValid(context.Context) bool { return bool(v) }

func ids(ms []modules.Module) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

var defaultIDs = []string{
	"dashboard", "ventas", "envios", "productos", "stock",
	"gastos", "obras", "clientes", "precios", "auditoria",
}

func TestDecideReasonOrdering(t *testing.T) {
	disabled := false
	tests := []struct {
		name   string
		valid  bool
		module *modules.Module
		want   modules.Decision
	}{
		{"expired and disabled", false, &modules.Module{ID: "obras", Enabled: &disabled}, modules.Decision{Reason: modules.ReasonLicenseExpired}},
		{"expired and missing", false, nil, modules.Decision{Reason: modules.ReasonLicenseExpired}},
		{"missing", true, nil, modules.Decision{Reason: modules.ReasonNotFound}},
		{"disabled", true, &modules.Module{ID: "obras", Enabled: &disabled}, modules.Decision{Reason: modules.ReasonDisabled}},
		{"enabled flag absent", true, &modules.Module{ID: "obras"}, modules.Decision{Access: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, modules.Decide(tt.valid, tt.module))
		})
	}
}

func TestAllSeedsDefaults(t *testing.T) {
	svc := modules.NewService(store.NewMemory(), staticLicense(true), nil)

	all, err := svc.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultIDs, ids(all))
	for i, m := range all {
		assert.Equal(t, i+1, m.Order)
		assert.True(t, m.IsEnabled())
		assert.Equal(t, "main", m.Category)
	}
	assert.Equal(t, "/stock-compras", all[4].Route)
}

func TestSeedingIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	svc := modules.NewService(st, staticLicense(true), nil)
	ctx := context.Background()

	_, err := svc.All(ctx)
	require.NoError(t, err)
	again, err := svc.All(ctx)
	require.NoError(t, err)

	assert.Equal(t, defaultIDs, ids(again))
	for _, m := range again {
		assert.True(t, m.IsEnabled())
	}

	docs, err := st.List(ctx, modules.Collection, "order")
	require.NoError(t, err)
	assert.Len(t, docs, 10)
}

type listsEmptyOnce struct {
	store.Store
	calls int
}

func (s *listsEmptyOnce) List(ctx context.Context, collection, orderBy string, opts ...store.ListOption) ([]store.Document, error) {
	s.calls++
	if s.calls == 1 {
		return nil, nil
	}
	return s.Store.List(ctx, collection, orderBy, opts...)
}

func TestSeedDoesNotOverwriteExisting(t *testing.T) {
	inner := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, inner.Set(ctx, modules.Collection, "obras", store.Fields{
		"id": "obras", "name": "Obras Custom", "enabled": false, "order": 7,
	}))

	svc := modules.NewService(&listsEmptyOnce{Store: inner}, staticLicense(true), nil)
	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultIDs, ids(all))
	assert.Equal(t, "Obras Custom", all[6].Name)
	assert.False(t, all[6].IsEnabled())

	m, err := svc.Get(ctx, "obras")
	require.NoError(t, err)
	assert.Equal(t, "Obras Custom", m.Name)
}

func TestEnabledFilter(t *testing.T) {
	svc := modules.NewService(store.NewMemory(), staticLicense(true), nil)
	ctx := context.Background()
	_, err := svc.All(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.SetEnabled(ctx, "obras", false))
	require.NoError(t, svc.SetEnabled(ctx, "auditoria", false))

	enabled, err := svc.Enabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 8)
	assert.NotContains(t, ids(enabled), "obras")
	assert.False(t, svc.IsEnabled(ctx, "obras"))
	assert.True(t, svc.IsEnabled(ctx, "ventas"))
	assert.False(t, svc.IsEnabled(ctx, "nonexistent"))
}

func TestCreateDefaultsEnabled(t *testing.T) {
	svc := modules.NewService(store.NewMemory(), staticLicense(true), nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, modules.Module{ID: "reportes", Name: "Reportes", Order: 11})
	require.NoError(t, err)
	require.NotNil(t, m.Enabled)
	assert.True(t, *m.Enabled)
	assert.NotNil(t, m.CreatedAt)

	_, err = svc.Create(ctx, modules.Module{Name: "sin id"})
	assert.ErrorIs(t, err, modules.ErrMissingID)
}

func TestUpdateAndToggle(t *testing.T) {
	svc := modules.NewService(store.NewMemory(), staticLicense(true), nil)
	ctx := context.Background()
	_, err := svc.All(ctx)
	require.NoError(t, err)

	name := "Precios y Listas"
	require.NoError(t, svc.Update(ctx, "precios", modules.Patch{Name: &name}))
	m, err := svc.Get(ctx, "precios")
	require.NoError(t, err)
	assert.Equal(t, name, m.Name)
	assert.Equal(t, "/precios", m.Route)

	m, err = svc.Toggle(ctx, "precios")
	require.NoError(t, err)
	assert.False(t, m.IsEnabled())
	m, err = svc.Toggle(ctx, "precios")
	require.NoError(t, err)
	assert.True(t, m.IsEnabled())

	assert.ErrorIs(t, svc.Update(ctx, "nonexistent", modules.Patch{Name: &name}), modules.ErrNotFound)
	_, err = svc.Toggle(ctx, "nonexistent")
	assert.ErrorIs(t, err, modules.ErrNotFound)
}

func newLicensed(t *testing.T) (*license.Service, *modules.Service, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	st := store.NewMemory(store.WithClock(clock))
	lic := license.NewService(st, license.WithClock(clock))
	mods := modules.NewService(st, lic, nil)
	_, err := mods.All(context.Background())
	require.NoError(t, err)
	return lic, mods, clock
}

func TestCheckAccessInactiveLicense(t *testing.T) {
	lic, mods, _ := newLicensed(t)
	ctx := context.Background()
	_, err := lic.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, lic.SetActive(ctx, false))

	assert.False(t, lic.IsValid(ctx))
	assert.Equal(t, modules.Decision{Reason: modules.ReasonLicenseExpired}, mods.CheckAccess(ctx, "dashboard"))
}

func TestCheckAccessExpiredAndDisabled(t *testing.T) {
	lic, mods, clock := newLicensed(t)
	ctx := context.Background()
	_, err := lic.Fetch(ctx)
	require.NoError(t, err)
	past := clock.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, lic.Update(ctx, license.Patch{ExpiresAt: &past}))
	require.NoError(t, mods.SetEnabled(ctx, "obras", false))

	assert.Equal(t, modules.ReasonLicenseExpired, mods.CheckAccess(ctx, "obras").Reason)
}

func TestCheckAccessDisabledModule(t *testing.T) {
	_, mods, _ := newLicensed(t)
	ctx := context.Background()
	require.NoError(t, mods.SetEnabled(ctx, "obras", false))

	assert.Equal(t, modules.Decision{Reason: modules.ReasonDisabled}, mods.CheckAccess(ctx, "obras"))
	assert.Equal(t, modules.Decision{Access: true}, mods.CheckAccess(ctx, "ventas"))
}

func TestCheckAccessMissingModule(t *testing.T) {
	_, mods, _ := newLicensed(t)
	assert.Equal(t, modules.Decision{Reason: modules.ReasonNotFound}, mods.CheckAccess(context.Background(), "nonexistent"))
}
