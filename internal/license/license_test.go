package license

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibero-data/modgate/internal/store"
)

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (*Service, store.Store, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	st := store.NewMemory(store.WithClock(clock))
	return NewService(st, WithClock(clock)), st, clock
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		license *License
		want    bool
	}{
		{"nil license", nil, true},
		{"inactive", &License{IsActive: false, ExpiresAt: ptr(now.Add(time.Hour))}, true},
		{"no expiry", &License{IsActive: true}, false},
		{"future expiry", &License{IsActive: true, ExpiresAt: ptr(now.Add(time.Minute))}, false},
		{"exact deadline", &License{IsActive: true, ExpiresAt: ptr(now)}, false},
		{"past expiry", &License{IsActive: true, ExpiresAt: ptr(now.Add(-time.Second))}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpired(tt.license, now))
		})
	}
}

func TestNoExpiryNeverExpires(t *testing.T) {
	l := &License{IsActive: true}
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []time.Duration{0, time.Hour, 24 * time.Hour * 365, 24 * time.Hour * 365 * 50} {
		assert.False(t, IsExpired(l, base.Add(d)))
		assert.True(t, IsValidAt(l, base.Add(d)))
	}
}

func TestDescribe(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	t.Run("nil", func(t *testing.T) {
		info := Describe(nil, now, DefaultExpiringSoonDays)
		assert.Equal(t, NoLicenseInfo(), info)
		assert.Equal(t, MessageNoLicense, info.Message)
	})

	t.Run("rounds remaining days up", func(t *testing.T) {
		l := &License{IsActive: true, ExpiresAt: ptr(now.Add(29*24*time.Hour + time.Minute))}
		info := Describe(l, now, DefaultExpiringSoonDays)
		assert.True(t, info.Valid)
		assert.False(t, info.Expired)
		assert.Equal(t, 30, info.DaysRemaining)
		assert.False(t, info.ExpiringSoon)
		assert.Equal(t, "Licencia válida (30 días restantes)", info.Message)
	})

	t.Run("expiring soon", func(t *testing.T) {
		l := &License{IsActive: true, DemoMode: true, ExpiresAt: ptr(now.Add(7 * 24 * time.Hour))}
		info := Describe(l, now, DefaultExpiringSoonDays)
		assert.Equal(t, 7, info.DaysRemaining)
		assert.True(t, info.ExpiringSoon)
		assert.True(t, info.DemoMode)
	})

	t.Run("expired", func(t *testing.T) {
		l := &License{IsActive: true, ExpiresAt: ptr(now.Add(-time.Hour))}
		info := Describe(l, now, DefaultExpiringSoonDays)
		assert.False(t, info.Valid)
		assert.True(t, info.Expired)
		assert.Equal(t, 0, info.DaysRemaining)
		assert.Equal(t, MessageExpired, info.Message)
	})

	t.Run("inactive with future expiry", func(t *testing.T) {
		l := &License{IsActive: false, ExpiresAt: ptr(now.Add(48 * time.Hour))}
		info := Describe(l, now, DefaultExpiringSoonDays)
		assert.False(t, info.Valid)
		assert.True(t, info.Expired)
		assert.Equal(t, 0, info.DaysRemaining)
	})

	t.Run("unlimited", func(t *testing.T) {
		info := Describe(&License{IsActive: true}, now, DefaultExpiringSoonDays)
		assert.True(t, info.Valid)
		assert.True(t, info.Unlimited)
		assert.False(t, info.Expired)
		assert.False(t, info.ExpiringSoon)
		assert.Equal(t, 0, info.DaysRemaining)
		assert.Equal(t, MessageUnlimited, info.Message)
	})
}

func TestDaysRemainingZeroExactlyWhenExpired(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{
		-48 * time.Hour, -time.Second, 0, time.Nanosecond, time.Minute,
		23 * time.Hour, 24 * time.Hour, 24*time.Hour + time.Second, 90 * 24 * time.Hour,
	}
	for _, active := range []bool{true, false} {
		for _, off := range offsets {
			info := Describe(&License{IsActive: active, ExpiresAt: ptr(now.Add(off))}, now, DefaultExpiringSoonDays)
			assert.GreaterOrEqual(t, info.DaysRemaining, 0)
			assert.Equal(t, info.Expired, info.DaysRemaining == 0, "offset %s active %v", off, active)
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "Expirada", FormatRemaining(0))
	assert.Equal(t, "Expirada", FormatRemaining(-time.Minute))
	assert.Equal(t, "3d 4h", FormatRemaining(3*24*time.Hour+4*time.Hour+59*time.Minute))
	assert.Equal(t, "5h 12m", FormatRemaining(5*time.Hour+12*time.Minute))
	assert.Equal(t, "42m", FormatRemaining(42*time.Minute+30*time.Second))
	assert.Equal(t, "0m", FormatRemaining(10*time.Second))
}

func TestFetchCreatesDefaultLicense(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	l, err := svc.Fetch(ctx)
	require.NoError(t, err)
	assert.True(t, l.IsActive)
	assert.True(t, l.DemoMode)
	require.NotNil(t, l.ExpiresAt)
	assert.True(t, clock.Now().Add(30*24*time.Hour).Equal(*l.ExpiresAt))

	doc, err := st.Get(ctx, Collection, DocumentID)
	require.NoError(t, err)
	assert.Equal(t, true, doc.Fields["isActive"])

	again, err := svc.Fetch(ctx)
	require.NoError(t, err)
	assert.True(t, l.ExpiresAt.Equal(*again.ExpiresAt))
}

func TestExtendAddsToExistingExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	expiry := clock.Now().Add(10 * 24 * time.Hour).UTC()
	_, err := svc.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Update(ctx, Patch{ExpiresAt: &expiry}))

	l, err := svc.Extend(ctx, 15)
	require.NoError(t, err)
	assert.True(t, expiry.AddDate(0, 0, 15).Equal(*l.ExpiresAt))

	stored, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, expiry.AddDate(0, 0, 15).Equal(*stored.ExpiresAt))
	assert.NotNil(t, stored.UpdatedAt)
}

func TestExtendFromStaleExpiryCanStayExpired(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	stale := clock.Now().Add(-20 * 24 * time.Hour).UTC()
	_, err := svc.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Update(ctx, Patch{ExpiresAt: &stale}))

	l, err := svc.Extend(ctx, 5)
	require.NoError(t, err)
	assert.True(t, stale.AddDate(0, 0, 5).Equal(*l.ExpiresAt))
	assert.False(t, svc.IsValid(ctx))
}

func TestExtendRejectsNonPositiveDays(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, days := range []int{0, -3} {
		_, err := svc.Extend(context.Background(), days)
		assert.ErrorIs(t, err, ErrInvalidDays)
	}
}

func TestExtendUnlimitedStartsFromNow(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.SetUnlimited(ctx))

	l, err := svc.Extend(ctx, 3)
	require.NoError(t, err)
	assert.True(t, clock.Now().UTC().AddDate(0, 0, 3).Equal(*l.ExpiresAt))
}

func TestInactiveLicenseIsInvalid(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Fetch(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(ctx, false))
	assert.False(t, svc.IsValid(ctx))

	info := svc.Info(ctx)
	assert.True(t, info.Expired)
	assert.False(t, info.Valid)
}

func TestUpdateMissingLicense(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Update(context.Background(), Patch{Notes: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetUnlimitedKeepsOtherFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Fetch(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.SetUnlimited(ctx))
	l, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, l.ExpiresAt)
	assert.NotNil(t, l.CreatedAt)
	assert.True(t, svc.IsValid(ctx))
	assert.True(t, svc.Info(ctx).Unlimited)
}

func TestReset(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	l, err := svc.Reset(ctx, 90)
	require.NoError(t, err)
	assert.True(t, clock.Now().UTC().AddDate(0, 0, 90).Equal(*l.ExpiresAt))
	assert.NotNil(t, l.CreatedAt)

	require.NoError(t, svc.SetActive(ctx, false))
	l, err = svc.Reset(ctx, 10)
	require.NoError(t, err)
	assert.True(t, l.IsActive)
	assert.Equal(t, "Licencia demo configurada - 10 días", l.Notes)
}

type brokenStore struct{ store.Store }

var errBroken = errors.New("store unreachable")

func (brokenStore) Get(context.Context, string, string) (store.Document, error) {
	return store.Document{}, errBroken
}

func (brokenStore) Update(context.Context, string, string, store.Fields) error {
	return errBroken
}

func TestStoreFailuresFailClosed(t *testing.T) {
	svc := NewService(brokenStore{Store: store.NewMemory()})
	ctx := context.Background()

	assert.False(t, svc.IsValid(ctx))
	assert.Equal(t, NoLicenseInfo(), svc.Info(ctx))

	_, err := svc.LoadInfo(ctx)
	assert.ErrorIs(t, err, errBroken)

	err = svc.Update(ctx, Patch{IsActive: ptr(true)})
	assert.ErrorIs(t, err, errBroken)
}
