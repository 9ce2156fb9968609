// Package licensing holds the in-memory view of license validity and module
// enablement, keeps it fresh in the background and applies the grace period
// that keeps access open for a while after a valid license is first seen
// expired.
package licensing

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ibero-data/modgate/internal/license"
	"github.com/ibero-data/modgate/internal/logging"
	"github.com/ibero-data/modgate/internal/metrics"
	"github.com/ibero-data/modgate/internal/modules"
)

// LicenseSource produces the license read model.
type LicenseSource interface {
	LoadInfo(ctx context.Context) (license.Info, error)
}

// ModuleSource lists modules and reads a single one.
type ModuleSource interface {
	All(ctx context.Context) ([]modules.Module, error)
	Get(ctx context.Context, id string) (*modules.Module, error)
}

const (
	triggerStart    = "start"
	triggerInterval = "interval"
	triggerManual   = "manual"
)

// Manager handles license and module caching and the tolerant-mode
// transition.
type Manager struct {
	licenses LicenseSource
	modules  ModuleSource
	clock    quartz.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	refreshInterval time.Duration
	gracePeriod     time.Duration

	flight singleflight.Group

	mu             sync.RWMutex
	info           license.Info
	valid          bool
	tolerant       bool
	graceTimer     *quartz.Timer
	graceEndsAt    time.Time
	all            []modules.Module
	enabled        []modules.Module
	modulesVersion uint64
	licenseLoading bool
	modulesLoading bool
	started        bool
	stopped        bool
	cancel         context.CancelFunc
	ticker         quartz.Waiter
	guards         map[string]*Guard
}

type Option func(*Manager)

func WithClock(c quartz.Clock) Option { return func(m *Manager) { m.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = logging.OrNop(l) } }
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshInterval = d
		}
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.gracePeriod = d
		}
	}
}

// NewManager returns a manager that reports loading until Start completes.
func NewManager(licenses LicenseSource, mods ModuleSource, opts ...Option) *Manager {
	m := &Manager{
		licenses:        licenses,
		modules:         mods,
		clock:           quartz.NewReal(),
		logger:          zap.NewNop(),
		refreshInterval: DefaultRefreshInterval,
		gracePeriod:     DefaultGracePeriod,
		info:            license.NoLicenseInfo(),
		licenseLoading:  true,
		modulesLoading:  true,
		guards:          make(map[string]*Guard),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start loads license and modules concurrently and then arms the background
// refresh. A failed load leaves a conservative default in place and does
// not fail Start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.loadAll(ctx, triggerStart)

	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.cancel = cancel
	m.ticker = m.clock.TickerFunc(tickCtx, m.refreshInterval, func() error {
		m.tick(tickCtx)
		return nil
	}, "licensing", "refresh")
	m.mu.Unlock()

	snap := m.Snapshot()
	m.logger.Info("licensing started",
		zap.String("state", string(snap.State)),
		zap.Int("days_remaining", snap.License.DaysRemaining),
		zap.Int("modules_enabled", len(snap.EnabledModules)),
		zap.Duration("refresh_interval", m.refreshInterval),
		zap.Duration("grace_period", m.gracePeriod),
	)
	return nil
}

// Stop cancels the background refresh and any pending grace timer. It is
// safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel, ticker := m.cancel, m.ticker
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ticker != nil {
		if err := ticker.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("license refresh loop exited", zap.Error(err))
		}
	}

	m.mu.Lock()
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	m.mu.Unlock()
}

// Refresh reloads license and modules immediately. A pending grace timer is
// left alone.
func (m *Manager) Refresh(ctx context.Context) Snapshot {
	m.mu.Lock()
	m.licenseLoading = true
	m.modulesLoading = true
	m.mu.Unlock()

	m.loadAll(ctx, triggerManual)
	return m.Snapshot()
}

// RefreshLicense reloads only the license.
func (m *Manager) RefreshLicense(ctx context.Context) {
	m.mu.Lock()
	m.licenseLoading = true
	m.mu.Unlock()
	m.loadLicense(ctx, triggerManual)
}

// RefreshModules reloads only the module lists.
func (m *Manager) RefreshModules(ctx context.Context) {
	m.mu.Lock()
	m.modulesLoading = true
	m.mu.Unlock()
	m.loadModules(ctx)
}

func (m *Manager) loadAll(ctx context.Context, trigger string) {
	var g errgroup.Group
	g.Go(func() error {
		m.loadLicense(ctx, trigger)
		return nil
	})
	g.Go(func() error {
		m.loadModules(ctx)
		return nil
	})
	_ = g.Wait()
}

// tick is the silent background refresh. It never touches the loading flags.
func (m *Manager) tick(ctx context.Context) {
	m.loadLicense(ctx, triggerInterval)
}

func (m *Manager) loadLicense(ctx context.Context, trigger string) {
	v, err, _ := m.flight.Do("license", func() (any, error) {
		return m.licenses.LoadInfo(ctx)
	})
	if isCanceled(ctx, err) {
		// A cancelled read says nothing about the license. The shared flight
		// can also hand one caller's cancellation to another.
		if trigger != triggerInterval {
			m.mu.Lock()
			m.licenseLoading = false
			m.mu.Unlock()
		}
		return
	}
	m.metrics.Refresh(trigger, err)

	info := loadFailedInfo()
	if err != nil {
		m.logger.Error("license load failed", zap.String("trigger", trigger), zap.Error(err))
	} else {
		info = v.(license.Info)
	}
	m.applyLicense(info, trigger == triggerInterval)
}

func (m *Manager) applyLicense(info license.Info, background bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasValid := m.valid
	m.info = info
	m.valid = info.Valid
	m.licenseLoading = false

	switch {
	case m.tolerant && info.Valid:
		m.leaveTolerantLocked()
	case background && info.Expired && wasValid && !m.tolerant && !m.stopped:
		m.enterTolerantLocked()
	}

	m.metrics.DaysRemaining(info.DaysRemaining)
	m.metrics.Tolerant(m.tolerant)
}

func (m *Manager) enterTolerantLocked() {
	m.tolerant = true
	m.graceEndsAt = m.clock.Now().Add(m.gracePeriod)
	m.graceTimer = m.clock.AfterFunc(m.gracePeriod, m.endGrace, "licensing", "grace")
	m.logger.Warn("license expired, entering tolerant mode",
		zap.Time("grace_ends_at", m.graceEndsAt),
	)
}

// leaveTolerantLocked ends the grace period early once a renewed license is
// loaded.
func (m *Manager) leaveTolerantLocked() {
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	m.tolerant = false
	m.graceEndsAt = time.Time{}
	m.logger.Info("license valid again, leaving tolerant mode",
		zap.Int("days_remaining", m.info.DaysRemaining),
	)
}

func (m *Manager) endGrace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tolerant {
		return
	}
	m.tolerant = false
	m.valid = false
	m.graceTimer = nil
	m.graceEndsAt = time.Time{}
	m.metrics.Tolerant(false)
	m.logger.Warn("grace period over, license access revoked")
}

func (m *Manager) loadModules(ctx context.Context) {
	v, err, _ := m.flight.Do("modules", func() (any, error) {
		return m.modules.All(ctx)
	})
	if isCanceled(ctx, err) {
		m.mu.Lock()
		m.modulesLoading = false
		m.mu.Unlock()
		return
	}

	var all []modules.Module
	if err != nil {
		m.logger.Error("module load failed", zap.Error(err))
	} else {
		all = v.([]modules.Module)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = all
	m.enabled = modules.FilterEnabled(all)
	m.modulesVersion++
	m.modulesLoading = false
	for id := range m.guards {
		if !containsModule(all, id) {
			delete(m.guards, id)
		}
	}
}

// isCanceled reports whether a load ended because a context was cancelled or
// timed out rather than because the store failed.
func isCanceled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func containsModule(list []modules.Module, id string) bool {
	return slices.ContainsFunc(list, func(m modules.Module) bool { return m.ID == id })
}

// EffectiveValid is the validity every access check must use: true while
// tolerant regardless of the stored license.
func (m *Manager) EffectiveValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tolerant || m.valid
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return stateOf(m.tolerant, m.valid)
}

func (m *Manager) LicenseInfo() license.Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

func (m *Manager) Loading() (licenseLoading, modulesLoading bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.licenseLoading, m.modulesLoading
}

func (m *Manager) EnabledModules() []modules.Module {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.enabled)
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		State:          stateOf(m.tolerant, m.valid),
		Valid:          m.tolerant || m.valid,
		RawValid:       m.valid,
		Tolerant:       m.tolerant,
		License:        m.info,
		LicenseLoading: m.licenseLoading,
		ModulesLoading: m.modulesLoading,
		Modules:        slices.Clone(m.all),
		EnabledModules: slices.Clone(m.enabled),
		ModulesVersion: m.modulesVersion,
	}
	if m.tolerant {
		ends := m.graceEndsAt
		snap.GraceEndsAt = &ends
	}
	return snap
}

// cachedModule looks id up in the cached lists.
func (m *Manager) cachedModule(id string) (mod modules.Module, known, enabled bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.enabled {
		if e.ID == id {
			return e, true, true
		}
	}
	for _, a := range m.all {
		if a.ID == id {
			return a, true, false
		}
	}
	return modules.Module{}, false, false
}

// Access grants a module only when it is in the cached enabled list and the
// live module record together with the effective license validity also
// allow it.
func (m *Manager) Access(ctx context.Context, id string) modules.Decision {
	d, _ := m.access(ctx, id)
	return d
}

// access also reports whether the live confirmation failed for a reason
// other than a missing module. Such a denial must not be cached.
func (m *Manager) access(ctx context.Context, id string) (d modules.Decision, transient bool) {
	defer func() { m.metrics.Decision(string(d.Reason)) }()

	valid := m.EffectiveValid()
	if !valid {
		return modules.Decide(false, nil), false
	}

	_, known, enabled := m.cachedModule(id)
	if !enabled {
		if known {
			return modules.Decision{Reason: modules.ReasonDisabled}, false
		}
		return modules.Decision{Reason: modules.ReasonNotFound}, false
	}

	mod, err := m.modules.Get(ctx, id)
	if err != nil {
		transient = !errors.Is(err, modules.ErrNotFound)
		if transient {
			m.logger.Error("module access confirmation failed", zap.String("module", id), zap.Error(err))
		}
		mod = nil
	}
	return modules.Decide(valid, mod), transient
}

// Guard returns the shared guard for a known module id. Ids outside the
// cached module list get a fresh guard that is not retained.
func (m *Manager) Guard(id string) *Guard {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guards[id]; ok {
		return g
	}
	g := NewGuard(m, id)
	if containsModule(m.all, id) {
		m.guards[id] = g
	}
	return g
}

func (m *Manager) guardKey(id string) (key guardKey, loading bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return guardKey{
		moduleID: id,
		version:  m.modulesVersion,
		valid:    m.tolerant || m.valid,
	}, m.modulesLoading
}
