package modules

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/logging"
	"github.com/ibero-data/modgate/internal/store"
)

// LicenseChecker reports whether the stored license currently grants access.
type LicenseChecker interface {
	IsValid(ctx context.Context) bool
}

// Service is CRUD over module records plus the access decision.
type Service struct {
	store   store.Store
	license LicenseChecker
	logger  *zap.Logger
}

func NewService(st store.Store, license LicenseChecker, logger *zap.Logger) *Service {
	return &Service{store: st, license: license, logger: logging.OrNop(logger)}
}

// All returns every module ordered by order. An empty collection is seeded
// with Defaults first and the seeded set is returned.
func (s *Service) All(ctx context.Context) ([]Module, error) {
	docs, err := s.store.List(ctx, Collection, orderField)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	if len(docs) == 0 {
		return s.seed(ctx)
	}

	out := make([]Module, 0, len(docs))
	for _, doc := range docs {
		m, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// seed creates every default module that does not exist yet, leaving
// existing ones untouched.
func (s *Service) seed(ctx context.Context) ([]Module, error) {
	defaults := Defaults()
	out := make([]Module, 0, len(defaults))
	created := 0
	for _, def := range defaults {
		existing, err := s.Get(ctx, def.ID)
		if err == nil {
			out = append(out, *existing)
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("seed module %s: %w", def.ID, err)
		}

		fields := def.fields()
		fields["createdAt"] = store.ServerTimestamp
		fields["updatedAt"] = store.ServerTimestamp
		if err := s.store.Set(ctx, Collection, def.ID, fields); err != nil {
			return nil, fmt.Errorf("seed module %s: %w", def.ID, err)
		}
		out = append(out, def)
		created++
	}
	s.logger.Info("seeded default modules", zap.Int("created", created))
	return out, nil
}

// Enabled returns the modules that are not explicitly disabled.
func (s *Service) Enabled(ctx context.Context) ([]Module, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return FilterEnabled(all), nil
}

// FilterEnabled keeps the modules whose enabled flag is not false.
func FilterEnabled(all []Module) []Module {
	out := make([]Module, 0, len(all))
	for _, m := range all {
		if m.IsEnabled() {
			out = append(out, m)
		}
	}
	return out
}

func (s *Service) Get(ctx context.Context, id string) (*Module, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	doc, err := s.store.Get(ctx, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", id, err)
	}
	m, err := decode(doc)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// IsEnabled reports whether the module exists and is not disabled.
func (s *Service) IsEnabled(ctx context.Context, id string) bool {
	m, err := s.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("module lookup failed", zap.String("module", id), zap.Error(err))
		}
		return false
	}
	return m.IsEnabled()
}

// Create writes a new module, replacing any record with the same id. A
// missing enabled flag defaults to true.
func (s *Service) Create(ctx context.Context, m Module) (*Module, error) {
	if m.ID == "" {
		return nil, ErrMissingID
	}
	if m.Enabled == nil {
		m.Enabled = boolPtr(true)
	}
	fields := m.fields()
	fields["createdAt"] = store.ServerTimestamp
	fields["updatedAt"] = store.ServerTimestamp
	if err := s.store.Set(ctx, Collection, m.ID, fields); err != nil {
		return nil, fmt.Errorf("create module %s: %w", m.ID, err)
	}
	return s.Get(ctx, m.ID)
}

// Update merges p into an existing module.
func (s *Service) Update(ctx context.Context, id string, p Patch) error {
	if id == "" {
		return ErrMissingID
	}
	fields := p.fields()
	fields["updatedAt"] = store.ServerTimestamp
	err := s.store.Update(ctx, Collection, id, fields)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update module %s: %w", id, err)
	}
	return nil
}

func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.Update(ctx, id, Patch{Enabled: &enabled})
}

// Toggle flips the current effective enabled value.
func (s *Service) Toggle(ctx context.Context, id string) (*Module, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := !m.IsEnabled()
	if err := s.SetEnabled(ctx, id, next); err != nil {
		return nil, err
	}
	m.Enabled = &next
	return m, nil
}

// CheckAccess is the authoritative decision against the stored license.
// Read failures on the module deny access as not found.
func (s *Service) CheckAccess(ctx context.Context, id string) Decision {
	if !s.license.IsValid(ctx) {
		return Decide(false, nil)
	}
	m, err := s.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("module access check failed", zap.String("module", id), zap.Error(err))
	}
	return Decide(true, m)
}
