package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/logging"
	"github.com/ibero-data/modgate/internal/store"
)

// Service reads and writes the license singleton.
type Service struct {
	store            store.Store
	clock            quartz.Clock
	logger           *zap.Logger
	trialDays        int
	expiringSoonDays int
}

type Option func(*Service)

func WithClock(c quartz.Clock) Option { return func(s *Service) { s.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = logging.OrNop(l) } }
func WithTrialDays(days int) Option { return func(s *Service) { s.trialDays = days } }
func WithExpiringSoonDays(days int) Option { return func(s *Service) { s.expiringSoonDays = days } }

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:            st,
		clock:            quartz.NewReal(),
		logger:           zap.NewNop(),
		trialDays:        DefaultTrialDays,
		expiringSoonDays: DefaultExpiringSoonDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Get reads the license without provisioning a default.
func (s *Service) Get(ctx context.Context) (*License, error) {
	doc, err := s.store.Get(ctx, Collection, DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read license: %w", err)
	}
	var l License
	if err := doc.Decode(&l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Fetch reads the license, creating the default trial license on first use.
func (s *Service) Fetch(ctx context.Context) (*License, error) {
	l, err := s.Get(ctx)
	if !errors.Is(err, ErrNotFound) {
		return l, err
	}

	now := s.clock.Now().UTC()
	expires := now.Add(time.Duration(s.trialDays) * 24 * time.Hour)
	notes := fmt.Sprintf("Licencia demo inicial - %d días", s.trialDays)
	err = s.store.Set(ctx, Collection, DocumentID, store.Fields{
		"isActive":  true,
		"demoMode":  true,
		"expiresAt": expires,
		"createdAt": store.ServerTimestamp,
		"features":  []string{},
		"notes":     notes,
	})
	if err != nil {
		return nil, fmt.Errorf("create default license: %w", err)
	}
	s.logger.Info("created default license", zap.Time("expires_at", expires))

	return &License{
		IsActive:  true,
		DemoMode:  true,
		ExpiresAt: &expires,
		CreatedAt: &now,
		Features:  []string{},
		Notes:     notes,
	}, nil
}

// IsExpired reports whether l is expired at the current time.
func (s *Service) IsExpired(l *License) bool {
	return IsExpired(l, s.clock.Now())
}

// IsValid reports whether the stored license grants access. Read failures
// count as invalid.
func (s *Service) IsValid(ctx context.Context) bool {
	l, err := s.Fetch(ctx)
	if err != nil {
		s.logger.Error("license validity check failed", zap.Error(err))
		return false
	}
	return IsValidAt(l, s.clock.Now())
}

// Info returns the read model. Read failures yield NoLicenseInfo.
func (s *Service) Info(ctx context.Context) Info {
	info, err := s.LoadInfo(ctx)
	if err != nil {
		s.logger.Error("license info unavailable", zap.Error(err))
		return NoLicenseInfo()
	}
	return info
}

// LoadInfo is Info with the read error surfaced.
func (s *Service) LoadInfo(ctx context.Context) (Info, error) {
	l, err := s.Fetch(ctx)
	if err != nil {
		return NoLicenseInfo(), err
	}
	return Describe(l, s.clock.Now(), s.expiringSoonDays), nil
}

// Update merges p into the existing license and stamps updatedAt.
func (s *Service) Update(ctx context.Context, p Patch) error {
	fields := p.fields()
	fields["updatedAt"] = store.ServerTimestamp
	err := s.store.Update(ctx, Collection, DocumentID, fields)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	return nil
}

// Extend pushes the expiry back by days calendar days counted from the
// current expiry, even when that date has already passed. A license without
// expiry is extended from now.
func (s *Service) Extend(ctx context.Context, days int) (*License, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	l, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	base := s.clock.Now().UTC()
	if l.ExpiresAt != nil {
		base = *l.ExpiresAt
	}
	next := base.AddDate(0, 0, days)
	if err := s.Update(ctx, Patch{ExpiresAt: &next}); err != nil {
		return nil, err
	}
	l.ExpiresAt = &next
	return l, nil
}

// SetActive flips the administrative kill switch.
func (s *Service) SetActive(ctx context.Context, active bool) error {
	return s.Update(ctx, Patch{IsActive: &active})
}

// Reset activates the license for days days from now, creating it if needed.
func (s *Service) Reset(ctx context.Context, days int) (*License, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	expires := s.clock.Now().UTC().AddDate(0, 0, days)
	fields := store.Fields{
		"isActive":  true,
		"demoMode":  true,
		"expiresAt": expires,
		"updatedAt": store.ServerTimestamp,
		"features":  []string{},
		"notes":     fmt.Sprintf("Licencia demo configurada - %d días", days),
	}

	_, err := s.Get(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		fields["createdAt"] = store.ServerTimestamp
		err = s.store.Set(ctx, Collection, DocumentID, fields)
	case err == nil:
		err = s.store.Update(ctx, Collection, DocumentID, fields)
	}
	if err != nil {
		return nil, fmt.Errorf("reset license: %w", err)
	}
	return s.Get(ctx)
}

// SetUnlimited removes the expiry date.
func (s *Service) SetUnlimited(ctx context.Context) error {
	err := s.store.Set(ctx, Collection, DocumentID, store.Fields{
		"isActive":  true,
		"demoMode":  true,
		"expiresAt": nil,
		"updatedAt": store.ServerTimestamp,
		"features":  []string{},
		"notes":     "Licencia sin expiración",
	}, store.Merge())
	if err != nil {
		return fmt.Errorf("set unlimited license: %w", err)
	}
	return nil
}
