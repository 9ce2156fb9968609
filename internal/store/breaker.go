package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker around a remote backend.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig trips after five consecutive backend failures and
// probes again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

type breakerStore struct {
	next    Store
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker wraps a store so that repeated backend failures fail fast.
// ErrNotFound and context cancellation are not counted as failures.
func WithBreaker(next Store, name string, cfg BreakerConfig, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "store-" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrEmptyReference) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &breakerStore{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (s *breakerStore) execute(fn func() (any, error)) (any, error) {
	res, err := s.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("store unavailable (%s): %w", s.breaker.Name(), err)
	}
	return res, err
}

func (s *breakerStore) Get(ctx context.Context, collection, id string) (Document, error) {
	res, err := s.execute(func() (any, error) {
		return s.next.Get(ctx, collection, id)
	})
	if err != nil {
		return Document{}, err
	}
	return res.(Document), nil
}

func (s *breakerStore) Set(ctx context.Context, collection, id string, fields Fields, opts ...SetOption) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.Set(ctx, collection, id, fields, opts...)
	})
	return err
}

func (s *breakerStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.Update(ctx, collection, id, fields)
	})
	return err
}

func (s *breakerStore) List(ctx context.Context, collection, orderBy string, opts ...ListOption) ([]Document, error) {
	res, err := s.execute(func() (any, error) {
		return s.next.List(ctx, collection, orderBy, opts...)
	})
	if err != nil {
		return nil, err
	}
	return res.([]Document), nil
}

func (s *breakerStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.Delete(ctx, collection, id)
	})
	return err
}

func (s *breakerStore) Close() error {
	return s.next.Close()
}
