package store

import (
	"context"
	"sync"

	"github.com/coder/quartz"
)

type memoryStore struct {
	mu          sync.RWMutex
	clock       quartz.Clock
	collections map[string]map[string]Fields
}

// Option configures a backend.
type Option func(*backendOptions)

type backendOptions struct {
	clock quartz.Clock
}

// WithClock sets the clock used to resolve ServerTimestamp.
func WithClock(clock quartz.Clock) Option {
	return func(o *backendOptions) { o.clock = clock }
}

func applyOptions(opts []Option) backendOptions {
	o := backendOptions{clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMemory returns a process-local store.
func NewMemory(opts ...Option) Store {
	o := applyOptions(opts)
	return &memoryStore{
		clock:       o.clock,
		collections: make(map[string]map[string]Fields),
	}
}

func (s *memoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	if err := checkRef(collection, id); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: mergeFields(fields, nil)}, nil
}

func (s *memoryStore) Set(_ context.Context, collection, id string, fields Fields, opts ...SetOption) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	o := applySetOptions(opts)
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := normalize(resolve(fields, s.clock.Now()))
	if err != nil {
		return err
	}
	docs := s.collection(collection)
	if existing, ok := docs[id]; ok && o.merge {
		next = mergeFields(existing, next)
	}
	docs[id] = next
	return nil
}

func (s *memoryStore) Update(_ context.Context, collection, id string, fields Fields) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	patch, err := normalize(resolve(fields, s.clock.Now()))
	if err != nil {
		return err
	}
	s.collections[collection][id] = mergeFields(existing, patch)
	return nil
}

func (s *memoryStore) List(_ context.Context, collection, orderBy string, opts ...ListOption) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		docs = append(docs, Document{ID: id, Fields: mergeFields(fields, nil)})
	}
	sortDocuments(docs, orderBy)
	return applyListOptions(opts).window(docs), nil
}

func (s *memoryStore) Delete(_ context.Context, collection, id string) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) collection(name string) map[string]Fields {
	docs, ok := s.collections[name]
	if !ok {
		docs = make(map[string]Fields)
		s.collections[name] = docs
	}
	return docs
}
