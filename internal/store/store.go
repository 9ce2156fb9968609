// Package store is the document store the access core reads and writes.
// Backends: memory, sqlite (modernc), redis and mongo.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

var (
	ErrNotFound       = errors.New("document not found")
	ErrEmptyReference = errors.New("collection and document id are required")
)

// Fields is the JSON-compatible body of a document.
type Fields map[string]any

// Document is a stored record together with its id.
type Document struct {
	ID     string
	Fields Fields
}

// Decode unmarshals the document body into v using its json tags.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

type serverTimestamp struct{}

// ServerTimestamp may be used as a field value; the backend replaces it
// with its own clock reading at write time.
var ServerTimestamp = serverTimestamp{}

type setOptions struct {
	merge bool
}

// SetOption configures Set.
type SetOption func(*setOptions)

// Merge makes Set overwrite only the given fields of an existing document.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type listOptions struct {
	desc  bool
	limit int
}

// ListOption configures List.
type ListOption func(*listOptions)

// Descending makes List return documents in reverse order, ties included.
func Descending() ListOption {
	return func(o *listOptions) { o.desc = true }
}

// Limit caps the number of documents List returns. n <= 0 means no cap.
func Limit(n int) ListOption {
	return func(o *listOptions) { o.limit = n }
}

func applyListOptions(opts []ListOption) listOptions {
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// window applies the options to documents already sorted ascending.
func (o listOptions) window(docs []Document) []Document {
	if o.desc {
		slices.Reverse(docs)
	}
	if o.limit > 0 && len(docs) > o.limit {
		docs = docs[:o.limit]
	}
	return docs
}

// Store is a key-value document store grouped by collection.
type Store interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set creates or replaces a document. With Merge it only overwrites the given fields.
	Set(ctx context.Context, collection, id string, fields Fields, opts ...SetOption) error
	// Update merges fields into an existing document and returns ErrNotFound otherwise.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// List returns every document of a collection ordered ascending by the
	// given field. Documents missing the field come first, ties order by id.
	// Descending and Limit are applied by the backend.
	List(ctx context.Context, collection, orderBy string, opts ...ListOption) ([]Document, error)
	// Delete removes a document and returns ErrNotFound when it does not exist.
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

func checkRef(collection, id string) error {
	if collection == "" || id == "" {
		return ErrEmptyReference
	}
	return nil
}

// resolve replaces ServerTimestamp sentinels with now.
func resolve(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now.UTC()
			continue
		}
		out[k] = v
	}
	return out
}

// normalize round-trips fields through JSON so every backend hands back the
// same value shapes (numbers as float64, times as RFC 3339 strings).
func normalize(fields Fields) (Fields, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := Fields{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeFields(dst, src Fields) Fields {
	out := make(Fields, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func sortDocuments(docs []Document, field string) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, aok := docs[i].Fields[field]
		b, bok := docs[j].Fields[field]
		if c := compareValues(a, aok, b, bok); c != 0 {
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}

// compareValues orders missing < numbers < strings < everything else.
func compareValues(a any, aok bool, b any, bok bool) int {
	ra, rb := rank(a, aok), rank(b, bok)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

func rank(v any, ok bool) int {
	if !ok || v == nil {
		return 0
	}
	switch v.(type) {
	case float64:
		return 1
	case string:
		return 2
	}
	return 3
}
