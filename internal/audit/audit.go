// Package audit records administrative mutations in the document store.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/enrichment"
	"github.com/ibero-data/modgate/internal/logging"
	"github.com/ibero-data/modgate/internal/store"
)

const (
	Collection   = "audit"
	DefaultLimit = 100

	// orderField holds the timestamp in microseconds. RFC 3339 strings with
	// trimmed fractions do not sort lexically.
	orderField = "tsMicros"
)

// Entry is one recorded mutation.
type Entry struct {
	ID      string                 `json:"id"`
	TS      time.Time              `json:"ts"`
	Actor   string                 `json:"actor"`
	Action  string                 `json:"action"`
	Target  string                 `json:"target"`
	Details map[string]interface{} `json:"details,omitempty"`
	Client  enrichment.Result      `json:"client"`
}

type Log struct {
	store    store.Store
	enricher *enrichment.Enricher
	clock    quartz.Clock
	logger   *zap.Logger
}

func New(st store.Store, enricher *enrichment.Enricher, clock quartz.Clock, logger *zap.Logger) *Log {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Log{store: st, enricher: enricher, clock: clock, logger: logging.OrNop(logger)}
}

// Record writes e, filling in the id and timestamp. Failures are logged and
// returned but callers treat the audit trail as best effort.
func (l *Log) Record(ctx context.Context, e Entry) (Entry, error) {
	e.ID = uuid.NewString()
	e.TS = l.clock.Now().UTC()

	fields := store.Fields{
		"ts":       e.TS,
		orderField: e.TS.UnixMicro(),
		"actor":    e.Actor,
		"action":   e.Action,
		"target":   e.Target,
		"client":   e.Client,
	}
	if len(e.Details) > 0 {
		fields["details"] = e.Details
	}
	if err := l.store.Set(ctx, Collection, e.ID, fields); err != nil {
		l.logger.Warn("audit write failed", zap.String("action", e.Action), zap.Error(err))
		return e, fmt.Errorf("record audit entry: %w", err)
	}
	l.logger.Info("audit",
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.String("target", e.Target),
		zap.String("ip", e.Client.IP),
	)
	return e, nil
}

// RecordRequest records an action taken through r.
func (l *Log) RecordRequest(r *http.Request, actor, action, target string, details map[string]interface{}) {
	_, _ = l.Record(r.Context(), Entry{
		Actor:   actor,
		Action:  action,
		Target:  target,
		Details: details,
		Client:  l.enricher.FromRequest(r),
	})
}

// List returns up to limit entries, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	docs, err := l.store.List(ctx, Collection, orderField, store.Descending(), store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	out := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		var e Entry
		if err := doc.Decode(&e); err != nil {
			return nil, err
		}
		e.ID = doc.ID
		out = append(out, e)
	}
	return out, nil
}
