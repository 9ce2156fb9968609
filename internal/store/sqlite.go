package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/quartz"

	"github.com/ibero-data/modgate/internal/database"
)

type sqliteStore struct {
	db    *database.DB
	clock quartz.Clock
}

// NewSQLite stores documents as JSON rows of the documents table. The
// database must already be migrated.
func NewSQLite(db *database.DB, opts ...Option) Store {
	o := applyOptions(opts)
	return &sqliteStore{db: db, clock: o.clock}
}

func (s *sqliteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := checkRef(collection, id); err != nil {
		return Document{}, err
	}
	var body string
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?", collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("sqlite get %s/%s: %w", collection, id, err)
	}
	fields, err := decodeBody(body)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Fields: fields}, nil
}

func (s *sqliteStore) Set(ctx context.Context, collection, id string, fields Fields, opts ...SetOption) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	o := applySetOptions(opts)
	now := s.clock.Now()
	next := resolve(fields, now)

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if o.merge {
			existing, err := readTx(ctx, tx, collection, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if err == nil {
				next = mergeFields(existing, next)
			}
		}
		return writeTx(ctx, tx, collection, id, next, now.UnixMilli())
	})
}

func (s *sqliteStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	now := s.clock.Now()
	patch := resolve(fields, now)

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := readTx(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		return writeTx(ctx, tx, collection, id, mergeFields(existing, patch), now.UnixMilli())
	})
}

func (s *sqliteStore) List(ctx context.Context, collection, orderBy string, opts ...ListOption) ([]Document, error) {
	o := applyListOptions(opts)
	dir := "ASC"
	if o.desc {
		dir = "DESC"
	}
	limit := -1
	if o.limit > 0 {
		limit = o.limit
	}
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, body FROM documents
		WHERE collection = ?
		ORDER BY json_extract(body, ?) `+dir+`, id `+dir+`
		LIMIT ?
	`, collection, "$."+orderBy, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		fields, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	return docs, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
		if err != nil {
			return fmt.Errorf("sqlite delete %s/%s: %w", collection, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Close is a no-op, the database handle is owned by the caller.
func (s *sqliteStore) Close() error { return nil }

func readTx(ctx context.Context, tx *sql.Tx, collection, id string) (Fields, error) {
	var body string
	err := tx.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?", collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func writeTx(ctx context.Context, tx *sql.Tx, collection, id string, fields Fields, updatedAt int64) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, collection, id, string(body), updatedAt)
	return err
}

func decodeBody(body string) (Fields, error) {
	fields := Fields{}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	return fields, nil
}
