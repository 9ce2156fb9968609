package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
)

const redisMaxRetries = 5

// RedisConfig holds the connection settings for the redis backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type redisStore struct {
	client *redis.Client
	prefix string
	clock  quartz.Clock
}

// NewRedis keeps each collection in one hash, field per document id.
func NewRedis(ctx context.Context, cfg RedisConfig, opts ...Option) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "modgate"
	}
	o := applyOptions(opts)
	return &redisStore{client: client, prefix: prefix, clock: o.clock}, nil
}

func (s *redisStore) key(collection string) string {
	return s.prefix + ":" + collection
}

func (s *redisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := checkRef(collection, id); err != nil {
		return Document{}, err
	}
	body, err := s.client.HGet(ctx, s.key(collection), id).Result()
	if errors.Is(err, redis.Nil) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("redis get %s/%s: %w", collection, id, err)
	}
	fields, err := decodeBody(body)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Fields: fields}, nil
}

func (s *redisStore) Set(ctx context.Context, collection, id string, fields Fields, opts ...SetOption) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	next := resolve(fields, s.clock.Now())
	if !applySetOptions(opts).merge {
		body, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return s.client.HSet(ctx, s.key(collection), id, body).Err()
	}
	return s.readModifyWrite(ctx, collection, id, func(existing Fields, found bool) (Fields, error) {
		if !found {
			return next, nil
		}
		return mergeFields(existing, next), nil
	})
}

func (s *redisStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	patch := resolve(fields, s.clock.Now())
	return s.readModifyWrite(ctx, collection, id, func(existing Fields, found bool) (Fields, error) {
		if !found {
			return nil, ErrNotFound
		}
		return mergeFields(existing, patch), nil
	})
}

// readModifyWrite runs fn inside an optimistic WATCH transaction on the
// collection hash, retrying when a concurrent writer wins.
func (s *redisStore) readModifyWrite(ctx context.Context, collection, id string, fn func(Fields, bool) (Fields, error)) error {
	key := s.key(collection)
	txf := func(tx *redis.Tx) error {
		var existing Fields
		body, err := tx.HGet(ctx, key, id).Result()
		found := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if found {
			if existing, err = decodeBody(body); err != nil {
				return err
			}
		}
		next, err := fn(existing, found)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, raw)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis write %s/%s: too much contention", collection, id)
}

func (s *redisStore) List(ctx context.Context, collection, orderBy string, opts ...ListOption) ([]Document, error) {
	all, err := s.client.HGetAll(ctx, s.key(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", collection, err)
	}
	docs := make([]Document, 0, len(all))
	for id, body := range all {
		fields, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	sortDocuments(docs, orderBy)
	return applyListOptions(opts).window(docs), nil
}

func (s *redisStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	n, err := s.client.HDel(ctx, s.key(collection), id).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
