package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultServerSelectionTimeout = 5 * time.Second

var (
	ErrEmptyURI          = errors.New("mongo uri cannot be empty")
	ErrEmptyDatabaseName = errors.New("mongo database name cannot be empty")
)

// MongoConfig holds the connection settings for the mongo backend.
type MongoConfig struct {
	URI      string
	Database string
}

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	clock  quartz.Clock
}

// NewMongo maps each collection to a mongo collection, document id to _id.
func NewMongo(ctx context.Context, cfg MongoConfig, opts ...Option) (Store, error) {
	if cfg.URI == "" {
		return nil, ErrEmptyURI
	}
	if cfg.Database == "" {
		return nil, ErrEmptyDatabaseName
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(defaultServerSelectionTimeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	o := applyOptions(opts)
	return &mongoStore{client: client, db: client.Database(cfg.Database), clock: o.clock}, nil
}

func (s *mongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := checkRef(collection, id); err != nil {
		return Document{}, err
	}
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("mongo get %s/%s: %w", collection, id, err)
	}
	return toDocument(raw)
}

func (s *mongoStore) Set(ctx context.Context, collection, id string, fields Fields, opts ...SetOption) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	next := bson.M(resolve(fields, s.clock.Now()))
	delete(next, "_id")
	coll := s.db.Collection(collection)

	if !applySetOptions(opts).merge {
		_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, next, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("mongo set %s/%s: %w", collection, id, err)
		}
		return nil
	}

	if len(next) == 0 {
		n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil || n > 0 {
			return err
		}
		_, err = coll.InsertOne(ctx, bson.M{"_id": id})
		return err
	}
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": next}, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("mongo merge %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *mongoStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	patch := bson.M(resolve(fields, s.clock.Now()))
	delete(patch, "_id")
	coll := s.db.Collection(collection)

	if len(patch) == 0 {
		n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("mongo update %s/%s: %w", collection, id, err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}

	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": patch})
	if err != nil {
		return fmt.Errorf("mongo update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) List(ctx context.Context, collection, orderBy string, opts ...ListOption) ([]Document, error) {
	o := applyListOptions(opts)
	dir := 1
	if o.desc {
		dir = -1
	}
	findOpts := options.Find().SetSort(bson.D{{Key: orderBy, Value: dir}, {Key: "_id", Value: dir}})
	if o.limit > 0 {
		findOpts.SetLimit(int64(o.limit))
	}
	cur, err := s.db.Collection(collection).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo list %s: %w", collection, err)
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("mongo list %s: %w", collection, err)
	}
	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		doc, err := toDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *mongoStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo delete %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultServerSelectionTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func toDocument(raw bson.M) (Document, error) {
	id, _ := raw["_id"].(string)
	fields := make(Fields, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		fields[k] = fromBSON(v)
	}
	normalized, err := normalize(fields)
	if err != nil {
		return Document{}, fmt.Errorf("mongo decode %s: %w", id, err)
	}
	return Document{ID: id, Fields: normalized}, nil
}

func fromBSON(v any) any {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fromBSON(item)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = fromBSON(item)
		}
		return out
	}
	return v
}
