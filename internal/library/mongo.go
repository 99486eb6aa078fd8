package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	// ConnectTimeout bounds connecting plus the initial ping retries.
	ConnectTimeout time.Duration
}

// MongoBackend stores one document per key: {_id: key, value: <bytes>, updated_at}.
type MongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoDoc struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoBackend connects and pings until the server answers or the
// connect timeout passes.
func NewMongoBackend(ctx context.Context, cfg MongoConfig) (*MongoBackend, error) {
	if cfg.URI == "" {
		return nil, &BackendError{Backend: "mongo", Op: "init", Err: errors.New("mongo uri is required")}
	}
	if cfg.Database == "" {
		cfg.Database = "scriptcast"
	}
	if cfg.Collection == "" {
		cfg.Collection = "library"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, &BackendError{Backend: "mongo", Op: "connect", Err: err}
	}

	err = retry.Do(
		func() error {
			return client.Ping(ctx, nil)
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &BackendError{Backend: "mongo", Op: "ping", Err: err}
	}

	return &MongoBackend{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Ping checks the connection.
func (m *MongoBackend) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}
	var doc mongoDoc
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &BackendError{Backend: "mongo", Op: "get", Key: key, Err: err}
	}
	return doc.Value, true, nil
}

func (m *MongoBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	doc := mongoDoc{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return &BackendError{Backend: "mongo", Op: "put", Key: key, Err: err}
	}
	return nil
}

func (m *MongoBackend) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return &BackendError{Backend: "mongo", Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (m *MongoBackend) Keys(ctx context.Context) ([]string, error) {
	cursor, err := m.coll.Find(ctx, bson.M{},
		options.Find().
			SetProjection(bson.M{"_id": 1}).
			SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, &BackendError{Backend: "mongo", Op: "keys", Err: err}
	}
	defer cursor.Close(ctx)

	var keys []string
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, &BackendError{Backend: "mongo", Op: "keys", Err: err}
		}
		keys = append(keys, doc.Key)
	}
	if err := cursor.Err(); err != nil {
		return nil, &BackendError{Backend: "mongo", Op: "keys", Err: fmt.Errorf("cursor: %w", err)}
	}
	return keys, nil
}

func (m *MongoBackend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
