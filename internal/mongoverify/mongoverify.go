// Package mongoverify checks what the Knowledge Engine actually stored, by
// reading its MongoDB collection directly. It never writes.
package mongoverify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/thruflo/keqa/internal/config"
)

// RequiredFields are the fields every stored article must carry.
var RequiredFields = []string{"id", "title", "content"}

const connectTimeout = 10 * time.Second

// Document is one stored article.
type Document map[string]interface{}

// Fields returns the document's field names, sorted.
func (d Document) Fields() []string {
	names := make([]string, 0, len(d))
	for k := range d {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Verifier is the read-only view of the article store used by scenarios.
type Verifier interface {
	CountArticles(ctx context.Context) (int64, error)
	SampleArticles(ctx context.Context, n int) ([]Document, error)
	Close(ctx context.Context) error
}

// Store reads articles from a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials MongoDB and pings it.
func Connect(ctx context.Context, cfg config.Mongo) (*Store, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mongo uri is not configured")
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("keqa").
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout).
		SetReadPreference(readpref.PrimaryPreferred())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.PrimaryPreferred()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// CountArticles returns the number of stored articles.
func (s *Store) CountArticles(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return n, nil
}

// SampleArticles returns up to n random articles with their content
// omitted.
func (s *Store) SampleArticles(ctx context.Context, n int) ([]Document, error) {
	if n <= 0 {
		return nil, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: n}}}},
		{{Key: "$addFields", Value: bson.D{{Key: "content", Value: bson.D{
			{Key: "$cond", Value: bson.A{bson.D{{Key: "$gt", Value: bson.A{"$content", nil}}}, true, "$$REMOVE"}},
		}}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to sample articles: %w", err)
	}
	defer cur.Close(ctx)

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}
	docs := make([]Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, Document(m))
	}
	return docs, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MissingFields returns the required fields absent from doc, in order.
// "_id" satisfies "id".
func MissingFields(doc Document, required ...string) []string {
	var missing []string
	for _, f := range required {
		if _, ok := doc[f]; ok {
			continue
		}
		if f == "id" {
			if _, ok := doc["_id"]; ok {
				continue
			}
		}
		missing = append(missing, f)
	}
	return missing
}
