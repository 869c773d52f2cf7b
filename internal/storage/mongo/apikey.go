// Package mongo implements apikey.Store on a MongoDB collection.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
)

var _ apikey.Store = (*APIKeyStore)(nil)

// document is the stored shape. Records written by older tooling carry only
// _id, user_id, access_level, secret_digest and date_expiry.
type document struct {
	ObjectID     primitive.ObjectID `bson:"_id,omitempty"`
	ID           string             `bson:"id,omitempty"`
	UserID       string             `bson:"user_id"`
	AccessLevel  string             `bson:"access_level"`
	SecretDigest string             `bson:"secret_digest"`
	Comment      string             `bson:"comment,omitempty"`
	DateExpiry   *time.Time         `bson:"date_expiry"`
	Status       string             `bson:"status,omitempty"`
	CreatedAt    time.Time          `bson:"created_at,omitempty"`
}

func fromRecord(r *apikey.Record) document {
	return document{
		ID:           r.ID,
		UserID:       r.UserID,
		AccessLevel:  string(r.AccessLevel),
		SecretDigest: r.SecretDigest,
		Comment:      r.Comment,
		DateExpiry:   r.DateExpiry,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
	}
}

func (d *document) record() apikey.Record {
	r := apikey.Record{
		ID:           d.ID,
		UserID:       d.UserID,
		AccessLevel:  apikey.AccessLevel(d.AccessLevel),
		SecretDigest: d.SecretDigest,
		Comment:      d.Comment,
		Status:       apikey.Status(d.Status),
		CreatedAt:    d.CreatedAt.UTC(),
	}
	if r.ID == "" && !d.ObjectID.IsZero() {
		r.ID = d.ObjectID.Hex()
	}
	if r.Status == "" {
		r.Status = apikey.StatusActive
	}
	if d.CreatedAt.IsZero() && !d.ObjectID.IsZero() {
		r.CreatedAt = d.ObjectID.Timestamp().UTC()
	}
	if d.DateExpiry != nil {
		e := d.DateExpiry.UTC()
		r.DateExpiry = &e
	}
	return r
}

// APIKeyStore persists API keys in a MongoDB collection.
type APIKeyStore struct {
	coll *mongo.Collection
}

// NewClient connects to uri and pings the primary.
func NewClient(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client, nil
}

// NewAPIKeyStore returns an APIKeyStore over coll.
func NewAPIKeyStore(coll *mongo.Collection) *APIKeyStore {
	return &APIKeyStore{coll: coll}
}

// EnsureIndexes creates the unique secret_digest index that Insert relies on.
func (s *APIKeyStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "secret_digest", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("secret_digest_unique"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("user_id"),
		},
	})
	if err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	return nil
}

// Insert stores r. A duplicate key error on the unique index maps to
// apikey.ErrDuplicateDigest.
func (s *APIKeyStore) Insert(ctx context.Context, r *apikey.Record) error {
	if _, err := s.coll.InsertOne(ctx, fromRecord(r)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apikey.ErrDuplicateDigest
		}
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

// FindByDigest returns the record with the given digest.
func (s *APIKeyStore) FindByDigest(ctx context.Context, digest string) (*apikey.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"secret_digest": digest}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apikey.ErrNotFound
		}
		return nil, fmt.Errorf("finding api key by digest: %w", err)
	}
	rec := doc.record()
	return &rec, nil
}

// Revoke sets status REVOKED on the record owned by userID.
func (s *APIKeyStore) Revoke(ctx context.Context, userID, digest string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"secret_digest": digest, "user_id": userID},
		bson.M{"$set": bson.M{"status": string(apikey.StatusRevoked)}},
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if res.MatchedCount == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

// List returns records whose digest starts with digestPrefix, oldest first.
func (s *APIKeyStore) List(ctx context.Context, digestPrefix string) ([]apikey.Record, error) {
	if !secret.IsDigestPrefix(digestPrefix) {
		return nil, errors.Errorf("invalid digest prefix %q", digestPrefix)
	}

	filter := bson.M{}
	if digestPrefix != "" {
		filter["secret_digest"] = bson.M{"$regex": "^" + digestPrefix}
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "secret_digest", Value: 1},
	})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding api keys: %w", err)
	}

	out := make([]apikey.Record, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].record())
	}
	return out, nil
}

// Ping checks connectivity to the primary.
func (s *APIKeyStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}
