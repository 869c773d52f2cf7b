// Package redis implements apikey.Store on Redis. Each record is a JSON
// string under apikey:<digest>.
package redis

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
)

const (
	keyPrefix = "apikey:"

	// revokeAttempts bounds optimistic transaction retries when a concurrent
	// writer touches the watched key.
	revokeAttempts = 5
	scanBatch      = 256
)

var _ apikey.Store = (*APIKeyStore)(nil)

// APIKeyStore persists API keys in Redis.
type APIKeyStore struct {
	client redis.UniversalClient
}

// NewClient parses a redis:// URL and verifies connectivity.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// NewAPIKeyStore returns an APIKeyStore that uses client.
func NewAPIKeyStore(client redis.UniversalClient) *APIKeyStore {
	return &APIKeyStore{client: client}
}

func recordKey(digest string) string {
	return keyPrefix + digest
}

// Insert stores r with SETNX so that uniqueness is decided by Redis.
func (s *APIKeyStore) Insert(ctx context.Context, r *apikey.Record) error {
	var e jx.Encoder
	r.Encode(&e)

	ok, err := s.client.SetNX(ctx, recordKey(r.SecretDigest), e.Bytes(), 0).Result()
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	if !ok {
		return apikey.ErrDuplicateDigest
	}
	return nil
}

// FindByDigest returns the record stored under digest.
func (s *APIKeyStore) FindByDigest(ctx context.Context, digest string) (*apikey.Record, error) {
	raw, err := s.client.Get(ctx, recordKey(digest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apikey.ErrNotFound
		}
		return nil, fmt.Errorf("finding api key by digest: %w", err)
	}
	return decode(raw)
}

// Revoke rewrites the record with status REVOKED inside a WATCH/MULTI
// transaction.
func (s *APIKeyStore) Revoke(ctx context.Context, userID, digest string) error {
	key := recordKey(digest)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return apikey.ErrNotFound
			}
			return err
		}
		rec, err := decode(raw)
		if err != nil {
			return err
		}
		if rec.UserID != userID {
			return apikey.ErrNotFound
		}
		if rec.Status == apikey.StatusRevoked {
			return nil
		}

		rec.Status = apikey.StatusRevoked
		var e jx.Encoder
		rec.Encode(&e)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, e.Bytes(), redis.KeepTTL)
			return nil
		})
		return err
	}

	for range revokeAttempts {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, apikey.ErrNotFound):
			return err
		default:
			return fmt.Errorf("revoking api key: %w", err)
		}
	}
	return errors.Errorf("revoking api key: transaction aborted %d times", revokeAttempts)
}

// List scans apikey:<prefix>* and returns matching records, oldest first.
func (s *APIKeyStore) List(ctx context.Context, digestPrefix string) ([]apikey.Record, error) {
	if !secret.IsDigestPrefix(digestPrefix) {
		return nil, errors.Errorf("invalid digest prefix %q", digestPrefix)
	}

	var out []apikey.Record
	iter := s.client.Scan(ctx, 0, keyPrefix+digestPrefix+"*", scanBatch).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vals, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return err
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				// Deleted between SCAN and MGET.
				continue
			}
			rec, err := decode([]byte(str))
			if err != nil {
				return err
			}
			out = append(out, *rec)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("listing api keys: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning api keys: %w", err)
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	slices.SortFunc(out, func(a, b apikey.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SecretDigest, b.SecretDigest)
	})
	return out, nil
}

// Ping checks Redis connectivity.
func (s *APIKeyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decode(raw []byte) (*apikey.Record, error) {
	var rec apikey.Record
	if err := rec.Decode(jx.DecodeBytes(raw)); err != nil {
		return nil, err
	}
	return &rec, nil
}
