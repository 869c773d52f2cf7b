// Package memory provides an in-process apikey.Store for tests and local runs.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/xenking/apikeyd/internal/domain/apikey"
)

var _ apikey.Store = (*APIKeyStore)(nil)

// APIKeyStore keeps records in a map keyed by secret digest.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]apikey.Record
}

// NewAPIKeyStore returns an empty store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]apikey.Record)}
}

// Insert stores r unless its digest is already present.
func (s *APIKeyStore) Insert(ctx context.Context, r *apikey.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[r.SecretDigest]; exists {
		return apikey.ErrDuplicateDigest
	}
	s.keys[r.SecretDigest] = clone(*r)
	return nil
}

// FindByDigest returns a copy of the stored record.
func (s *APIKeyStore) FindByDigest(ctx context.Context, digest string) (*apikey.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.keys[digest]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	out := clone(r)
	return &out, nil
}

// Revoke marks the record revoked when it belongs to userID.
func (s *APIKeyStore) Revoke(ctx context.Context, userID, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.keys[digest]
	if !ok || r.UserID != userID {
		return apikey.ErrNotFound
	}
	r.Status = apikey.StatusRevoked
	s.keys[digest] = r
	return nil
}

// List returns records whose digest starts with digestPrefix, oldest first.
func (s *APIKeyStore) List(ctx context.Context, digestPrefix string) ([]apikey.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]apikey.Record, 0, len(s.keys))
	for digest, r := range s.keys {
		if strings.HasPrefix(digest, digestPrefix) {
			out = append(out, clone(r))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b apikey.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SecretDigest, b.SecretDigest)
	})
	return out, nil
}

// Ping always succeeds.
func (s *APIKeyStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored records.
func (s *APIKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func clone(r apikey.Record) apikey.Record {
	if r.DateExpiry != nil {
		e := *r.DateExpiry
		r.DateExpiry = &e
	}
	return r
}
