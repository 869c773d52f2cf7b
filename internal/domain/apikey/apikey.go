// Package apikey implements issuance and request-time validation of bearer
// API keys.
package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// AccessLevel is a coarse-grained capability tag carried by a key.
type AccessLevel string

const (
	// LevelCompletion allows calling completion endpoints.
	LevelCompletion AccessLevel = "COMPLETION"
	// LevelAdmin allows key management and grants LevelCompletion by default.
	LevelAdmin AccessLevel = "ADMIN"
)

// Status is the lifecycle state of a key record.
type Status string

const (
	// StatusActive is the initial state of every record.
	StatusActive Status = "ACTIVE"
	// StatusRevoked is terminal.
	StatusRevoked Status = "REVOKED"
)

// Store errors.
var (
	// ErrDuplicateDigest is returned by Store.Insert when a record with the
	// same secret digest already exists.
	ErrDuplicateDigest = errors.New("duplicate secret digest")
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("api key not found")
)

// Issuance and validation errors. Validation failures only disclose the
// decision category.
var (
	ErrUnknownKey         = errors.New("unknown api key")
	ErrKeyExpired         = errors.New("api key expired")
	ErrKeyRevoked         = errors.New("api key revoked")
	ErrInsufficientLevel  = errors.New("insufficient access level")
	ErrStoreUnavailable   = errors.New("key store unavailable")
	ErrExhaustedRetries   = errors.New("exhausted digest collision retries")
	ErrInvalidUserID      = errors.New("user id is required")
	ErrUnknownAccessLevel = errors.New("unknown access level")
)

// Record is a persisted API key. Only Status changes after creation.
type Record struct {
	ID           string
	UserID       string
	AccessLevel  AccessLevel
	SecretDigest string
	Comment      string
	DateExpiry   *time.Time
	Status       Status
	CreatedAt    time.Time
}

// Expired reports whether the record is expired at now. The expiry instant
// itself counts as expired.
func (r *Record) Expired(now time.Time) bool {
	return r.DateExpiry != nil && !now.Before(*r.DateExpiry)
}

// DigestPrefix returns the short digest form shown to operators.
func (r *Record) DigestPrefix() string {
	const n = 12
	if len(r.SecretDigest) < n {
		return r.SecretDigest
	}
	return r.SecretDigest[:n]
}

// Store persists key records. Implementations must make Insert atomic with
// respect to the uniqueness of SecretDigest and must treat Revoke as
// idempotent. Any error other than ErrDuplicateDigest and ErrNotFound is
// considered an infrastructure failure.
type Store interface {
	// Insert stores r or returns ErrDuplicateDigest.
	Insert(ctx context.Context, r *Record) error
	// FindByDigest returns the record with the given digest or ErrNotFound.
	FindByDigest(ctx context.Context, digest string) (*Record, error)
	// Revoke marks the record owned by userID as revoked or returns ErrNotFound.
	Revoke(ctx context.Context, userID, digest string) error
	// List returns records whose digest starts with prefix, oldest first.
	List(ctx context.Context, digestPrefix string) ([]Record, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// withTimeout bounds a single store call. A zero timeout leaves ctx as is.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// storeUnavailable keeps both ErrStoreUnavailable and the driver error in the
// chain.
func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
