package apikey

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/apikeyd/internal/secret"
)

// DefaultIssueAttempts bounds digest-collision retries during issuance.
const DefaultIssueAttempts = 3

// Codec generates secrets and digests them. Implemented by *secret.Codec.
type Codec interface {
	Generate() (secret.Plaintext, error)
	Digest(secret string) string
	Verify(secret, digest string) bool
}

var _ Codec = (*secret.Codec)(nil)

// IssueRequest holds the input for issuing a key.
type IssueRequest struct {
	UserID      string
	AccessLevel AccessLevel
	// Expiry is optional; nil means the key never expires.
	Expiry  *time.Time
	Comment string
}

// Issued is the result of a successful issuance. Secret is the only copy of
// the plaintext; it cannot be recovered from Record.
type Issued struct {
	Secret secret.Plaintext
	Record Record
}

// Issuer creates new key records.
type Issuer struct {
	store    Store
	codec    Codec
	policy   *Policy
	attempts int
	timeout  time.Duration
	now      func() time.Time
	newID    func() string
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssueAttempts sets how many secrets are generated before giving up on
// digest collisions.
func WithIssueAttempts(n int) IssuerOption {
	return func(i *Issuer) {
		if n > 0 {
			i.attempts = n
		}
	}
}

// WithIssuerTimeout bounds every store call made by the Issuer.
func WithIssuerTimeout(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.timeout = d
	}
}

// NewIssuer creates an Issuer.
func NewIssuer(store Store, codec Codec, policy *Policy, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		store:    store,
		codec:    codec,
		policy:   policy,
		attempts: DefaultIssueAttempts,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue generates a secret, persists its digest, and returns the plaintext.
// A digest collision regenerates the secret; other store failures are
// reported as ErrStoreUnavailable without retrying.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if !i.policy.Known(req.AccessLevel) {
		return nil, errors.Wrapf(ErrUnknownAccessLevel, "level %q", req.AccessLevel)
	}

	var expiry *time.Time
	if req.Expiry != nil {
		e := req.Expiry.UTC()
		expiry = &e
	}

	for range i.attempts {
		plain, err := i.codec.Generate()
		if err != nil {
			return nil, errors.Wrap(err, "generate secret")
		}

		rec := Record{
			ID:           i.newID(),
			UserID:       userID,
			AccessLevel:  req.AccessLevel,
			SecretDigest: i.codec.Digest(plain.Reveal()),
			Comment:      req.Comment,
			DateExpiry:   expiry,
			Status:       StatusActive,
			CreatedAt:    i.now().UTC(),
		}

		err = i.insert(ctx, &rec)
		switch {
		case err == nil:
			return &Issued{Secret: plain, Record: rec}, nil
		case errors.Is(err, ErrDuplicateDigest):
			continue
		default:
			return nil, storeUnavailable(err)
		}
	}

	return nil, ErrExhaustedRetries
}

func (i *Issuer) insert(ctx context.Context, rec *Record) error {
	ctx, cancel := withTimeout(ctx, i.timeout)
	defer cancel()
	return i.store.Insert(ctx, rec)
}
