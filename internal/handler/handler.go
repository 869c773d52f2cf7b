// Package handler serves the apikeyd HTTP API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/apikeyd/internal/domain/apikey"
)

// Validator resolves presented secrets. Implemented by *apikey.Validator.
type Validator interface {
	Validate(ctx context.Context, presented string, requested apikey.AccessLevel) (*apikey.Principal, error)
}

// Issuer creates keys. Implemented by *apikey.Issuer.
type Issuer interface {
	Issue(ctx context.Context, req apikey.IssueRequest) (*apikey.Issued, error)
}

// Revoker revokes keys. Implemented by every apikey.Store.
type Revoker interface {
	Revoke(ctx context.Context, userID, digest string) error
}

var (
	_ Validator = (*apikey.Validator)(nil)
	_ Issuer    = (*apikey.Issuer)(nil)
	_ Revoker   = (apikey.Store)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// StoreTimeout bounds store calls made directly by the handler.
	StoreTimeout time.Duration
	// RetryAfter is advertised on 503 responses.
	RetryAfter time.Duration
	// AdminLevel is required by the key management routes. Defaults to
	// apikey.LevelAdmin.
	AdminLevel apikey.AccessLevel
}

// Handler maps HTTP requests onto the issuer, validator and store.
type Handler struct {
	policy    *apikey.Policy
	validator Validator
	issuer    Issuer
	revoker   Revoker

	adminLevel   apikey.AccessLevel
	storeTimeout time.Duration
	retryAfter   time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, policy *apikey.Policy, validator Validator, issuer Issuer, revoker Revoker) *Handler {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Second
	}
	if cfg.AdminLevel == "" {
		cfg.AdminLevel = apikey.LevelAdmin
	}
	return &Handler{
		policy:       policy,
		validator:    validator,
		issuer:       issuer,
		revoker:      revoker,
		adminLevel:   cfg.AdminLevel,
		storeTimeout: cfg.StoreTimeout,
		retryAfter:   cfg.RetryAfter,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/auth", h.Authenticate)
	mux.Handle("POST /api/v1/keys", h.RequireLevel(h.adminLevel, http.HandlerFunc(h.IssueKey)))
	mux.Handle("POST /api/v1/keys/{digest}/revoke", h.RequireLevel(h.adminLevel, http.HandlerFunc(h.RevokeKey)))
}
