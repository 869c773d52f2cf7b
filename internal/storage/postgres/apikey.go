package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
)

const (
	insertAPIKeySQL = `INSERT INTO api_keys
	(id, user_id, access_level, secret_digest, comment, date_expiry, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (secret_digest) DO NOTHING`

	selectAPIKeyColumns = `SELECT id, user_id, access_level, secret_digest, comment,
	date_expiry, status, created_at FROM api_keys`

	getAPIKeyByDigestSQL = selectAPIKeyColumns + ` WHERE secret_digest = $1`

	listAPIKeysSQL = selectAPIKeyColumns + ` WHERE secret_digest LIKE $1 || '%'
	ORDER BY created_at, secret_digest`

	revokeAPIKeySQL = `UPDATE api_keys SET status = 'REVOKED'
	WHERE secret_digest = $1 AND user_id = $2`
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

var _ apikey.Store = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key persistence backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// Insert stores r. The unique index on secret_digest makes the uniqueness
// check and the write a single atomic statement.
func (r *APIKeyRepository) Insert(ctx context.Context, rec *apikey.Record) error {
	tag, err := r.pool.Exec(ctx, insertAPIKeySQL,
		rec.ID,
		rec.UserID,
		string(rec.AccessLevel),
		rec.SecretDigest,
		rec.Comment,
		rec.DateExpiry,
		string(rec.Status),
		rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apikey.ErrDuplicateDigest
		}
		return fmt.Errorf("inserting api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apikey.ErrDuplicateDigest
	}
	return nil
}

// FindByDigest looks up a key by its secret digest.
// Returns apikey.ErrNotFound when no matching key exists.
func (r *APIKeyRepository) FindByDigest(ctx context.Context, digest string) (*apikey.Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, getAPIKeyByDigestSQL, digest))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apikey.ErrNotFound
		}
		return nil, fmt.Errorf("finding api key by digest: %w", err)
	}
	return rec, nil
}

// Revoke marks the key revoked. Revoking an already revoked key still
// matches the row, so the call is idempotent.
func (r *APIKeyRepository) Revoke(ctx context.Context, userID, digest string) error {
	tag, err := r.pool.Exec(ctx, revokeAPIKeySQL, digest, userID)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

// List returns keys whose digest starts with digestPrefix.
func (r *APIKeyRepository) List(ctx context.Context, digestPrefix string) ([]apikey.Record, error) {
	if !secret.IsDigestPrefix(digestPrefix) {
		return nil, errors.Errorf("invalid digest prefix %q", digestPrefix)
	}

	rows, err := r.pool.Query(ctx, listAPIKeysSQL, digestPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (apikey.Record, error) {
		rec, err := scanRecord(row)
		if err != nil {
			return apikey.Record{}, err
		}
		return *rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning api keys: %w", err)
	}
	return recs, nil
}

// Ping checks database connectivity.
func (r *APIKeyRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (*apikey.Record, error) {
	var (
		rec         apikey.Record
		level       string
		status      string
		dateExpiry  *time.Time
		createdAtTS time.Time
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&level,
		&rec.SecretDigest,
		&rec.Comment,
		&dateExpiry,
		&status,
		&createdAtTS,
	); err != nil {
		return nil, err
	}

	rec.AccessLevel = apikey.AccessLevel(level)
	rec.Status = apikey.Status(status)
	rec.CreatedAt = createdAtTS.UTC()
	if dateExpiry != nil {
		e := dateExpiry.UTC()
		rec.DateExpiry = &e
	}
	return &rec, nil
}
