package apikey_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
	"github.com/xenking/apikeyd/internal/storage/memory"
)

type service struct {
	store     *memory.APIKeyStore
	issuer    *apikey.Issuer
	validator *apikey.Validator
}

func newService(t *testing.T) service {
	t.Helper()

	store := memory.NewAPIKeyStore()
	codec := secret.NewCodec(secret.WithPepper([]byte("test-pepper")))
	policy := apikey.DefaultPolicy()

	v, err := apikey.NewValidator(store, codec, policy)
	require.NoError(t, err)

	return service{
		store:     store,
		issuer:    apikey.NewIssuer(store, codec, policy),
		validator: v,
	}
}

func TestIssueThenValidate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	issued, err := svc.issuer.Issue(ctx, apikey.IssueRequest{
		UserID:      "user1",
		AccessLevel: apikey.LevelCompletion,
	})
	require.NoError(t, err)
	s1 := issued.Secret.Reveal()

	p, err := svc.validator.Validate(ctx, s1, apikey.LevelCompletion)
	require.NoError(t, err)
	assert.Equal(t, "user1", p.UserID)
	assert.Equal(t, apikey.LevelCompletion, p.AccessLevel)
	assert.Equal(t, issued.Record.ID, p.KeyID)

	_, err = svc.validator.Validate(ctx, s1, apikey.LevelAdmin)
	require.ErrorIs(t, err, apikey.ErrInsufficientLevel)

	_, err = svc.validator.Validate(ctx, "wrong-secret", apikey.LevelCompletion)
	require.ErrorIs(t, err, apikey.ErrUnknownKey)
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	issued, err := svc.issuer.Issue(ctx, apikey.IssueRequest{
		UserID:      "user2",
		AccessLevel: apikey.LevelCompletion,
	})
	require.NoError(t, err)

	digest := issued.Record.SecretDigest
	require.NoError(t, svc.store.Revoke(ctx, "user2", digest))
	require.NoError(t, svc.store.Revoke(ctx, "user2", digest))

	for range 3 {
		_, err = svc.validator.Validate(ctx, issued.Secret.Reveal(), apikey.LevelCompletion)
		require.ErrorIs(t, err, apikey.ErrKeyRevoked)
	}

	// The record is retained for audit.
	rec, err := svc.store.FindByDigest(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, apikey.StatusRevoked, rec.Status)
}

func TestConcurrentRevokeAndValidate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	issued, err := svc.issuer.Issue(ctx, apikey.IssueRequest{
		UserID:      "user3",
		AccessLevel: apikey.LevelAdmin,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.store.Revoke(ctx, "user3", issued.Record.SecretDigest))
		}()
		go func() {
			defer wg.Done()
			_, err := svc.validator.Validate(ctx, issued.Secret.Reveal(), apikey.LevelCompletion)
			if err != nil {
				assert.ErrorIs(t, err, apikey.ErrKeyRevoked)
			}
		}()
	}
	wg.Wait()

	_, err = svc.validator.Validate(ctx, issued.Secret.Reveal(), apikey.LevelCompletion)
	require.ErrorIs(t, err, apikey.ErrKeyRevoked)
}

func TestIssueWithExpiry(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	past := time.Now().Add(-time.Second)
	issued, err := svc.issuer.Issue(ctx, apikey.IssueRequest{
		UserID:      "user1",
		AccessLevel: apikey.LevelCompletion,
		Expiry:      &past,
	})
	require.NoError(t, err)

	_, err = svc.validator.Validate(ctx, issued.Secret.Reveal(), apikey.LevelCompletion)
	require.ErrorIs(t, err, apikey.ErrKeyExpired)
}

func TestIssuedSecretsAreDistinct(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	seen := make(map[string]struct{})
	for range 100 {
		issued, err := svc.issuer.Issue(ctx, apikey.IssueRequest{
			UserID:      "bulk",
			AccessLevel: apikey.LevelCompletion,
		})
		require.NoError(t, err)
		_, dup := seen[issued.Secret.Reveal()]
		require.False(t, dup)
		seen[issued.Secret.Reveal()] = struct{}{}
	}
	assert.Equal(t, 100, svc.store.Len())
}
