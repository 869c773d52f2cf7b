package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/apikeyd/internal/domain/apikey"
)

func newRecord(user, digest string, created time.Time) *apikey.Record {
	return &apikey.Record{
		ID:           user + "-" + digest,
		UserID:       user,
		AccessLevel:  apikey.LevelCompletion,
		SecretDigest: digest,
		Status:       apikey.StatusActive,
		CreatedAt:    created,
	}
}

func TestAPIKeyStore_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewAPIKeyStore()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, newRecord("user1", "aa", now)))
	require.ErrorIs(t, s.Insert(ctx, newRecord("user2", "aa", now)), apikey.ErrDuplicateDigest)
	assert.Equal(t, 1, s.Len())

	got, err := s.FindByDigest(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, "user1", got.UserID)
}

func TestAPIKeyStore_ConcurrentInsertSameDigest(t *testing.T) {
	ctx := context.Background()
	s := NewAPIKeyStore()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Insert(ctx, newRecord("u", "same", time.Now())); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, s.Len())
}

func TestAPIKeyStore_FindReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewAPIKeyStore()
	exp := time.Now().Add(time.Hour)
	r := newRecord("user1", "aa", time.Now())
	r.DateExpiry = &exp
	require.NoError(t, s.Insert(ctx, r))

	got, err := s.FindByDigest(ctx, "aa")
	require.NoError(t, err)
	got.Status = apikey.StatusRevoked
	*got.DateExpiry = time.Time{}

	again, err := s.FindByDigest(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, apikey.StatusActive, again.Status)
	assert.True(t, exp.Equal(*again.DateExpiry))
}

func TestAPIKeyStore_Revoke(t *testing.T) {
	ctx := context.Background()
	s := NewAPIKeyStore()
	require.NoError(t, s.Insert(ctx, newRecord("user1", "aa", time.Now())))

	require.ErrorIs(t, s.Revoke(ctx, "user2", "aa"), apikey.ErrNotFound)
	require.ErrorIs(t, s.Revoke(ctx, "user1", "bb"), apikey.ErrNotFound)

	require.NoError(t, s.Revoke(ctx, "user1", "aa"))
	require.NoError(t, s.Revoke(ctx, "user1", "aa"))

	got, err := s.FindByDigest(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, apikey.StatusRevoked, got.Status)
}

func TestAPIKeyStore_ListPrefixOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewAPIKeyStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, newRecord("u2", "ab02", base.Add(time.Minute))))
	require.NoError(t, s.Insert(ctx, newRecord("u1", "ab01", base)))
	require.NoError(t, s.Insert(ctx, newRecord("u3", "cd01", base)))

	got, err := s.List(ctx, "ab")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "u2", got[1].UserID)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAPIKeyStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewAPIKeyStore()
	require.ErrorIs(t, s.Insert(ctx, newRecord("u", "aa", time.Now())), context.Canceled)
	_, err := s.FindByDigest(ctx, "aa")
	require.ErrorIs(t, err, context.Canceled)
}
