//go:build integration

package mongo

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
)

var (
	client  *mongo.Client
	collSeq atomic.Int64
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		log.Fatalf("start mongodb: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate mongodb: %v", err)
		}
	}()

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}
	client, err = NewClient(ctx, uri)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	return m.Run()
}

// newStore returns a store over a fresh collection with indexes in place.
func newStore(t *testing.T) *APIKeyStore {
	t.Helper()

	coll := client.Database("apikeyd_test").Collection(fmt.Sprintf("api_keys_%d", collSeq.Add(1)))
	t.Cleanup(func() { _ = coll.Drop(context.Background()) })

	s := NewAPIKeyStore(coll)
	require.NoError(t, s.EnsureIndexes(context.Background()))
	return s
}

func newRecord(userID, plain string, created time.Time) *apikey.Record {
	return &apikey.Record{
		ID:           "id-" + plain,
		UserID:       userID,
		AccessLevel:  apikey.LevelCompletion,
		SecretDigest: secret.NewCodec().Digest(plain),
		Status:       apikey.StatusActive,
		CreatedAt:    created.UTC().Truncate(time.Millisecond),
	}
}

func TestAPIKeyStore_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	exp := time.Date(2124, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := newRecord("user3", "sk-find", time.Now())
	rec.DateExpiry = &exp
	rec.Comment = "seeded"
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.FindByDigest(ctx, rec.SecretDigest)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "user3", got.UserID)
	assert.Equal(t, apikey.LevelCompletion, got.AccessLevel)
	assert.Equal(t, apikey.StatusActive, got.Status)
	assert.Equal(t, "seeded", got.Comment)
	require.NotNil(t, got.DateExpiry)
	assert.True(t, exp.Equal(*got.DateExpiry))
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestAPIKeyStore_DuplicateDigest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Insert(ctx, newRecord("user1", "sk-dup", time.Now())))
	err := s.Insert(ctx, newRecord("user2", "sk-dup", time.Now()))
	require.ErrorIs(t, err, apikey.ErrDuplicateDigest)

	got, err := s.FindByDigest(ctx, secret.NewCodec().Digest("sk-dup"))
	require.NoError(t, err)
	assert.Equal(t, "user1", got.UserID)
}

func TestAPIKeyStore_ConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var (
		wg  sync.WaitGroup
		ok  atomic.Int32
		dup atomic.Int32
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Insert(ctx, newRecord(fmt.Sprintf("user%d", i), "sk-race", time.Now()))
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, apikey.ErrDuplicateDigest):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 7, dup.Load())
}

func TestAPIKeyStore_FindMissing(t *testing.T) {
	s := newStore(t)

	_, err := s.FindByDigest(context.Background(), secret.NewCodec().Digest("sk-missing"))
	require.ErrorIs(t, err, apikey.ErrNotFound)
}

func TestAPIKeyStore_Revoke(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec := newRecord("user2", "sk-revoke", time.Now())
	require.NoError(t, s.Insert(ctx, rec))

	require.ErrorIs(t, s.Revoke(ctx, "someone-else", rec.SecretDigest), apikey.ErrNotFound)
	got, err := s.FindByDigest(ctx, rec.SecretDigest)
	require.NoError(t, err)
	assert.Equal(t, apikey.StatusActive, got.Status)

	// The second call matches without modifying and still succeeds.
	require.NoError(t, s.Revoke(ctx, "user2", rec.SecretDigest))
	require.NoError(t, s.Revoke(ctx, "user2", rec.SecretDigest))

	got, err = s.FindByDigest(ctx, rec.SecretDigest)
	require.NoError(t, err)
	assert.Equal(t, apikey.StatusRevoked, got.Status)

	require.ErrorIs(t, s.Revoke(ctx, "user2", secret.NewCodec().Digest("sk-absent")), apikey.ErrNotFound)
}

func TestAPIKeyStore_List(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Now().Add(-time.Hour)
	var recs []*apikey.Record
	for i := range 5 {
		rec := newRecord("user", fmt.Sprintf("sk-list-%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Insert(ctx, rec))
		recs = append(recs, rec)
	}

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := range all {
		assert.Equal(t, recs[i].SecretDigest, all[i].SecretDigest, "oldest first")
	}

	target := recs[3].SecretDigest
	got, err := s.List(ctx, target[:12])
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, target, got[0].SecretDigest)

	got, err = s.List(ctx, target)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = s.List(ctx, ".*")
	require.Error(t, err)
}

func TestAPIKeyStore_EnsureIndexesIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.EnsureIndexes(ctx))
	require.NoError(t, s.Ping(ctx))
}
