package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xenking/apikeyd/internal/secret"
)

func seedRecord(t *testing.T, store *mockStore, codec Codec, plain string, rec Record) {
	t.Helper()
	rec.SecretDigest = codec.Digest(plain)
	if rec.Status == "" {
		rec.Status = StatusActive
	}
	store.records[rec.SecretDigest] = rec
}

func TestValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-time.Minute)
	future := fixedNow.Add(time.Minute)

	codec := secret.NewCodec()

	tests := []struct {
		name      string
		rec       *Record
		presented string
		requested AccessLevel
		want      *Principal
		wantErr   error
	}{
		{
			name:      "active key with requested level",
			rec:       &Record{ID: "k1", UserID: "user2", AccessLevel: LevelCompletion},
			presented: "sk-test-2",
			requested: LevelCompletion,
			want:      &Principal{KeyID: "k1", UserID: "user2", AccessLevel: LevelCompletion},
		},
		{
			name:      "admin key used for completion",
			rec:       &Record{ID: "k2", UserID: "ops", AccessLevel: LevelAdmin},
			presented: "admin-token",
			requested: LevelCompletion,
			want:      &Principal{KeyID: "k2", UserID: "ops", AccessLevel: LevelAdmin},
		},
		{
			name:      "unknown secret",
			presented: "wrong-secret",
			requested: LevelCompletion,
			wantErr:   ErrUnknownKey,
		},
		{
			name:      "empty secret",
			presented: "",
			requested: LevelCompletion,
			wantErr:   ErrUnknownKey,
		},
		{
			name:      "expired key",
			rec:       &Record{ID: "k3", UserID: "user1", AccessLevel: LevelCompletion, DateExpiry: &past},
			presented: "sk-test-1",
			requested: LevelCompletion,
			wantErr:   ErrKeyExpired,
		},
		{
			name:      "expires at the current instant",
			rec:       &Record{ID: "k4", UserID: "user1", AccessLevel: LevelCompletion, DateExpiry: &fixedNow},
			presented: "sk-test-1",
			requested: LevelCompletion,
			wantErr:   ErrKeyExpired,
		},
		{
			name:      "not yet expired",
			rec:       &Record{ID: "k5", UserID: "user3", AccessLevel: LevelCompletion, DateExpiry: &future},
			presented: "sk-test-3",
			requested: LevelCompletion,
			want:      &Principal{KeyID: "k5", UserID: "user3", AccessLevel: LevelCompletion},
		},
		{
			name:      "revoked key",
			rec:       &Record{ID: "k6", UserID: "user1", AccessLevel: LevelCompletion, Status: StatusRevoked},
			presented: "sk-test-1",
			requested: LevelCompletion,
			wantErr:   ErrKeyRevoked,
		},
		{
			name:      "insufficient level",
			rec:       &Record{ID: "k7", UserID: "user1", AccessLevel: LevelCompletion},
			presented: "sk-test-1",
			requested: LevelAdmin,
			wantErr:   ErrInsufficientLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			if tt.rec != nil {
				seedRecord(t, store, codec, tt.presented, *tt.rec)
			}

			v, err := NewValidator(store, codec, DefaultPolicy())
			require.NoError(t, err)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), tt.presented, tt.requested)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidator_StoreUnavailable(t *testing.T) {
	store := newMockStore()
	store.findErr = errors.Wrap(context.DeadlineExceeded, "query")

	v, err := NewValidator(store, secret.NewCodec(), DefaultPolicy(), WithValidatorTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), "sk-test-1", LevelCompletion)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, store.deadline)
}

func TestValidator_StoredDigestMismatch(t *testing.T) {
	// A store returning the wrong row must not authorize the caller.
	codec := secret.NewCodec()
	store := newMockStore()
	store.records[codec.Digest("sk-test-1")] = Record{
		UserID:       "user2",
		AccessLevel:  LevelCompletion,
		SecretDigest: codec.Digest("sk-test-2"),
		Status:       StatusActive,
	}

	v, err := NewValidator(store, codec, DefaultPolicy())
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), "sk-test-1", LevelCompletion)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestValidator_UnknownKeyDoesSameHashingWork(t *testing.T) {
	store := newMockStore()
	codec := newScriptedCodec()
	seedRecord(t, store, codec.Codec, "sk-test-2", Record{UserID: "user2", AccessLevel: LevelCompletion})

	v, err := NewValidator(store, codec, DefaultPolicy())
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), "sk-test-2", LevelCompletion)
	require.NoError(t, err)
	knownDigests, knownVerify := codec.digests, codec.verify

	codec.digests, codec.verify = 0, 0
	_, err = v.Validate(context.Background(), "nope", LevelCompletion)
	require.ErrorIs(t, err, ErrUnknownKey)

	assert.Equal(t, knownDigests, codec.digests)
	assert.Equal(t, knownVerify, codec.verify)
}

func TestValidator_RecordsMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	codec := secret.NewCodec()
	store := newMockStore()
	seedRecord(t, store, codec, "sk-test-2", Record{UserID: "user2", AccessLevel: LevelCompletion})

	v, err := NewValidator(store, codec, DefaultPolicy(), WithMeterProvider(mp))
	require.NoError(t, err)

	_, _ = v.Validate(context.Background(), "sk-test-2", LevelCompletion)
	_, _ = v.Validate(context.Background(), "sk-test-2", LevelAdmin)
	_, _ = v.Validate(context.Background(), "missing", LevelCompletion)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "apikey.validations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				d, _ := dp.Attributes.Value("decision")
				counts[d.AsString()] += dp.Value
			}
		}
	}

	assert.Equal(t, map[string]int64{
		"allow":                   1,
		"deny_insufficient_level": 1,
		"deny_unknown":            1,
	}, counts)
}
