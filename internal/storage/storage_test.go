package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/apikeyd/internal/domain/apikey"
)

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "Memory", cfg: Config{Driver: DriverMemory}},
		{name: "Postgres", cfg: Config{Driver: DriverPostgres, DatabaseURL: "postgres://localhost/db"}},
		{name: "PostgresMissingURL", cfg: Config{Driver: DriverPostgres}, wantErr: "database URL is required"},
		{name: "RedisMissingURL", cfg: Config{Driver: DriverRedis}, wantErr: "redis URL is required"},
		{name: "MongoMissingURI", cfg: Config{Driver: DriverMongo}, wantErr: "mongo URI is required"},
		{name: "Unknown", cfg: Config{Driver: "sqlite"}, wantErr: `unknown store driver "sqlite"`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()

	h, err := Open(ctx, zaptest.NewLogger(t), Config{Driver: DriverMemory})
	require.NoError(t, err)
	require.NoError(t, h.Store.Ping(ctx))
	require.NoError(t, h.Close(ctx))
}

func TestOpen_Redis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	h, err := Open(ctx, zaptest.NewLogger(t), Config{
		Driver:   DriverRedis,
		RedisURL: "redis://" + mr.Addr(),
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, h.Close(ctx)) }()

	_, err = h.Store.FindByDigest(ctx, "00")
	require.ErrorIs(t, err, apikey.ErrNotFound)
}
