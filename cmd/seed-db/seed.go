package main

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
)

type seedFile struct {
	Keys []seedKey `yaml:"keys"`
}

type seedKey struct {
	UserID       string  `yaml:"user_id"`
	AccessLevel  string  `yaml:"access_level"`
	DateExpiry   *string `yaml:"date_expiry"`
	SecretDigest string  `yaml:"secret_digest"`
	SecretEnv    string  `yaml:"secret_env"`
	Comment      string  `yaml:"comment"`
	// Optional entries are skipped when SecretEnv is unset.
	Optional bool `yaml:"optional"`
}

func parseSeed(data []byte) (*seedFile, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse seed file")
	}
	for i, k := range f.Keys {
		if strings.TrimSpace(k.UserID) == "" {
			return nil, errors.Errorf("key %d: user_id is required", i)
		}
		if (k.SecretDigest == "") == (k.SecretEnv == "") {
			return nil, errors.Errorf("key %d (%s): set exactly one of secret_digest and secret_env", i, k.UserID)
		}
		if k.SecretDigest != "" && !secret.IsDigest(k.SecretDigest) {
			return nil, errors.Errorf("key %d (%s): secret_digest must be 64 lowercase hex characters", i, k.UserID)
		}
	}
	return &f, nil
}

type seeder struct {
	lg     *zap.Logger
	store  apikey.Store
	codec  apikey.Codec
	policy *apikey.Policy
	getenv func(string) string
	now    func() time.Time
}

// apply inserts every entry whose digest is not stored yet.
func (s *seeder) apply(ctx context.Context, f *seedFile) error {
	now := time.Now
	if s.now != nil {
		now = s.now
	}

	var inserted, skipped int
	for _, k := range f.Keys {
		rec, err := s.record(k, now().UTC())
		if err != nil {
			return err
		}
		if rec == nil {
			s.lg.Info("Skipping optional key", zap.String("user_id", k.UserID), zap.String("env", k.SecretEnv))
			skipped++
			continue
		}

		switch err := s.store.Insert(ctx, rec); {
		case err == nil:
			s.lg.Info("Seeded key",
				zap.String("user_id", rec.UserID),
				zap.String("access_level", string(rec.AccessLevel)),
				zap.String("digest_prefix", rec.DigestPrefix()),
			)
			inserted++
		case errors.Is(err, apikey.ErrDuplicateDigest):
			s.lg.Info("Key already present", zap.String("digest_prefix", rec.DigestPrefix()))
			skipped++
		default:
			return errors.Wrapf(err, "insert key for %s", rec.UserID)
		}
	}

	s.lg.Info("Seed applied", zap.Int("inserted", inserted), zap.Int("skipped", skipped))
	return nil
}

// record builds the stored record for k, or returns nil for an optional
// entry whose secret is not provided.
func (s *seeder) record(k seedKey, now time.Time) (*apikey.Record, error) {
	digest := k.SecretDigest
	if k.SecretEnv != "" {
		plain := s.getenv(k.SecretEnv)
		if plain == "" {
			if k.Optional {
				return nil, nil
			}
			return nil, errors.Errorf("%s: environment variable %s is empty", k.UserID, k.SecretEnv)
		}
		digest = s.codec.Digest(plain)
	}

	level := apikey.AccessLevel(k.AccessLevel)
	if level == "" {
		level = apikey.LevelCompletion
	}
	if !s.policy.Known(level) {
		return nil, errors.Wrapf(apikey.ErrUnknownAccessLevel, "%s: %q", k.UserID, level)
	}

	var expiry *time.Time
	if k.DateExpiry != nil {
		switch v := strings.TrimSpace(*k.DateExpiry); v {
		case "", "null":
		case "now":
			expiry = &now
		default:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: date_expiry", k.UserID)
			}
			t = t.UTC()
			expiry = &t
		}
	}

	return &apikey.Record{
		ID:           uuid.New().String(),
		UserID:       strings.TrimSpace(k.UserID),
		AccessLevel:  level,
		SecretDigest: digest,
		Comment:      k.Comment,
		DateExpiry:   expiry,
		Status:       apikey.StatusActive,
		CreatedAt:    now,
	}, nil
}
