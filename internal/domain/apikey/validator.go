package apikey

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// decoyDigest is verified against when a lookup misses so that unknown keys
// cost the same hashing work as known ones.
var decoyDigest = strings.Repeat("0", 64)

// Outcome labels for misses and store failures, alongside Decision.String.
const (
	OutcomeDenyUnknown      = "deny_unknown"
	OutcomeStoreUnavailable = "store_unavailable"
)

// Principal is the identity a validated key acts for.
type Principal struct {
	KeyID       string
	UserID      string
	AccessLevel AccessLevel
}

// Validator verifies presented secrets at request time.
type Validator struct {
	store   Store
	codec   Codec
	policy  *Policy
	timeout time.Duration
	now     func() time.Time

	validations metric.Int64Counter
	duration    metric.Float64Histogram
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*validatorOptions)

type validatorOptions struct {
	timeout       time.Duration
	meterProvider metric.MeterProvider
}

// WithValidatorTimeout bounds the store lookup.
func WithValidatorTimeout(d time.Duration) ValidatorOption {
	return func(o *validatorOptions) {
		o.timeout = d
	}
}

// WithMeterProvider records validation metrics through mp.
func WithMeterProvider(mp metric.MeterProvider) ValidatorOption {
	return func(o *validatorOptions) {
		o.meterProvider = mp
	}
}

// NewValidator creates a Validator.
func NewValidator(store Store, codec Codec, policy *Policy, opts ...ValidatorOption) (*Validator, error) {
	o := validatorOptions{meterProvider: noop.NewMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter("github.com/xenking/apikeyd/internal/domain/apikey")
	validations, err := meter.Int64Counter("apikey.validations",
		metric.WithDescription("API key validations by decision"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validations counter")
	}
	duration, err := meter.Float64Histogram("apikey.validation.duration",
		metric.WithDescription("API key validation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}

	return &Validator{
		store:       store,
		codec:       codec,
		policy:      policy,
		timeout:     o.timeout,
		now:         time.Now,
		validations: validations,
		duration:    duration,
	}, nil
}

// Validate resolves the presented secret and checks it against requested.
// Failures are one of ErrUnknownKey, ErrKeyRevoked, ErrKeyExpired,
// ErrInsufficientLevel or ErrStoreUnavailable; nothing else about the key is
// disclosed.
func (v *Validator) Validate(ctx context.Context, presented string, requested AccessLevel) (*Principal, error) {
	start := time.Now()
	p, outcome, err := v.validate(ctx, presented, requested)
	v.record(ctx, outcome, time.Since(start))
	return p, err
}

func (v *Validator) validate(ctx context.Context, presented string, requested AccessLevel) (*Principal, string, error) {
	if presented == "" {
		return nil, OutcomeDenyUnknown, ErrUnknownKey
	}

	digest := v.codec.Digest(presented)

	rec, err := v.find(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			v.codec.Verify(presented, decoyDigest)
			return nil, OutcomeDenyUnknown, ErrUnknownKey
		}
		return nil, OutcomeStoreUnavailable, storeUnavailable(err)
	}

	if !v.codec.Verify(presented, rec.SecretDigest) {
		return nil, OutcomeDenyUnknown, ErrUnknownKey
	}

	decision := v.policy.Authorize(rec, requested, v.now())
	switch decision {
	case Allow:
		return &Principal{
			KeyID:       rec.ID,
			UserID:      rec.UserID,
			AccessLevel: rec.AccessLevel,
		}, decision.String(), nil
	case DenyRevoked:
		return nil, decision.String(), ErrKeyRevoked
	case DenyExpired:
		return nil, decision.String(), ErrKeyExpired
	default:
		return nil, decision.String(), ErrInsufficientLevel
	}
}

func (v *Validator) find(ctx context.Context, digest string) (*Record, error) {
	ctx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()
	return v.store.FindByDigest(ctx, digest)
}

func (v *Validator) record(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("decision", outcome))
	v.validations.Add(ctx, 1, attrs)
	v.duration.Record(ctx, d.Seconds(), attrs)
}
