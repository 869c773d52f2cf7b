// Package secret generates API key secrets and computes their one-way digests.
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/go-faster/errors"
)

const (
	// EntropyBytes is the number of random bytes behind every generated secret.
	EntropyBytes = 32
	// DigestLen is the length of a hex-encoded digest.
	DigestLen = 2 * sha256.Size
)

const redacted = "[REDACTED]"

// Plaintext is a secret in its presentable form. It is returned to the caller
// once at issuance and never stored. All formatting paths print a redaction
// marker; use Reveal to obtain the value.
type Plaintext struct {
	v string
}

// Reveal returns the raw secret.
func (p Plaintext) Reveal() string { return p.v }

// IsZero reports whether p holds no secret.
func (p Plaintext) IsZero() bool { return p.v == "" }

func (p Plaintext) String() string   { return redacted }
func (p Plaintext) GoString() string { return redacted }

// Format implements fmt.Formatter so that %v, %s, %q and %+v all redact.
func (p Plaintext) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// MarshalText keeps the secret out of text and JSON encoders.
func (p Plaintext) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Codec produces secrets and their digests. With an empty pepper the digest
// is plain SHA-256, otherwise HMAC-SHA256 keyed with the pepper.
type Codec struct {
	pepper []byte
	prefix string
	rand   io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithPepper keys the digest with an HMAC pepper.
func WithPepper(pepper []byte) Option {
	return func(c *Codec) {
		c.pepper = pepper
	}
}

// WithPrefix prepends a fixed, human-recognisable prefix to generated secrets.
func WithPrefix(prefix string) Option {
	return func(c *Codec) {
		c.prefix = prefix
	}
}

// WithRand replaces the entropy source. Intended for tests.
func WithRand(r io.Reader) Option {
	return func(c *Codec) {
		c.rand = r
	}
}

// NewCodec creates a Codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns a new random secret. The token length is fixed for a
// given prefix: len(prefix) + 43 characters of unpadded base64url.
func (c *Codec) Generate() (Plaintext, error) {
	buf := make([]byte, EntropyBytes)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return Plaintext{}, errors.Wrap(err, "read entropy")
	}
	return Plaintext{v: c.prefix + base64.RawURLEncoding.EncodeToString(buf)}, nil
}

// Digest returns the lowercase hex digest of secret.
func (c *Codec) Digest(secret string) string {
	sum := c.sum(secret)
	return hex.EncodeToString(sum)
}

// Verify reports whether digest was computed from secret. The comparison runs
// in constant time regardless of where the first mismatch occurs.
func (c *Codec) Verify(secret, digest string) bool {
	sum := c.sum(secret)

	want, err := hex.DecodeString(digest)
	if err != nil || len(want) != len(sum) {
		// Keep the work comparable to the happy path.
		subtle.ConstantTimeCompare(sum, make([]byte, len(sum)))
		return false
	}

	return subtle.ConstantTimeCompare(sum, want) == 1
}

func (c *Codec) sum(secret string) []byte {
	if len(c.pepper) == 0 {
		h := sha256.Sum256([]byte(secret))
		return h[:]
	}
	mac := hmac.New(sha256.New, c.pepper)
	mac.Write([]byte(secret))
	return mac.Sum(nil)
}

// IsDigest reports whether s has the shape of a digest produced by Digest.
func IsDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	return IsDigestPrefix(s)
}

// IsDigestPrefix reports whether s consists only of lowercase hex characters.
func IsDigestPrefix(s string) bool {
	for i := range len(s) {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}
