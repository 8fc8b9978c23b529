// Package token encodes, signs and verifies the capability tokens exchanged
// as QR payloads: patient identity tokens, authorization-request tokens and
// prescription tokens. The codec is stateless and safe for concurrent use;
// the signing primitive is injected so deployments can choose HMAC or an
// asymmetric scheme without touching the wire format.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/medigrant/medigrant/internal/platform/crypto"
)

var (
	// ErrInvalidPayload indicates a malformed token or missing required fields.
	ErrInvalidPayload = errors.New("invalid token payload")

	// ErrSignatureMismatch indicates the signature does not cover the payload.
	ErrSignatureMismatch = errors.New("token signature mismatch")

	// ErrTokenExpired indicates the token's own expiresAt has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenKindMismatch indicates a token of the wrong kind was presented.
	ErrTokenKindMismatch = errors.New("token kind mismatch")

	// ErrCryptoUnavailable indicates the secure random source or signer
	// failed. It matches crypto.ErrUnavailable so callers can test either.
	ErrCryptoUnavailable = crypto.ErrUnavailable
)

// ClockSkewTolerance is how far past expiresAt a token is still accepted,
// covering clock drift between issuer and verifier. Exported so consumers
// enforcing single-use semantics can size their guard windows to the full
// acceptance window, not just the nominal TTL.
const ClockSkewTolerance = 60 * time.Second

// stalenessAge is the age past which a structurally valid token triggers a
// warning log. Expiry itself is governed solely by expiresAt.
const stalenessAge = 24 * time.Hour

// envelope is the signed wire form. The signature covers the canonical JSON
// serialization of the envelope with Signature cleared.
type envelope struct {
	Type      Kind            `json:"type"`
	Version   string          `json:"version"`
	KeyID     string          `json:"kid,omitempty"`
	IssuedAt  time.Time       `json:"issuedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"sig,omitempty"`
}

// Codec signs and verifies capability tokens.
type Codec struct {
	signer crypto.Signer
	logger zerolog.Logger
	now    func() time.Time
	random io.Reader
}

// NewCodec creates a codec around the injected signer.
func NewCodec(signer crypto.Signer, logger zerolog.Logger) *Codec {
	return &Codec{
		signer: signer,
		logger: logger,
		now:    time.Now,
		random: rand.Reader,
	}
}

// Encode serializes the payload with issuedAt = now and
// expiresAt = now + ttl, signs the canonical serialization and returns an
// opaque, QR-encodable string.
func (c *Codec) Encode(p payload, kind Kind, ttl time.Duration) (string, error) {
	if err := p.validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive", ErrInvalidPayload)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", ErrInvalidPayload, err)
	}

	now := c.now().UTC().Truncate(time.Second)
	env := envelope{
		Type:      kind,
		Version:   Version,
		KeyID:     c.signer.KeyID(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Payload:   raw,
	}

	canonical, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: marshal envelope: %v", ErrInvalidPayload, err)
	}

	sig, err := c.signer.Sign(canonical)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	env.Signature = base64.RawURLEncoding.EncodeToString(sig)

	signed, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: marshal signed envelope: %v", ErrInvalidPayload, err)
	}
	return base64.RawURLEncoding.EncodeToString(signed), nil
}

// Decode verifies the token and unmarshals its payload into dst. Checks run
// in a fixed order: signature first, then kind, then expiry (with clock-skew
// tolerance), then required payload fields. There is no partial decoding; on
// any failure dst must not be trusted.
func (c *Codec) Decode(tok string, expected Kind, dst payload) error {
	data, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return fmt.Errorf("%w: not base64url", ErrInvalidPayload)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: not a token envelope", ErrInvalidPayload)
	}
	if env.Signature == "" {
		return fmt.Errorf("%w: unsigned token", ErrSignatureMismatch)
	}

	sig, err := base64.RawURLEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrSignatureMismatch)
	}

	unsigned := env
	unsigned.Signature = ""
	canonical, err := json.Marshal(unsigned)
	if err != nil {
		return fmt.Errorf("%w: canonicalize envelope: %v", ErrInvalidPayload, err)
	}
	if !c.signer.Verify(canonical, sig) {
		return ErrSignatureMismatch
	}

	if env.Type != expected {
		return fmt.Errorf("%w: got %q, expected %q", ErrTokenKindMismatch, env.Type, expected)
	}

	if env.IssuedAt.IsZero() || env.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing issuedAt/expiresAt", ErrInvalidPayload)
	}
	now := c.now()
	if now.After(env.ExpiresAt.Add(ClockSkewTolerance)) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, env.ExpiresAt.Format(time.RFC3339))
	}

	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := dst.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if age := now.Sub(env.IssuedAt); age > stalenessAge {
		c.logger.Warn().
			Str("kind", string(env.Type)).
			Dur("age", age).
			Time("issued_at", env.IssuedAt).
			Msg("accepted stale capability token")
	}

	return nil
}

// OpaqueToken is a short-lived bearer handle unrelated to QR rendering.
type OpaqueToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateOpaqueToken returns a 64-hex-character bearer token drawn from the
// secure random source. A failing source is surfaced as ErrCryptoUnavailable;
// there is no weaker fallback.
func (c *Codec) GenerateOpaqueToken(ttl time.Duration) (OpaqueToken, error) {
	if ttl <= 0 {
		return OpaqueToken{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidPayload)
	}
	b := make([]byte, 32)
	if _, err := io.ReadFull(c.random, b); err != nil {
		return OpaqueToken{}, fmt.Errorf("%w: secure random source: %v", ErrCryptoUnavailable, err)
	}
	return OpaqueToken{
		Token:     hex.EncodeToString(b),
		ExpiresAt: c.now().Add(ttl),
	}, nil
}
