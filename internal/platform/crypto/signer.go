// Package crypto provides the signing and field-encryption primitives
// consumed by the capability-token codec and the identity repositories.
// Signers are injected at construction; nothing here is process-global.
package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrUnavailable indicates the signing primitive cannot operate, typically
// because key material is missing or malformed.
var ErrUnavailable = errors.New("crypto unavailable")

// Signer signs and verifies canonical byte serializations. Implementations
// must be safe for concurrent use.
type Signer interface {
	// Sign returns a signature over data.
	Sign(data []byte) ([]byte, error)

	// Verify reports whether sig is a valid signature over data. The
	// comparison must not leak timing information.
	Verify(data, sig []byte) bool

	// KeyID identifies the key in use, allowing rotation without changing
	// the token format.
	KeyID() string
}

// HMACSigner is an HMAC-SHA256 Signer for deployments with a shared secret.
type HMACSigner struct {
	key   []byte
	keyID string
}

// NewHMACSigner creates an HMAC-SHA256 signer. The key must be at least
// 32 bytes.
func NewHMACSigner(key []byte, keyID string) (*HMACSigner, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("%w: hmac key must be at least 32 bytes, got %d", ErrUnavailable, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACSigner{key: k, keyID: keyID}, nil
}

func (s *HMACSigner) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (s *HMACSigner) Verify(data, sig []byte) bool {
	expected, err := s.Sign(data)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sig)
}

func (s *HMACSigner) KeyID() string { return s.keyID }

// Ed25519Signer is an asymmetric Signer; verification needs only the public
// key, so verify-only instances can be distributed to consuming parties.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// NewEd25519Signer creates a signer from a private key.
func NewEd25519Signer(priv ed25519.PrivateKey, keyID string) (*Ed25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: invalid ed25519 private key size %d", ErrUnavailable, len(priv))
	}
	return &Ed25519Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
	}, nil
}

// NewEd25519Verifier creates a verify-only instance. Sign fails.
func NewEd25519Verifier(pub ed25519.PublicKey, keyID string) (*Ed25519Signer, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: invalid ed25519 public key size %d", ErrUnavailable, len(pub))
	}
	return &Ed25519Signer{pub: pub, keyID: keyID}, nil
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	if s.priv == nil {
		return nil, fmt.Errorf("%w: signer holds no private key", ErrUnavailable)
	}
	return ed25519.Sign(s.priv, data), nil
}

func (s *Ed25519Signer) Verify(data, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(s.pub, data, sig)
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }
