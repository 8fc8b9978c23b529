package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) *FieldCipher {
	t.Helper()
	c, err := NewFieldCipher(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestFieldCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{"", "+15550100", "ana@example.com"} {
		enc, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if enc == plaintext && plaintext != "" {
			t.Errorf("ciphertext equals plaintext for %q", plaintext)
		}
		dec, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if dec != plaintext {
			t.Errorf("round trip: got %q, want %q", dec, plaintext)
		}
	}
}

func TestFieldCipher_RejectsShortKey(t *testing.T) {
	if _, err := NewFieldCipher([]byte("too-short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestFieldCipher_RejectsTamperedCiphertext(t *testing.T) {
	c := newTestCipher(t)
	enc, err := c.Encrypt("+15550100")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := []byte(enc)
	tampered[len(tampered)-5] ^= 1
	if _, err := c.Decrypt(string(tampered)); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}

func TestFieldCipher_CiphertextExceedsFixedWidthColumns(t *testing.T) {
	c := newTestCipher(t)

	// Nonce + tag + base64 expansion push even short contact values well
	// past a VARCHAR(64); storage columns for encrypted fields must be TEXT.
	phone := "+1 (555) 010-0199 ext 42"
	enc, err := c.Encrypt(phone)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(enc) <= 64 {
		t.Errorf("ciphertext of %d-char phone is %d chars; fixed-width assumption would mask truncation", len(phone), len(enc))
	}
	if !strings.HasSuffix(enc, "=") && len(enc)%4 != 0 {
		t.Errorf("ciphertext is not standard base64: %q", enc)
	}
}
