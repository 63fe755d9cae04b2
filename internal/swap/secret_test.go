package swap

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestGenerateSecretPair(t *testing.T) {
	secret, hash, err := GenerateSecretPair()
	if err != nil {
		t.Fatalf("GenerateSecretPair() failed: %v", err)
	}
	if len(secret) != SecretSize {
		t.Errorf("secret length = %d, want %d", len(secret), SecretSize)
	}
	if len(hash) != SecretSize {
		t.Errorf("hash length = %d, want %d", len(hash), SecretSize)
	}

	expected := sha256.Sum256(secret)
	if !bytes.Equal(hash, expected[:]) {
		t.Error("hash is not SHA256(secret)")
	}

	// Two draws must differ.
	secret2, _, err := GenerateSecretPair()
	if err != nil {
		t.Fatalf("GenerateSecretPair() failed: %v", err)
	}
	if bytes.Equal(secret, secret2) {
		t.Error("two generated secrets should not be equal")
	}
}

func TestVerifySecret(t *testing.T) {
	secret, hash, err := GenerateSecretPair()
	if err != nil {
		t.Fatalf("GenerateSecretPair() failed: %v", err)
	}

	if !VerifySecret(secret, hash) {
		t.Error("VerifySecret(s, H(s)) should be true")
	}

	wrong := make([]byte, SecretSize)
	copy(wrong, secret)
	wrong[0] ^= 0xff
	if VerifySecret(wrong, hash) {
		t.Error("VerifySecret with wrong secret should be false")
	}

	if VerifySecret(secret[:31], hash) {
		t.Error("short secret should be false")
	}
	if VerifySecret(secret, hash[:31]) {
		t.Error("short hash should be false")
	}
}

func TestHashSecret(t *testing.T) {
	secret := make([]byte, SecretSize)
	for i := range secret {
		secret[i] = byte(i)
	}
	want := sha256.Sum256(secret)
	if !bytes.Equal(HashSecret(secret), want[:]) {
		t.Error("HashSecret mismatch")
	}
}
