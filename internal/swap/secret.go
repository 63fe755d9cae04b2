// Package swap - Secret and hashlock handling for atomic swaps.
package swap

import (
	"crypto/sha256"

	"github.com/sebastianpulido/crypto-swap/pkg/helpers"
)

// SecretSize is the length of a swap secret and of its SHA256 hash.
const SecretSize = 32

// GenerateSecretPair generates a cryptographically secure 32-byte secret
// and returns both the secret and its SHA256 hash. The hash is what both
// legs of a swap lock on; the secret stays with the initiator until claim.
func GenerateSecretPair() (secret, hash []byte, err error) {
	secret, err = helpers.GenerateSecureRandom(SecretSize)
	if err != nil {
		return nil, nil, err
	}

	hashArray := sha256.Sum256(secret)
	return secret, hashArray[:], nil
}

// HashSecret computes the SHA256 hash of a secret.
func HashSecret(secret []byte) []byte {
	hash := sha256.Sum256(secret)
	return hash[:]
}

// VerifySecret checks if a secret matches the expected hash.
// The comparison is constant-time to avoid leaking how many leading
// bytes of a guessed secret were correct.
func VerifySecret(secret, expectedHash []byte) bool {
	if len(secret) != SecretSize || len(expectedHash) != SecretSize {
		return false
	}
	actualHash := sha256.Sum256(secret)
	return helpers.ConstantTimeCompare(actualHash[:], expectedHash)
}
