// AngelaMos | 2026
// secret.go

package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// RefreshSecretBytes is the entropy of a refresh secret: 256 bits.
const RefreshSecretBytes = 32

// RandomURLToken returns n random bytes as unpadded URL-safe base64.
func RandomURLToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateRefreshToken returns a refresh secret. Only its digest is stored.
func GenerateRefreshToken() (string, error) {
	return RandomURLToken(RefreshSecretBytes)
}

// HashToken is the at-rest digest of a refresh secret: SHA-256, standard
// base64. It is deterministic so it doubles as the lookup key; the secret's
// entropy is what makes an unsalted digest safe here.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}
