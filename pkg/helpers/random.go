package helpers

import (
	"crypto/rand"
	"crypto/subtle"
)

// GenerateSecureRandom returns n bytes from the system CSPRNG.
func GenerateSecureRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ConstantTimeCompare reports whether a and b are equal without leaking
// where they differ.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
