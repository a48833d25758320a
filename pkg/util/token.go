package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// GenerateToken returns n random bytes as unpadded base64url.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateVerificationCode returns 8 random bytes as lowercase hex.
func GenerateVerificationCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
