package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// Length of the truncated signature embedded in QR payloads.
	Length = 16

	// MinSecretLength is the shortest accepted secret, in bytes.
	MinSecretLength = 32

	keyInfo = "parcelqr/qr-signature/v1"
)

var ErrWeakSecret = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)

var encoding = base64.RawURLEncoding

// Engine signs and verifies QR payload data with a key derived from a
// server-held secret. It is safe for concurrent use.
type Engine struct {
	key []byte
}

func New(secret []byte) (*Engine, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	return &Engine{key: key}, nil
}

// SignFull returns the untruncated base64url HMAC-SHA256 of data.
func (e *Engine) SignFull(data string) string {
	mac := hmac.New(sha256.New, e.key)
	mac.Write([]byte(data))
	return encoding.EncodeToString(mac.Sum(nil))
}

// Sign returns the truncated signature of data.
func (e *Engine) Sign(data string) string {
	return Truncate(e.SignFull(data))
}

// Verify reports whether sig is the truncated signature of data. The
// comparison runs in constant time.
func (e *Engine) Verify(data, sig string) bool {
	expected := e.Sign(data)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func Truncate(full string) string {
	if len(full) <= Length {
		return full
	}
	return full[:Length]
}

// IsWeakSecret reports whether err came from a too-short secret.
func IsWeakSecret(err error) bool {
	return errors.Is(err, ErrWeakSecret)
}
