package qrtoken

import (
	"errors"
	"strings"

	"parcelqr/pkg/qrcodec"

	"gorm.io/gorm"
)

var (
	ErrMalformedPayload  = qrcodec.ErrMalformedPayload
	ErrSignatureMismatch = errors.New("qr signature mismatch")
	ErrTokenNotFound     = errors.New("qr token not found")
	ErrTokenRevoked      = errors.New("qr token revoked")
	ErrTokenExpired      = errors.New("qr token expired")
	ErrSubjectNotFound   = errors.New("qr subject not found")
	ErrRateLimitExceeded = errors.New("qr verification rate limit exceeded")

	ErrInvalidValidity = errors.New("validity hours must not be negative")
	ErrMissingSubject  = errors.New("subject reference is required")
	ErrParcelNotFinal  = errors.New("parcel must be validated and locked before its final qr is issued")
	ErrIssueContention = errors.New("could not issue token: concurrent issuance kept conflicting")
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
