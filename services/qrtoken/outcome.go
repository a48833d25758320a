package qrtoken

import (
	"time"
)

type Status string

const (
	StatusValid             Status = "VALID"
	StatusTokenNotFound     Status = "TOKEN_NOT_FOUND"
	StatusTokenRevoked      Status = "TOKEN_REVOKED"
	StatusTokenExpired      Status = "TOKEN_EXPIRED"
	StatusSignatureInvalid  Status = "SIGNATURE_INVALID"
	StatusParcelNotFound    Status = "PARCEL_NOT_FOUND"
	StatusPickupNotFound    Status = "PICKUP_NOT_FOUND"
	StatusRateLimitExceeded Status = "RATE_LIMIT_EXCEEDED"
	StatusVerificationError Status = "VERIFICATION_ERROR"
)

// Cause maps a failure status to its error taxonomy sentinel.
func (s Status) Cause() error {
	switch s {
	case StatusTokenNotFound:
		return ErrTokenNotFound
	case StatusTokenRevoked:
		return ErrTokenRevoked
	case StatusTokenExpired:
		return ErrTokenExpired
	case StatusSignatureInvalid:
		return ErrSignatureMismatch
	case StatusParcelNotFound, StatusPickupNotFound:
		return ErrSubjectNotFound
	case StatusRateLimitExceeded:
		return ErrRateLimitExceeded
	case StatusVerificationError:
		return ErrMalformedPayload
	default:
		return nil
	}
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

const (
	CodeInvalidFormat      = "QR_INVALID_FORMAT"
	CodeUnsupportedVersion = "QR_UNSUPPORTED_VERSION"
	CodeSignatureInvalid   = "QR_SIGNATURE_INVALID"
	CodeTokenNotFound      = "QR_TOKEN_NOT_FOUND"
	CodeTokenRevoked       = "QR_TOKEN_REVOKED"
	CodeTokenExpired       = "QR_TOKEN_EXPIRED"
	CodeRateLimitExceeded  = "QR_RATE_LIMIT_EXCEEDED"
	CodeParcelNotFound     = "PARCEL_NOT_FOUND"
	CodePickupNotFound     = "PICKUP_NOT_FOUND"
	CodeVerificationError  = "QR_VERIFICATION_ERROR"
)

type TokenInfo struct {
	ID                string     `json:"id"`
	Type              TokenType  `json:"type"`
	TrackingRef       string     `json:"tracking_ref"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	VerificationCount int64      `json:"verification_count"`
}

// Outcome is the classified result of one verification call.
type Outcome struct {
	Valid             bool       `json:"valid"`
	Status            Status     `json:"status"`
	ErrorCode         string     `json:"error_code,omitempty"`
	Message           string     `json:"message"`
	TamperingDetected bool       `json:"tampering_detected"`
	RiskLevel         RiskLevel  `json:"risk_level"`
	VerifiedAt        time.Time  `json:"verified_at"`
	Token             *TokenInfo `json:"token,omitempty"`
	Subject           *Subject   `json:"subject,omitempty"`
}

func failure(status Status, code, message string, tampering bool) *Outcome {
	return &Outcome{
		Status:            status,
		ErrorCode:         code,
		Message:           message,
		TamperingDetected: tampering,
	}
}

func tokenInfo(row *VerificationToken) *TokenInfo {
	return &TokenInfo{
		ID:                row.ID,
		Type:              row.TokenType,
		TrackingRef:       row.TrackingRef,
		IssuedAt:          row.IssuedAt,
		ExpiresAt:         row.ExpiresAt,
		VerificationCount: row.VerificationCount,
	}
}

func riskLevel(o *Outcome) RiskLevel {
	switch {
	case o.Valid:
		return RiskLow
	case o.TamperingDetected:
		return RiskHigh
	default:
		return RiskMedium
	}
}
