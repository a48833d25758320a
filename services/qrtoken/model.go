package qrtoken

import (
	"fmt"
	"time"

	"parcelqr/pkg/qrcodec"
	"parcelqr/pkg/signature"
)

type TokenType string

const (
	TokenPermanent TokenType = "PERMANENT"
	TokenTemporary TokenType = "TEMPORARY"
)

// Code is the single character discriminator carried in payloads.
func (t TokenType) Code() string {
	switch t {
	case TokenPermanent:
		return qrcodec.TypePermanent
	case TokenTemporary:
		return qrcodec.TypeTemporary
	default:
		return ""
	}
}

func TokenTypeFromCode(code string) (TokenType, bool) {
	switch code {
	case qrcodec.TypePermanent:
		return TokenPermanent, true
	case qrcodec.TypeTemporary:
		return TokenTemporary, true
	default:
		return "", false
	}
}

const (
	ReasonSuperseded = "superseded"
	ReasonExpired    = "expired"
	ReasonRevoked    = "revoked"
	ReasonCancelled  = "cancelled"
)

// VerificationToken is the authoritative record of an issued QR credential.
// ActiveKey is non-nil exactly while the token is valid; its unique index
// keeps at most one valid token per subject and type.
type VerificationToken struct {
	ID                        string     `gorm:"column:id;primaryKey;type:varchar(32)"`
	Token                     string     `gorm:"column:token;uniqueIndex;type:varchar(64);not null"`
	Signature                 string     `gorm:"column:signature;type:varchar(64);not null"`
	TokenType                 TokenType  `gorm:"column:token_type;type:varchar(16);not null"`
	ParcelRef                 *string    `gorm:"column:parcel_ref;type:varchar(64);index"`
	PickupRef                 *string    `gorm:"column:pickup_ref;type:varchar(64);index"`
	TrackingRef               string     `gorm:"column:tracking_ref;type:varchar(128);not null;index"`
	IssuedAt                  time.Time  `gorm:"column:issued_at;not null"`
	ExpiresAt                 *time.Time `gorm:"column:expires_at;index"`
	IsValid                   bool       `gorm:"column:is_valid;not null"`
	RevocationReason          *string    `gorm:"column:revocation_reason;type:varchar(255)"`
	VerificationCount         int64      `gorm:"column:verification_count;not null;default:0"`
	LastVerifiedAt            *time.Time `gorm:"column:last_verified_at"`
	LastVerificationIP        *string    `gorm:"column:last_verification_ip;type:varchar(64)"`
	LastVerificationUserAgent *string    `gorm:"column:last_verification_user_agent;type:varchar(512)"`
	ActiveKey                 *string    `gorm:"column:active_key;uniqueIndex;type:varchar(128)"`
	CreatedAt                 time.Time  `gorm:"autoCreateTime"`
	UpdatedAt                 time.Time  `gorm:"autoUpdateTime"`
}

func (VerificationToken) TableName() string {
	return "qr_verification_tokens"
}

// SubjectRef returns the parcel or pickup reference the token is bound to.
func (t *VerificationToken) SubjectRef() string {
	switch t.TokenType {
	case TokenPermanent:
		if t.ParcelRef != nil {
			return *t.ParcelRef
		}
	case TokenTemporary:
		if t.PickupRef != nil {
			return *t.PickupRef
		}
	}
	return ""
}

// Expired reports whether the token carries an expiry at or before now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// Payload rebuilds the signed payload printed for this token.
func (t *VerificationToken) Payload() qrcodec.Payload {
	return qrcodec.Payload{
		Version:   qrcodec.Version,
		Type:      t.TokenType.Code(),
		Token:     t.Token,
		Ref:       t.TrackingRef,
		Timestamp: t.IssuedAt.Unix(),
		Signature: signature.Truncate(t.Signature),
	}
}

func activeKey(tokenType TokenType, subjectRef string) string {
	return fmt.Sprintf("%s:%s", tokenType, subjectRef)
}

func subjectColumn(tokenType TokenType) string {
	if tokenType == TokenTemporary {
		return "pickup_ref"
	}
	return "parcel_ref"
}

// VerificationAttempt is the audit row written for every recorded scan.
type VerificationAttempt struct {
	ID          string    `gorm:"column:id;primaryKey;type:varchar(32)"`
	Token       string    `gorm:"column:token;type:varchar(64);not null;index:idx_qr_attempts_token_at,priority:1"`
	Status      Status    `gorm:"column:status;type:varchar(32);not null"`
	ClientIP    *string   `gorm:"column:client_ip;type:varchar(64)"`
	UserAgent   *string   `gorm:"column:user_agent;type:varchar(512)"`
	AttemptedAt time.Time `gorm:"column:attempted_at;not null;index:idx_qr_attempts_token_at,priority:2"`
}

func (VerificationAttempt) TableName() string {
	return "qr_verification_attempts"
}

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{&VerificationToken{}, &VerificationAttempt{}}
}
