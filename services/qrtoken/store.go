package qrtoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parcelqr/pkg/db/option"
	"parcelqr/pkg/db/pagination"
	"parcelqr/pkg/qrcodec"
	"parcelqr/pkg/repository"
	"parcelqr/pkg/signature"
	"parcelqr/pkg/util"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenBytes       = 32
	maxIssueAttempts = 5
)

// Attempt describes one recorded verification scan.
type Attempt struct {
	Token     string
	Status    Status
	ClientIP  string
	UserAgent string
	At        time.Time
}

// Store is the registry of issued tokens and the single source of truth for
// their validity.
type Store struct {
	db     *gorm.DB
	node   *snowflake.Node
	signer *signature.Engine

	tokens   repository.Repository[VerificationToken]
	attempts repository.Repository[VerificationAttempt]

	now      func() time.Time
	newToken func() (string, error)
}

type StoreParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Signer *signature.Engine
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:       p.DB,
		node:     p.Node,
		signer:   p.Signer,
		tokens:   repository.ProvideStore[VerificationToken](p.DB),
		attempts: repository.ProvideStore[VerificationAttempt](p.DB),
		now:      time.Now,
		newToken: func() (string, error) { return util.GenerateToken(tokenBytes) },
	}
}

type issueRequest struct {
	tokenType   TokenType
	subjectRef  string
	trackingRef string
	validity    *time.Duration
}

// IssuePermanent supersedes the parcel's current token and issues a new one
// that never expires.
func (s *Store) IssuePermanent(ctx context.Context, parcelRef, trackingRef string) (*VerificationToken, error) {
	return s.issue(ctx, issueRequest{
		tokenType:   TokenPermanent,
		subjectRef:  parcelRef,
		trackingRef: trackingRef,
	})
}

// IssueTemporary supersedes the pickup's current token and issues a new one
// expiring validityHours after issuance. Zero hours yields a token that is
// already expired.
func (s *Store) IssueTemporary(ctx context.Context, pickupRef, trackingRef string, validityHours int) (*VerificationToken, error) {
	if validityHours < 0 {
		return nil, ErrInvalidValidity
	}

	validity := time.Duration(validityHours) * time.Hour
	return s.issue(ctx, issueRequest{
		tokenType:   TokenTemporary,
		subjectRef:  pickupRef,
		trackingRef: trackingRef,
		validity:    &validity,
	})
}

func (s *Store) issue(ctx context.Context, req issueRequest) (*VerificationToken, error) {
	if strings.TrimSpace(req.subjectRef) == "" {
		return nil, ErrMissingSubject
	}

	var lastErr error
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		row, err := s.tryIssue(ctx, req)
		if err == nil {
			zap.L().Info("qr token issued",
				zap.String("token_id", row.ID),
				zap.String("token_type", string(row.TokenType)),
				zap.String("subject_ref", req.subjectRef),
			)
			return row, nil
		}

		if !isUniqueViolation(err) {
			zap.L().Error("failed to issue qr token", zap.String("subject_ref", req.subjectRef), zap.Error(err))
			return nil, err
		}

		lastErr = err
		zap.L().Debug("qr token issuance conflicted, retrying",
			zap.String("subject_ref", req.subjectRef),
			zap.Int("attempt", attempt),
		)
	}

	zap.L().Error("qr token issuance exhausted retries", zap.String("subject_ref", req.subjectRef), zap.Error(lastErr))
	return nil, fmt.Errorf("%w: %v", ErrIssueContention, lastErr)
}

func (s *Store) tryIssue(ctx context.Context, req issueRequest) (*VerificationToken, error) {
	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	key := activeKey(req.tokenType, req.subjectRef)
	subjectRef := req.subjectRef

	row := &VerificationToken{
		ID:          s.node.Generate().String(),
		Token:       token,
		TokenType:   req.tokenType,
		TrackingRef: req.trackingRef,
		IssuedAt:    issuedAt,
		IsValid:     true,
		ActiveKey:   &key,
	}

	switch req.tokenType {
	case TokenPermanent:
		row.ParcelRef = &subjectRef
	case TokenTemporary:
		row.PickupRef = &subjectRef
		expiresAt := issuedAt.Add(*req.validity)
		row.ExpiresAt = &expiresAt
	}

	payload := row.Payload()
	if err := qrcodec.Validate(payload); err != nil {
		return nil, err
	}
	row.Signature = s.signer.SignFull(qrcodec.SignableData(payload))

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&VerificationToken{}).
			Where("active_key = ?", key).
			Updates(map[string]any{
				"is_valid":          false,
				"revocation_reason": ReasonSuperseded,
				"active_key":        nil,
			}).Error; err != nil {
			return err
		}

		return s.tokens.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}

	return row, nil
}

// Lookup returns nil, nil when the token is unknown.
func (s *Store) Lookup(ctx context.Context, token string) (*VerificationToken, error) {
	if token == "" {
		return nil, nil
	}

	row, err := s.tokens.FindOne(ctx, &VerificationToken{Token: token})
	if err != nil {
		return nil, fmt.Errorf("lookup qr token: %w", err)
	}
	return row, nil
}

// ActiveForSubject returns the currently valid token for the subject, if any.
func (s *Store) ActiveForSubject(ctx context.Context, tokenType TokenType, subjectRef string) (*VerificationToken, error) {
	key := activeKey(tokenType, subjectRef)
	row, err := s.tokens.FindOne(ctx, &VerificationToken{ActiveKey: &key})
	if err != nil {
		return nil, fmt.Errorf("find active qr token: %w", err)
	}
	return row, nil
}

// ListForSubject returns the subject's token history, newest first.
func (s *Store) ListForSubject(ctx context.Context, tokenType TokenType, subjectRef string, page pagination.Pagination) ([]*VerificationToken, *pagination.PageInfo, error) {
	rows, err := s.tokens.Find(ctx, &VerificationToken{TokenType: tokenType},
		option.ApplyOperator(option.Condition{Field: subjectColumn(tokenType), Operator: option.EQ, Value: subjectRef}),
		option.ApplyPagination(page),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("list qr tokens: %w", err)
	}

	rows, info := pagination.Trim(rows, page.Limit, func(t *VerificationToken) string { return t.ID })
	return rows, info, nil
}

// Revoke invalidates a token. Revoking an already invalid token is a no-op.
func (s *Store) Revoke(ctx context.Context, token, reason string) error {
	if reason == "" {
		reason = ReasonRevoked
	}

	res := s.db.WithContext(ctx).Model(&VerificationToken{}).
		Where("token = ? AND is_valid = ?", token, true).
		Updates(map[string]any{
			"is_valid":          false,
			"revocation_reason": reason,
			"active_key":        nil,
		})
	if res.Error != nil {
		return fmt.Errorf("revoke qr token: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		zap.L().Info("qr token revoked", zap.String("reason", reason))
		return nil
	}

	count, err := s.tokens.Count(ctx, &VerificationToken{Token: token})
	if err != nil {
		return fmt.Errorf("revoke qr token: %w", err)
	}
	if count == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// RevokeAllForSubject invalidates every valid token of the given type bound
// to subjectRef and returns how many were revoked.
func (s *Store) RevokeAllForSubject(ctx context.Context, tokenType TokenType, subjectRef, reason string) (int64, error) {
	if reason == "" {
		reason = ReasonRevoked
	}

	res := s.db.WithContext(ctx).Model(&VerificationToken{}).
		Where("token_type = ? AND is_valid = ?", tokenType, true).
		Where(subjectColumn(tokenType)+" = ?", subjectRef).
		Updates(map[string]any{
			"is_valid":          false,
			"revocation_reason": reason,
			"active_key":        nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("revoke qr tokens for subject: %w", res.Error)
	}

	zap.L().Info("qr tokens revoked for subject",
		zap.String("token_type", string(tokenType)),
		zap.String("subject_ref", subjectRef),
		zap.Int64("count", res.RowsAffected),
	)

	return res.RowsAffected, nil
}

// RecordVerificationAttempt atomically bumps the token's verification count
// and writes an attempt row. Attempts against unknown tokens are still
// written so forgery attempts stay observable.
func (s *Store) RecordVerificationAttempt(ctx context.Context, a Attempt) error {
	at := a.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&VerificationToken{}).
			Where("token = ?", a.Token).
			Updates(map[string]any{
				"verification_count":           gorm.Expr("verification_count + ?", 1),
				"last_verified_at":             at,
				"last_verification_ip":         nullable(a.ClientIP),
				"last_verification_user_agent": nullable(a.UserAgent),
			}).Error; err != nil {
			return fmt.Errorf("increment verification count: %w", err)
		}

		if err := s.attempts.WithTrx(tx).Create(ctx, &VerificationAttempt{
			ID:          s.node.Generate().String(),
			Token:       a.Token,
			Status:      a.Status,
			ClientIP:    nullable(a.ClientIP),
			UserAgent:   nullable(a.UserAgent),
			AttemptedAt: at,
		}); err != nil {
			return fmt.Errorf("record verification attempt: %w", err)
		}

		return nil
	})
}

// CountAttemptsSince counts recorded attempts for token at or after since.
func (s *Store) CountAttemptsSince(ctx context.Context, token string, since time.Time) (int64, error) {
	count, err := s.attempts.Count(ctx, &VerificationAttempt{Token: token},
		option.ApplyOperator(option.Condition{Field: "attempted_at", Operator: option.GTE, Value: since.UTC()}),
	)
	if err != nil {
		return 0, fmt.Errorf("count verification attempts: %w", err)
	}
	return count, nil
}

// SweepExpired deletes tokens whose expiry is before cutoff together with
// their attempt rows, then purges any remaining attempt older than cutoff.
// Permanent tokens are never swept, but their old attempts are.
func (s *Store) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()

	var deleted, purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Session(&gorm.Session{NewDB: true}).
			Model(&VerificationToken{}).
			Select("token").
			Where("expires_at IS NOT NULL AND expires_at < ?", cutoff)

		if err := tx.Where("token IN (?)", expired).Delete(&VerificationAttempt{}).Error; err != nil {
			return fmt.Errorf("delete expired attempts: %w", err)
		}

		res := tx.Where("expires_at IS NOT NULL AND expires_at < ?", cutoff).Delete(&VerificationToken{})
		if res.Error != nil {
			return fmt.Errorf("delete expired tokens: %w", res.Error)
		}
		deleted = res.RowsAffected

		// covers unknown tokens and permanent ones
		stale := tx.Where("attempted_at < ?", cutoff).Delete(&VerificationAttempt{})
		if stale.Error != nil {
			return fmt.Errorf("delete stale attempts: %w", stale.Error)
		}
		purged = stale.RowsAffected

		return nil
	})
	if err != nil {
		zap.L().Error("qr token sweep failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}

	zap.L().Info("qr token sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
		zap.Int64("attempts_purged", purged),
	)
	return deleted, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IsNotFound reports whether err means the token does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTokenNotFound)
}
