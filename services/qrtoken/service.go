package qrtoken

import (
	"context"
	"errors"
	"strings"

	"parcelqr/pkg/errutil"
	"parcelqr/pkg/qrcodec"

	"go.uber.org/zap"
)

const temporaryRefPrefix = "TMP-"

// Issued is what label printing needs: the stored token, its payload and
// the compact string rendered into the QR image.
type Issued struct {
	Token   *VerificationToken
	Payload qrcodec.Payload
	Content string
}

func newIssued(row *VerificationToken) *Issued {
	p := row.Payload()
	return &Issued{Token: row, Payload: p, Content: qrcodec.Encode(p)}
}

// Service is the entry point for issuing, printing, revoking and verifying
// QR credentials.
type Service struct {
	store           *Store
	verifier        *Verifier
	resolver        SubjectResolver
	defaultValidity int
}

func NewService(store *Store, verifier *Verifier, resolver SubjectResolver, defaultValidityHours int) *Service {
	return &Service{
		store:           store,
		verifier:        verifier,
		resolver:        resolver,
		defaultValidity: defaultValidityHours,
	}
}

func (s *Service) DefaultValidityHours() int {
	return s.defaultValidity
}

func (s *Service) resolveParcel(ctx context.Context, parcelRef string) (*Subject, error) {
	if strings.TrimSpace(parcelRef) == "" {
		return nil, errutil.BadRequest("parcel reference is required", ErrMissingSubject)
	}

	parcel, err := s.resolver.ResolveParcel(ctx, parcelRef)
	if err != nil {
		zap.L().Error("failed to resolve parcel", zap.String("parcel_ref", parcelRef), zap.Error(err))
		return nil, errutil.Internal("failed to resolve parcel", err)
	}
	if parcel == nil {
		return nil, errutil.NotFound("parcel not found", ErrSubjectNotFound)
	}
	return parcel, nil
}

// IssueParcelQR issues a permanent QR for the parcel, superseding any
// previous one. The parcel must be FINAL and locked.
func (s *Service) IssueParcelQR(ctx context.Context, parcelRef string) (*Issued, error) {
	parcel, err := s.resolveParcel(ctx, parcelRef)
	if err != nil {
		return nil, err
	}
	if !parcel.Issuable() {
		zap.L().Warn("parcel not ready for final qr",
			zap.String("parcel_ref", parcelRef),
			zap.String("qr_status", parcel.QRStatus),
			zap.Bool("locked", parcel.Locked),
		)
		return nil, errutil.UnprocessableEntity("parcel is not validated and locked", ErrParcelNotFinal,
			errutil.WithDetails(
				errutil.Detail{Field: "qr_status", Message: "must be " + ParcelQRFinal},
				errutil.Detail{Field: "locked", Message: "must be true"},
			))
	}

	row, err := s.store.IssuePermanent(ctx, parcelRef, parcel.TrackingRef)
	if err != nil {
		return nil, issueError(err)
	}

	return newIssued(row), nil
}

// Regenerate always supersedes the parcel's current permanent QR.
func (s *Service) Regenerate(ctx context.Context, parcelRef string) (*Issued, error) {
	return s.IssueParcelQR(ctx, parcelRef)
}

// ReprintParcelQR returns the payload of the parcel's current permanent
// token, issuing one when none is valid.
func (s *Service) ReprintParcelQR(ctx context.Context, parcelRef string) (*Issued, error) {
	if strings.TrimSpace(parcelRef) == "" {
		return nil, errutil.BadRequest("parcel reference is required", ErrMissingSubject)
	}

	row, err := s.store.ActiveForSubject(ctx, TokenPermanent, parcelRef)
	if err != nil {
		return nil, errutil.Internal("failed to load qr token", err)
	}
	if row == nil {
		return s.IssueParcelQR(ctx, parcelRef)
	}

	return newIssued(row), nil
}

// IssuePickupQR issues a temporary QR for a pickup request. A negative
// validity is rejected; zero is honoured and yields an expired token.
func (s *Service) IssuePickupQR(ctx context.Context, pickupRef string, validityHours int) (*Issued, error) {
	if validityHours < 0 {
		return nil, errutil.BadRequest("validity hours must not be negative", ErrInvalidValidity,
			errutil.WithDetails(errutil.Detail{Field: "validity_hours", Message: "must not be negative"}))
	}
	if strings.TrimSpace(pickupRef) == "" {
		return nil, errutil.BadRequest("pickup reference is required", ErrMissingSubject)
	}

	pickup, err := s.resolver.ResolvePickup(ctx, pickupRef)
	if err != nil {
		zap.L().Error("failed to resolve pickup", zap.String("pickup_ref", pickupRef), zap.Error(err))
		return nil, errutil.Internal("failed to resolve pickup", err)
	}
	if pickup == nil {
		return nil, errutil.NotFound("pickup request not found", ErrSubjectNotFound)
	}

	row, err := s.store.IssueTemporary(ctx, pickupRef, temporaryRefPrefix+pickup.TrackingRef, validityHours)
	if err != nil {
		return nil, issueError(err)
	}

	return newIssued(row), nil
}

// IssuePickupQRDefault issues a temporary QR with the configured validity.
func (s *Service) IssuePickupQRDefault(ctx context.Context, pickupRef string) (*Issued, error) {
	return s.IssuePickupQR(ctx, pickupRef, s.defaultValidity)
}

func (s *Service) Revoke(ctx context.Context, token, reason string) error {
	if err := s.store.Revoke(ctx, token, reason); err != nil {
		if IsNotFound(err) {
			return errutil.NotFound("qr token not found", err)
		}
		return errutil.Internal("failed to revoke qr token", err)
	}
	return nil
}

func (s *Service) RevokeParcel(ctx context.Context, parcelRef, reason string) (int64, error) {
	return s.revokeSubject(ctx, TokenPermanent, parcelRef, reason)
}

func (s *Service) RevokePickup(ctx context.Context, pickupRef, reason string) (int64, error) {
	return s.revokeSubject(ctx, TokenTemporary, pickupRef, reason)
}

func (s *Service) revokeSubject(ctx context.Context, tokenType TokenType, ref, reason string) (int64, error) {
	if strings.TrimSpace(ref) == "" {
		return 0, errutil.BadRequest("subject reference is required", ErrMissingSubject)
	}

	n, err := s.store.RevokeAllForSubject(ctx, tokenType, ref, reason)
	if err != nil {
		return 0, errutil.Internal("failed to revoke qr tokens", err)
	}
	return n, nil
}

// Verify is the public verification entry point.
func (s *Service) Verify(ctx context.Context, raw, clientIP, userAgent string) (*Outcome, error) {
	out, err := s.verifier.Verify(ctx, raw, clientIP, userAgent)
	if err != nil {
		return nil, errutil.New(errutil.StatusServiceUnavailable, "qr verification unavailable", errutil.WithErr(err))
	}
	return out, nil
}

func (s *Service) IsValidToken(ctx context.Context, token string) (bool, error) {
	ok, err := s.verifier.IsValidToken(ctx, token)
	if err != nil {
		return false, errutil.New(errutil.StatusServiceUnavailable, "qr verification unavailable", errutil.WithErr(err))
	}
	return ok, nil
}

func issueError(err error) error {
	switch {
	case errors.Is(err, qrcodec.ErrUnencodable), errors.Is(err, ErrInvalidValidity), errors.Is(err, ErrMissingSubject):
		return errutil.BadRequest("cannot issue qr token", err)
	case errors.Is(err, ErrIssueContention):
		return errutil.Conflict("qr token issuance conflicted, retry", err)
	default:
		return errutil.Internal("failed to issue qr token", err)
	}
}
