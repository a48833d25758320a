package qrtoken

import (
	"context"
	"fmt"
	"time"

	"parcelqr/pkg/qrcodec"
	"parcelqr/pkg/signature"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "parcelqr/services/qrtoken"

// Verifier classifies scanned QR content. It holds no per-call state and is
// safe for concurrent use.
type Verifier struct {
	signer      *signature.Engine
	store       *Store
	window      AttemptWindow
	resolver    SubjectResolver
	maxAttempts int64

	now     func() time.Time
	tracer  trace.Tracer
	counter metric.Int64Counter
}

type VerifierOption func(*Verifier)

func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

func WithMeterProvider(mp metric.MeterProvider) VerifierOption {
	return func(v *Verifier) {
		v.counter = newVerificationCounter(mp)
	}
}

func WithTracerProvider(tp trace.TracerProvider) VerifierOption {
	return func(v *Verifier) { v.tracer = tp.Tracer(instrumentationName) }
}

// NewVerifier builds a Verifier. maxAttempts <= 0 disables the rate ceiling.
func NewVerifier(signer *signature.Engine, store *Store, window AttemptWindow, resolver SubjectResolver, maxAttempts int, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		signer:      signer,
		store:       store,
		window:      window,
		resolver:    resolver,
		maxAttempts: int64(maxAttempts),
		now:         time.Now,
		tracer:      otel.Tracer(instrumentationName),
		counter:     newVerificationCounter(otel.GetMeterProvider()),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

func newVerificationCounter(mp metric.MeterProvider) metric.Int64Counter {
	counter, err := mp.Meter(instrumentationName).Int64Counter(
		"qr.verifications",
		metric.WithDescription("QR verification outcomes by status"),
	)
	if err != nil {
		zap.L().Warn("failed to create qr.verifications counter", zap.Error(err))
	}
	return counter
}

// Verify decodes, authenticates and classifies raw scanned content. The
// returned error is non-nil only when storage is unavailable; every other
// failure is reported through the Outcome.
func (v *Verifier) Verify(ctx context.Context, raw, clientIP, userAgent string) (*Outcome, error) {
	ctx, span := v.tracer.Start(ctx, "qrtoken.Verify")
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("client_ip", clientIP),
	)

	now := v.now().UTC()

	out, row, recordToken, err := v.evaluate(ctx, raw, now, zapLog)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage unavailable")
		zapLog.Error("qr verification failed on storage", zap.Error(err))
		return nil, err
	}

	if recordToken != "" {
		if err := v.record(ctx, recordToken, out.Status, clientIP, userAgent, now); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "storage unavailable")
			zapLog.Error("failed to record verification attempt", zap.Error(err))
			return nil, err
		}
		if row != nil {
			out.Token.VerificationCount = row.VerificationCount + 1
		}
	}

	out.VerifiedAt = now
	out.RiskLevel = riskLevel(out)

	span.SetAttributes(
		attribute.String("qr.status", string(out.Status)),
		attribute.Bool("qr.tampering_detected", out.TamperingDetected),
	)
	if v.counter != nil {
		v.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(out.Status))))
	}

	v.log(zapLog, out)

	return out, nil
}

// evaluate runs the ordered checks. recordToken is the token the attempt is
// recorded against, empty when the content could not be decoded. Bad
// signature scans are recorded against the claimed token and so count
// toward its rate window.
func (v *Verifier) evaluate(ctx context.Context, raw string, now time.Time, zapLog *zap.Logger) (out *Outcome, row *VerificationToken, recordToken string, err error) {
	p, decodeErr := qrcodec.Decode(raw)
	if decodeErr != nil {
		zapLog.Info("invalid qr format", zap.Error(decodeErr))
		return failure(StatusVerificationError, CodeInvalidFormat, "Invalid QR code format.", false), nil, "", nil
	}
	if p.Version != qrcodec.Version {
		return failure(StatusVerificationError, CodeUnsupportedVersion, fmt.Sprintf("Unsupported QR payload version %d.", p.Version), false), nil, "", nil
	}

	recordToken = p.Token

	if !v.signer.Verify(qrcodec.SignableData(p), p.Signature) {
		return failure(StatusSignatureInvalid, CodeSignatureInvalid, "Invalid signature. This QR code may have been forged.", true), nil, recordToken, nil
	}

	row, err = v.store.Lookup(ctx, p.Token)
	if err != nil {
		return nil, nil, "", err
	}
	if row == nil {
		return failure(StatusTokenNotFound, CodeTokenNotFound, "Unrecognised QR code. This code may have been forged.", true), nil, recordToken, nil
	}

	out, err = v.check(ctx, p, row, now, zapLog)
	if err != nil {
		return nil, nil, "", err
	}
	out.Token = tokenInfo(row)

	return out, row, recordToken, nil
}

// check runs the checks that need the stored row, in order: binding,
// rate ceiling, revocation, expiry, subject resolution.
func (v *Verifier) check(ctx context.Context, p qrcodec.Payload, row *VerificationToken, now time.Time, zapLog *zap.Logger) (*Outcome, error) {
	if row.TokenType.Code() != p.Type || row.TrackingRef != p.Ref || row.IssuedAt.Unix() != p.Timestamp {
		return failure(StatusSignatureInvalid, CodeSignatureInvalid, "QR content does not match the issued token.", true), nil
	}

	if v.maxAttempts > 0 {
		n, err := v.window.Attempts(ctx, p.Token, now)
		if err != nil {
			return nil, err
		}
		if n >= v.maxAttempts {
			return failure(StatusRateLimitExceeded, CodeRateLimitExceeded, "Too many verification attempts for this QR code. Try again later.", false), nil
		}
	}

	if !row.IsValid {
		if row.RevocationReason != nil && *row.RevocationReason == ReasonExpired {
			return failure(StatusTokenExpired, CodeTokenExpired, "This QR code has expired.", false), nil
		}
		msg := "This QR code has been revoked."
		if row.RevocationReason != nil {
			msg = fmt.Sprintf("This QR code has been revoked: %s.", *row.RevocationReason)
		}
		return failure(StatusTokenRevoked, CodeTokenRevoked, msg, false), nil
	}

	if row.Expired(now) {
		return failure(StatusTokenExpired, CodeTokenExpired, "This QR code has expired.", false), nil
	}

	subject, err := v.resolve(ctx, row)
	if err != nil {
		zapLog.Warn("qr subject resolution failed",
			zap.String("token_id", row.ID),
			zap.String("subject_ref", row.SubjectRef()),
			zap.Error(err),
		)
		return failure(StatusVerificationError, CodeVerificationError, "QR code could not be verified.", false), nil
	}
	if subject == nil {
		zapLog.Warn("qr token references a missing subject",
			zap.String("token_id", row.ID),
			zap.String("token_type", string(row.TokenType)),
			zap.String("subject_ref", row.SubjectRef()),
		)
		if row.TokenType == TokenTemporary {
			return failure(StatusPickupNotFound, CodePickupNotFound, "Pickup request not found.", false), nil
		}
		return failure(StatusParcelNotFound, CodeParcelNotFound, "Parcel not found.", false), nil
	}

	return &Outcome{
		Valid:   true,
		Status:  StatusValid,
		Message: "QR code verified successfully.",
		Subject: subject,
	}, nil
}

func (v *Verifier) resolve(ctx context.Context, row *VerificationToken) (*Subject, error) {
	if v.resolver == nil {
		return nil, fmt.Errorf("no subject resolver configured")
	}

	ref := row.SubjectRef()
	if ref == "" {
		return nil, nil
	}

	switch row.TokenType {
	case TokenTemporary:
		return v.resolver.ResolvePickup(ctx, ref)
	default:
		return v.resolver.ResolveParcel(ctx, ref)
	}
}

func (v *Verifier) record(ctx context.Context, token string, status Status, clientIP, userAgent string, now time.Time) error {
	if err := v.store.RecordVerificationAttempt(ctx, Attempt{
		Token:     token,
		Status:    status,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		At:        now,
	}); err != nil {
		return err
	}

	if v.window != nil {
		if err := v.window.Observe(ctx, token, now); err != nil {
			return err
		}
	}

	return nil
}

func (v *Verifier) log(zapLog *zap.Logger, out *Outcome) {
	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.String("risk_level", string(out.RiskLevel)),
	}
	if out.Token != nil {
		fields = append(fields, zap.String("token_id", out.Token.ID))
	}

	switch {
	case out.TamperingDetected:
		zapLog.Warn("qr tampering detected", fields...)
	default:
		zapLog.Info("qr verification completed", fields...)
	}
}

// IsValidToken is a display-only check: lookup, revocation and expiry. It
// records nothing.
func (v *Verifier) IsValidToken(ctx context.Context, token string) (bool, error) {
	row, err := v.store.Lookup(ctx, token)
	if err != nil {
		return false, err
	}
	if row == nil || !row.IsValid {
		return false, nil
	}
	return !row.Expired(v.now().UTC()), nil
}
