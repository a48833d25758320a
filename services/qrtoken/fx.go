package qrtoken

import (
	"fmt"

	"parcelqr/pkg/config"
	"parcelqr/pkg/signature"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("qrtoken.service",
	fx.Provide(
		NewSigner,
		NewStore,
		NewWindow,
		newVerifier,
		newService,
	),
)

func NewSigner(cfg *config.Config) (*signature.Engine, error) {
	secret, err := cfg.QRSecret()
	if err != nil {
		return nil, err
	}

	engine, err := signature.New([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("init qr signature engine: %w", err)
	}
	return engine, nil
}

type WindowParams struct {
	fx.In
	Config *config.Config
	Store  *Store
	Redis  *redis.Client `optional:"true"`
}

// NewWindow picks the Redis window when Redis is available and falls back
// to counting attempt rows.
func NewWindow(p WindowParams) AttemptWindow {
	size := p.Config.QR.RateWindow
	if p.Redis != nil {
		zap.L().Info("qr rate window backed by redis", zap.Duration("window", size))
		return NewRedisWindow(p.Redis, size)
	}

	zap.L().Info("qr rate window backed by database", zap.Duration("window", size))
	return NewStoreWindow(p.Store, size)
}

type verifierParams struct {
	fx.In
	Config   *config.Config
	Signer   *signature.Engine
	Store    *Store
	Window   AttemptWindow
	Resolver SubjectResolver
	Meter    metric.MeterProvider `optional:"true"`
}

func newVerifier(p verifierParams) *Verifier {
	var opts []VerifierOption
	if p.Meter != nil {
		opts = append(opts, WithMeterProvider(p.Meter))
	}
	return NewVerifier(p.Signer, p.Store, p.Window, p.Resolver, p.Config.QR.MaxVerificationsPerHour, opts...)
}

func newService(cfg *config.Config, store *Store, verifier *Verifier, resolver SubjectResolver) *Service {
	return NewService(store, verifier, resolver, cfg.QR.TemporaryValidityHours)
}
