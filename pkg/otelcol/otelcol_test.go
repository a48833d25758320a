package otelcol

import (
	"context"
	"strings"
	"testing"

	"parcelqr/pkg/config"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestModuleRegistersMeterProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.AppName = "qrsecure"

	reg := promclient.NewRegistry()

	var mp otelmetric.MeterProvider
	app := fxtest.New(t,
		Module,
		fx.Supply(cfg),
		fx.Provide(func() promclient.Registerer { return reg }),
		fx.Populate(&mp),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.Same(t, mp, otel.GetMeterProvider())

	counter, err := mp.Meter("parcelqr/test").Int64Counter("qr.verifications")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "qr_verifications") {
			found = true
			require.Equal(t, 3.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, found)
}
