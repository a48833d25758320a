package otelcol

import (
	"context"

	"parcelqr/pkg/config"
	"parcelqr/pkg/otelcol/exporters"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(ProvideMeterProvider),
	fx.Invoke(RegisterTracing),
)

func serviceResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func defaultTraceProviderOption() []trace.TracerProviderOption {
	return []trace.TracerProviderOption{
		trace.WithResource(resource.Default()),
	}
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	if len(opts) == 0 {
		opts = defaultTraceProviderOption()
	}

	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

func defaultMetricProviderOption() []metric.Option {
	return []metric.Option{
		metric.WithResource(resource.Default()),
	}
}

func ProvideMetric(reader metric.Reader, opts ...metric.Option) *metric.MeterProvider {
	if len(opts) == 0 {
		opts = defaultMetricProviderOption()
	}

	opts = append(opts, metric.WithReader(reader))

	return metric.NewMeterProvider(opts...)
}

// RegisterTracing installs a global tracer provider exporting to OTEL.ADDR.
// Without an address the global no-op provider stays in place.
func RegisterTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		zap.L().Info("[Otel] OTEL.ADDR not configured, tracing disabled")
		return nil
	}

	exporter, err := exporters.New(cfg)
	if err != nil {
		zap.L().Error("[Otel] failed to create trace exporter", zap.Error(err))
		return err
	}

	tp := ProvideTrace(exporter, trace.WithResource(serviceResource(cfg)))
	otel.SetTracerProvider(tp)

	zap.L().Info("[Otel] tracing enabled", zap.String("addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return nil
}

type MeterParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Registerer promclient.Registerer `optional:"true"`
}

// ProvideMeterProvider installs a global meter provider whose instruments
// are collected by the Prometheus registry. The default registerer is used
// unless one is supplied.
func ProvideMeterProvider(p MeterParams) (otelmetric.MeterProvider, error) {
	var opts []prometheus.Option
	if p.Registerer != nil {
		opts = append(opts, prometheus.WithRegisterer(p.Registerer))
	}

	exporter, err := prometheus.New(opts...)
	if err != nil {
		zap.L().Error("[Otel] failed to create metric exporter", zap.Error(err))
		return nil, err
	}

	mp := ProvideMetric(exporter, metric.WithResource(serviceResource(p.Config)))
	otel.SetMeterProvider(mp)

	zap.L().Info("[Otel] metrics enabled", zap.String("exporter", "prometheus"))

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mp.Shutdown(ctx)
		},
	})

	return mp, nil
}
