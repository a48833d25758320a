package exporters

import (
	"fmt"

	"parcelqr/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
)

// New builds the OTLP trace exporter for OTEL.PROTOCOL.
func New(cfg *config.Config) (*otlptrace.Exporter, error) {
	switch cfg.Otel.Protocol {
	case "grpc", "":
		return ProvideGrpc(cfg)
	case "http":
		return ProvideHttp(cfg)
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", cfg.Otel.Protocol)
	}
}
