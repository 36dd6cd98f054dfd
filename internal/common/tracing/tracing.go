// Package tracing provides OpenTelemetry tracer initialization for the
// orchestrator. Tracing is a no-op (zero overhead) unless explicitly
// enabled in configuration.
package tracing

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the package-level tracer name used across the orchestrator.
const TracerName = "github.com/kandev/nodeforge"

// Provider wraps a TracerProvider and its shutdown hook.
type Provider struct {
	tp         trace.TracerProvider
	sdkTP      *sdktrace.TracerProvider
	shutdownMu sync.Mutex
}

// Config mirrors the tracing section of the orchestrator config, kept
// independent of the config package to avoid an import cycle.
type Config struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// NewProvider builds a TracerProvider from cfg. When tracing is disabled or
// no endpoint is configured, a no-op provider is returned so callers never
// need to branch on whether tracing is active.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		return &Provider{tp: noop.NewTracerProvider()}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(stripScheme(cfg.OTLPEndpoint)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "nodeforge-orchestrator"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		res = resource.Default()
	}

	sdkTP := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(sdkTP)

	return &Provider{tp: sdkTP, sdkTP: sdkTP}, nil
}

// Tracer returns the named tracer for this provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and shuts down the underlying exporter.
// No-op when the provider was never backed by a real SDK.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if p.sdkTP == nil {
		return nil
	}
	return p.sdkTP.Shutdown(ctx)
}

func stripScheme(endpoint string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(endpoint, prefix) {
			return endpoint[len(prefix):]
		}
	}
	return endpoint
}
