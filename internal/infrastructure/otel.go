package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"

	"licmgr/internal/config"
)

// MeterName identifies the engine's meter.
const MeterName = "licmgr"

// Telemetry holds the metric provider and its scrape handler.
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
	Handler       http.Handler
	logger        *slog.Logger
}

// InitializeTelemetry wires an OpenTelemetry meter provider backed by the
// Prometheus exporter and registers it globally. The returned handler serves
// the scrape endpoint.
func InitializeTelemetry(logger *slog.Logger) (*Telemetry, error) {
	registry := prom.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.AppName),
			semconv.ServiceVersion(config.AppVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	logger.Info("telemetry initialized",
		slog.String("meter", MeterName),
		slog.String("exporter", "prometheus"),
	)

	return &Telemetry{
		MeterProvider: provider,
		Meter:         provider.Meter(MeterName),
		Handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		logger:        logger,
	}, nil
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.MeterProvider == nil {
		return nil
	}
	return t.MeterProvider.Shutdown(ctx)
}

// LicenseMetrics holds the engine's license-operation instruments.
type LicenseMetrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ValidationAttempts metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	CacheHits          metric.Int64Counter
	CacheMisses        metric.Int64Counter
}

// NewLicenseMetrics creates the license-operation instruments on a meter.
func NewLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	m := &LicenseMetrics{}
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}
	if m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}
	if m.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license status checks"),
	); err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}
	if m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("Duration of license status checks"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}
	if m.CacheHits, err = meter.Int64Counter(
		"license_status_cache_hits_total",
		metric.WithDescription("License status checks answered from cache"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}
	if m.CacheMisses, err = meter.Int64Counter(
		"license_status_cache_misses_total",
		metric.WithDescription("License status checks requiring a remote call"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	return m, nil
}
