package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"resumeunlocked/internal/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ObservabilityConfig holds configuration for observability
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	ConsoleOutput  bool
	PrettyPrint    bool
	SampleRate     float64
	Prometheus     PrometheusConfig
}

// ObservabilityManager manages OpenTelemetry setup
type ObservabilityManager struct {
	config           ObservabilityConfig
	fullConfig       *config.Config // Store full config for access to nested settings
	resource         *resource.Resource
	tracerProvider   *trace.TracerProvider
	meterProvider    *sdkmetric.MeterProvider
	metrics          *Metrics
	extraReaders     []sdkmetric.Reader
	shutdownFuncs    []func(context.Context) error
	prometheusServer *http.Server
	logf             func(format string, args ...any)
}

// Option customizes an ObservabilityManager
type Option func(*ObservabilityManager)

// WithMetricReader adds a reader next to the configured exporters
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(om *ObservabilityManager) { om.extraReaders = append(om.extraReaders, r) }
}

// WithLogf sets where exporter problems are reported
func WithLogf(logf func(format string, args ...any)) Option {
	return func(om *ObservabilityManager) { om.logf = logf }
}

// NewObservabilityManager creates a new observability manager
func NewObservabilityManager(obsConfig ObservabilityConfig, fullConfig *config.Config, opts ...Option) (*ObservabilityManager, error) {
	om := &ObservabilityManager{
		config:        obsConfig,
		fullConfig:    fullConfig,
		shutdownFuncs: make([]func(context.Context) error, 0),
	}
	for _, opt := range opts {
		opt(om)
	}
	if !obsConfig.Enabled {
		return om, nil
	}

	if err := om.initResource(); err != nil {
		return nil, fmt.Errorf("failed to initialize resource: %w", err)
	}

	if err := om.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if err := om.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return om, nil
}

// initResource creates the OpenTelemetry resource shared by traces and metrics
func (om *ObservabilityManager) initResource() error {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(om.config.ServiceName),
			semconv.ServiceVersion(om.config.ServiceVersion),
			attribute.String("service.instance.id", om.instanceID()),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	om.resource = res
	return nil
}

// initTracing installs the tracer provider. Without a console or OTLP
// exporter spans are sampled but never exported.
func (om *ObservabilityManager) initTracing() error {
	exporter, err := om.spanExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts := []trace.TracerProviderOption{
		trace.WithResource(om.resource),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(om.config.SampleRate))),
	}
	if exporter != nil {
		opts = append(opts, trace.WithBatcher(exporter))
	}
	tp := trace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	om.tracerProvider = tp
	om.shutdownFuncs = append(om.shutdownFuncs, tp.Shutdown)
	return nil
}

func (om *ObservabilityManager) spanExporter() (trace.SpanExporter, error) {
	switch {
	case om.config.ConsoleOutput:
		var opts []stdouttrace.Option
		if om.config.PrettyPrint {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		return stdouttrace.New(opts...)
	case om.otlpEnabled():
		otlp := om.fullConfig.Observability.OTLP
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(otlp.Endpoint)}
		if otlp.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(otlp.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(otlp.Headers))
		}
		return otlptracehttp.New(context.Background(), opts...)
	}
	return nil, nil
}

// initMetrics sets up OpenTelemetry metrics
func (om *ObservabilityManager) initMetrics() error {
	readers, err := om.setupMetricReaders()
	if err != nil {
		return err
	}

	meterProviderOptions := []sdkmetric.Option{
		sdkmetric.WithResource(om.resource),
	}
	for _, reader := range readers {
		meterProviderOptions = append(meterProviderOptions, sdkmetric.WithReader(reader))
	}

	mp := sdkmetric.NewMeterProvider(meterProviderOptions...)

	otel.SetMeterProvider(mp)
	om.meterProvider = mp
	om.shutdownFuncs = append(om.shutdownFuncs, mp.Shutdown)

	metrics, err := newMetrics(mp.Meter(om.config.ServiceName))
	if err != nil {
		return err
	}
	om.metrics = metrics
	return nil
}

// setupMetricReaders sets up all metric readers based on configuration
func (om *ObservabilityManager) setupMetricReaders() ([]sdkmetric.Reader, error) {
	readers := append([]sdkmetric.Reader(nil), om.extraReaders...)

	if om.config.ConsoleOutput {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create console metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(om.collectionInterval())))
	}

	if om.otlpEnabled() {
		otlpReader, err := om.otlpMetricsReader()
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics reader: %w", err)
		}
		readers = append(readers, otlpReader)
	}

	if om.config.Prometheus.Enabled {
		prometheusReader, prometheusMux, err := SetupPrometheusExporter(om.config.Prometheus)
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		readers = append(readers, prometheusReader)
		om.prometheusServer = StartPrometheusServer(prometheusMux, om.config.Prometheus.Port, om.logf)
		if om.prometheusServer != nil {
			om.shutdownFuncs = append(om.shutdownFuncs, om.prometheusServer.Shutdown)
		}
	}

	// If no readers configured, use manual reader as fallback
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewManualReader())
	}

	return readers, nil
}

// GetMetrics returns the metrics instance
func (om *ObservabilityManager) GetMetrics() *Metrics {
	if om == nil || om.metrics == nil {
		return &Metrics{} // Return empty metrics if not initialized
	}
	return om.metrics
}

// Recorder returns the recorder the API client, gate and navigator report to.
// It honors the customMetrics toggles of the full configuration.
func (om *ObservabilityManager) Recorder() *Recorder {
	rec := &Recorder{metrics: om.GetMetrics(), navigation: true, api: true, apiDuration: true, rateLimits: true}
	if om != nil && om.fullConfig != nil {
		custom := om.fullConfig.Observability.CustomMetrics
		rec.navigation = custom.Navigation.Enabled
		rec.api = custom.API.Enabled
		rec.apiDuration = custom.API.TrackDuration
		rec.rateLimits = custom.Infrastructure.Enabled && custom.Infrastructure.TrackRateLimits
	}
	return rec
}

// HTTPMiddleware returns HTTP middleware with OpenTelemetry instrumentation
func (om *ObservabilityManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if om == nil || !om.config.Enabled {
		return func(h http.Handler) http.Handler { return h }
	}

	return otelhttp.NewMiddleware(
		om.config.ServiceName,
		otelhttp.WithTracerProvider(om.tracerProvider),
		otelhttp.WithMeterProvider(om.meterProvider),
	)
}

// Tracer returns a tracer for the service
func (om *ObservabilityManager) Tracer(name string) oteltrace.Tracer {
	if om == nil || !om.config.Enabled {
		return noop.NewTracerProvider().Tracer(name)
	}
	return om.tracerProvider.Tracer(name)
}

// Shutdown flushes exporters and stops the Prometheus listener. Every
// component is shut down even when an earlier one fails.
func (om *ObservabilityManager) Shutdown(ctx context.Context) error {
	if om == nil {
		return nil
	}
	var errs []error
	for i := len(om.shutdownFuncs) - 1; i >= 0; i-- {
		if err := om.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (om *ObservabilityManager) otlpEnabled() bool {
	return om.fullConfig != nil && om.fullConfig.Observability.OTLP.Enabled
}

// otlpMetricsReader pushes metrics to the OTLP endpoint on the collection interval
func (om *ObservabilityManager) otlpMetricsReader() (sdkmetric.Reader, error) {
	otlp := om.fullConfig.Observability.OTLP
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(otlp.Endpoint)}
	if otlp.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(otlp.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(otlp.Headers))
	}

	exporter, err := otlpmetrichttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(om.collectionInterval())), nil
}

func (om *ObservabilityManager) instanceID() string {
	if om.fullConfig != nil && om.fullConfig.Observability.ServiceInstance != "" {
		return om.fullConfig.Observability.ServiceInstance
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "resumeunlocked-1"
}

func (om *ObservabilityManager) collectionInterval() time.Duration {
	if om.fullConfig != nil && om.fullConfig.Observability.Metrics.CollectionInterval > 0 {
		return om.fullConfig.Observability.Metrics.CollectionInterval
	}
	return 15 * time.Second
}
