package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

const instrumentationName = "builtwith/detect"

var (
	initOnce sync.Once

	detectTracer trace.Tracer

	detectionDuration     metric.Float64Histogram
	detectionTotal        metric.Int64Counter
	detectionTechnologies metric.Int64Histogram
	technologyTotal       metric.Int64Counter
	fetchDuration         metric.Float64Histogram
)

// Init sets up the global tracer and meter providers. It returns nil
// providers when cfg.Enabled is false.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "builtwith"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := newTracerProvider(ctx, cfg, res)
	mp, metricsHandler, err := newMeterProvider(res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	prop := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(prop)

	initOnce.Do(func() {
		detectTracer = tp.Tracer(instrumentationName)
		if err := initInstruments(mp); err != nil {
			log.Warn().Err(err).Msg("Failed to create detection metric instruments")
		}
	})

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		Propagator:     prop,
		MetricsHandler: metricsHandler,
		Shutdown: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return errors.Join(
				wrapShutdown("metric provider", mp.Shutdown(ctx)),
				wrapShutdown("trace provider", tp.Shutdown(ctx)),
			)
		},
		Config: cfg,
	}, nil
}

func wrapShutdown(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s shutdown: %w", what, err)
}

// newTracerProvider batches spans to the OTLP endpoint when one is set.
// Exporter failures leave tracing local.
func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint == "" {
		return sdktrace.NewTracerProvider(opts...)
	}

	clientOpts := []otlptracehttp.Option{otlpEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	if len(cfg.OTLPHeaders) > 0 {
		clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
	}

	exporter, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", cfg.OTLPEndpoint).Msg("OTLP exporter unavailable, spans will not be exported")
		return sdktrace.NewTracerProvider(opts...)
	}

	log.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("Exporting spans over OTLP")
	return sdktrace.NewTracerProvider(append(opts, sdktrace.WithBatcher(exporter))...)
}

// newMeterProvider reads metrics through a Prometheus registry that also
// carries the Go runtime and process collectors.
func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func otlpEndpoint(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	return otelhttp.NewHandler(handler, "builtwith.http",
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)
}

func initInstruments(meterProvider metric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter(instrumentationName)

	var err error
	detectionDuration, err = meter.Float64Histogram(
		"builtwith.detection.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to detect the technologies of one page"),
	)
	if err != nil {
		return err
	}

	detectionTotal, err = meter.Int64Counter(
		"builtwith.detection.total",
		metric.WithDescription("Counts detections by outcome"),
	)
	if err != nil {
		return err
	}

	detectionTechnologies, err = meter.Int64Histogram(
		"builtwith.detection.technologies",
		metric.WithDescription("Number of distinct technologies found per detection"),
	)
	if err != nil {
		return err
	}

	technologyTotal, err = meter.Int64Counter(
		"builtwith.technology.detected",
		metric.WithDescription("Counts how often each technology is detected"),
	)
	if err != nil {
		return err
	}

	fetchDuration, err = meter.Float64Histogram(
		"builtwith.fetch.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to fetch a page for detection"),
	)
	return err
}

// DetectionSpanInfo describes the attributes used when starting a detection span.
type DetectionSpanInfo struct {
	URL        string
	HasHeaders bool
	HasHTML    bool
}

// DetectionMetrics describes a finished detection for metric recording.
type DetectionMetrics struct {
	Duration     time.Duration
	Partial      bool
	Technologies []string
}

// FetchMetrics describes one fetch performed on behalf of a detection.
type FetchMetrics struct {
	Method   string
	Outcome  string // "success" or "error"
	Duration time.Duration
}

// StartDetectionSpan starts a span covering one detection.
func StartDetectionSpan(ctx context.Context, info DetectionSpanInfo) (context.Context, trace.Span) {
	t := detectTracer
	if t == nil {
		t = otel.Tracer(instrumentationName)
	}

	attrs := []attribute.KeyValue{
		attribute.String("detection.url", info.URL),
		attribute.Bool("detection.has_headers", info.HasHeaders),
		attribute.Bool("detection.has_html", info.HasHTML),
	}

	return t.Start(ctx, "detect.page", trace.WithAttributes(attrs...))
}

// RecordDetection emits detection metrics when instrumentation is initialised.
func RecordDetection(ctx context.Context, m DetectionMetrics) {
	outcome := "complete"
	if m.Partial {
		outcome = "partial"
	}
	attrs := metric.WithAttributes(attribute.String("detection.outcome", outcome))

	if detectionDuration != nil {
		detectionDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if detectionTotal != nil {
		detectionTotal.Add(ctx, 1, attrs)
	}
	if detectionTechnologies != nil {
		detectionTechnologies.Record(ctx, int64(len(m.Technologies)), attrs)
	}
	if technologyTotal != nil {
		for _, name := range m.Technologies {
			technologyTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("technology", name)))
		}
	}
}

// RecordFetch emits fetch metrics when instrumentation is initialised.
func RecordFetch(ctx context.Context, m FetchMetrics) {
	if fetchDuration != nil {
		fetchDuration.Record(ctx, float64(m.Duration.Milliseconds()),
			metric.WithAttributes(attribute.String("fetch.method", m.Method), attribute.String("fetch.outcome", m.Outcome)))
	}
}
