// Package tracing wires OpenTelemetry for the HTTP server and the outbound
// calls to the generation API.
package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const (
	DefaultServiceName = "imagegate"
	defaultEndpoint    = "localhost:4317"
)

type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// settings is Config after env fallbacks and clamping.
type settings struct {
	service     string
	environment string
	endpoint    string
	insecure    bool
	ratio       float64
}

func (c Config) resolve() settings {
	s := settings{
		service:     ServiceName(c.ServiceName),
		environment: strings.TrimSpace(c.Environment),
		endpoint:    firstNonBlank(c.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), defaultEndpoint),
		insecure:    c.OTLPInsecure,
		ratio:       c.SampleRatio,
	}
	s.endpoint = sanitizeEndpoint(s.endpoint)
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		s.insecure = parseBool(v)
	}
	if s.ratio <= 0 || s.ratio > 1 {
		s.ratio = 1
	}
	return s
}

// Setup installs the global propagator and, when enabled, a batching OTLP
// tracer provider. It returns the provider's shutdown func. An exporter that
// cannot be built leaves tracing off; startup continues.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	s := cfg.resolve()
	exp, err := newExporter(ctx, s)
	if err != nil {
		logger.Warn("otel exporter init failed; tracing disabled", "err", err, "endpoint", s.endpoint)
		return noop, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(s, logger)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.ratio))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "service", s.service, "endpoint", s.endpoint, "sampleRatio", s.ratio)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, s settings) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.endpoint)}
	if s.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newResource(s settings, logger *slog.Logger) *resource.Resource {
	attrs := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(s.service))
	if s.environment != "" {
		attrs = resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(s.service),
			semconv.DeploymentEnvironment(s.environment),
		)
	}
	res, err := resource.Merge(resource.Default(), attrs)
	if err != nil {
		logger.Warn("otel resource merge failed; using defaults", "err", err)
		return resource.Default()
	}
	return res
}

// ServiceName resolves the reported service name: explicit value, then
// OTEL_SERVICE_NAME, then DefaultServiceName.
func ServiceName(v string) string {
	return firstNonBlank(v, os.Getenv("OTEL_SERVICE_NAME"), DefaultServiceName)
}

// InjectHeaders writes traceparent/tracestate into h for outbound calls to
// the generation API. Baggage is never forwarded to third parties.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(h))
}

// ParseSampleRatio reads a ratio in (0, 1]. Anything else yields 0, which
// Setup treats as "sample everything".
func ParseSampleRatio(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 || f > 1 {
		return 0
	}
	return f
}

// sanitizeEndpoint turns a collector URL into the host:port the gRPC
// exporter expects.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
