package uiprobe

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe/config"
	"github.com/fllarpy/uiprobe/counters"
	"github.com/fllarpy/uiprobe/domain"
	"github.com/fllarpy/uiprobe/exporter"
	"github.com/fllarpy/uiprobe/infrastructure/storage/inmemory"
	"github.com/fllarpy/uiprobe/internal/adapters/countinghttp"
	"github.com/fllarpy/uiprobe/internal/ports/http_reporter"
	"github.com/fllarpy/uiprobe/nplusone"
	pkgconfig "github.com/fllarpy/uiprobe/pkg/config"
)

const serviceVersion = "1.0.0"

// Options configures Setup.
type Options struct {
	Logger         *zap.Logger
	Configurations *counters.CounterConfigurations
	// Synchronous exports probe spans as they end instead of batching them,
	// so the report is current as soon as a probe is closed.
	Synchronous bool
	// SkipGlobal leaves the global tracer provider untouched.
	SkipGlobal bool
	// NPlusOneThreshold reports a statement executed this often within one
	// server trace. Zero disables the detector.
	NPlusOneThreshold int
}

// Probe bundles the collector of a test run with the tracing pipeline that
// turns closed probes into reports.
type Probe struct {
	tp        *sdktrace.TracerProvider
	collector *counters.DataCollector
	store     *inmemory.Store
	logger    *zap.Logger
}

// Setup creates the collector, the counter exporter and the report store.
func Setup(ctx context.Context, serviceName string, opts Options) (*Probe, *inmemory.Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := inmemory.NewStore()

	counterExporter, err := exporter.NewCounterExporter(store, logger.Named("exporter"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create counter exporter: %w", err)
	}

	res, err := newResource(serviceName, serviceVersion)
	if err != nil {
		return nil, nil, err
	}

	export := sdktrace.WithBatcher(counterExporter)
	if opts.Synchronous {
		export = sdktrace.WithSyncer(counterExporter)
	}
	tpOpts := []sdktrace.TracerProviderOption{export, sdktrace.WithResource(res)}
	detector := nplusone.NewDetector(nplusone.Config{Enabled: opts.NPlusOneThreshold > 0, Threshold: opts.NPlusOneThreshold}, store, logger.Named("nplusone"))
	if detector != nil {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(detector))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	if !opts.SkipGlobal {
		otel.SetTracerProvider(tp)
	}

	collector := counters.NewDataCollector(
		counters.WithLogger(logger.Named("counters")),
		counters.WithTracerProvider(tp),
		counters.WithConfigurations(opts.Configurations),
	)

	probe := &Probe{
		tp:        tp,
		collector: collector,
		store:     store,
		logger:    logger,
	}

	logger.Info("Counter probe initialized", zap.String("service", serviceName))
	return probe, store, nil
}

// SetupFromEnv reads the UIPROBE_* environment and the threshold file in
// its config directory before calling Setup.
func SetupFromEnv(ctx context.Context, logger *zap.Logger) (*Probe, *inmemory.Store, *pkgconfig.Config, error) {
	env := pkgconfig.Load()
	thresholds, err := config.Load(env.ConfigDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load thresholds: %w", err)
	}
	probe, store, err := Setup(ctx, env.ServiceName, Options{Logger: logger, Configurations: thresholds})
	if err != nil {
		return nil, nil, nil, err
	}
	return probe, store, env, nil
}

// Collector returns the collector of the test run.
func (p *Probe) Collector() *counters.DataCollector { return p.collector }

// TracerProvider returns the provider probe spans are recorded with.
func (p *Probe) TracerProvider() trace.TracerProvider { return p.tp }

// Middleware opens request and page load probes around next.
func (p *Probe) Middleware(next http.Handler) http.Handler {
	return countinghttp.Middleware(p.collector, p.logger.Named("http"), next)
}

// NewClient returns a copy of base whose round trips are navigation scopes.
func (p *Probe) NewClient(base *http.Client) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	client.Transport = countinghttp.NewTransport(client.Transport, p.collector)
	return client
}

var _ domain.Reporter = (*Probe)(nil)

// Handler serves the report of closed probes as JSON.
func (p *Probe) Handler() http.Handler {
	return http_reporter.NewHandler(p.store)
}

// Reset drops the report, e.g. before another attempt of a UI test.
func (p *Probe) Reset() { p.store.Reset() }

// Flush exports the spans of probes that have been closed so far.
func (p *Probe) Flush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

func (p *Probe) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		p.logger.Error("Error shutting down tracer provider", zap.Error(err))
		return err
	}
	return nil
}

func newResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
}
