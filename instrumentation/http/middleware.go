package http

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe/counters"
	"github.com/fllarpy/uiprobe/internal/adapters/countinghttp"
)

// NewMiddleware traces handler with otelhttp and opens counter probes inside
// the server span, so probe spans are children of the request span.
func NewMiddleware(handler http.Handler, operation string, collector *counters.DataCollector, logger *zap.Logger, opts ...otelhttp.Option) http.Handler {
	return otelhttp.NewHandler(countinghttp.Middleware(collector, logger, handler), operation, opts...)
}

// NewTransport returns a RoundTripper for test code: each round trip is a
// navigation scope and is traced as an HTTP client span.
func NewTransport(base http.RoundTripper, collector *counters.DataCollector, opts ...otelhttp.Option) http.RoundTripper {
	return countinghttp.NewTransport(otelhttp.NewTransport(base, opts...), collector)
}
