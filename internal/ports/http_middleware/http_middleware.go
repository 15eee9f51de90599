package http_middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe/counters"
	"github.com/fllarpy/uiprobe/domain"
	"github.com/fllarpy/uiprobe/internal/adapters/countinghttp"
	"github.com/fllarpy/uiprobe/internal/ports/http_reporter"
	"github.com/fllarpy/uiprobe/pkg/config"
)

// CountersMiddleware creates a new HTTP middleware that opens counter probes
// for every request. When report is not nil, requests to the configured
// report endpoint are answered with the counter report and are not counted.
// It returns a function that takes an http.Handler and returns an
// http.Handler, suitable for use with frameworks like chi.
func CountersMiddleware(collector *counters.DataCollector, report domain.StoreReader, logger *zap.Logger) func(http.Handler) http.Handler {
	cfg := config.Load()
	if !cfg.Enabled || collector == nil {
		// If disabled, return a no-op middleware.
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var reportHandler http.Handler
	if report != nil && cfg.ReportEndpoint != "" {
		reportHandler = http_reporter.NewHandler(report)
	}

	return func(next http.Handler) http.Handler {
		counted := countinghttp.Middleware(collector, logger, next)
		if reportHandler == nil {
			return counted
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == cfg.ReportEndpoint {
				reportHandler.ServeHTTP(w, r)
				return
			}
			counted.ServeHTTP(w, r)
		})
	}
}
