package countinghttp

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe/counters"
)

// Middleware is an HTTP middleware that opens a request probe for every
// request and a page load probe for document requests. Assertion failures of
// these probes are postponed on the collector; they never change the
// response.
func Middleware(collector *counters.DataCollector, logger *zap.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		absoluteURL := requestURL(r)
		ctx := counters.ContextWithRequestInfo(r.Context(), counters.RequestInfo{
			Method:      r.Method,
			AbsoluteURL: absoluteURL,
		})

		requestProbe := counters.NewRequestProbe(ctx, collector, r.Method, absoluteURL)
		ctx = requestProbe.Context()
		defer closeProbe(logger, requestProbe)

		if isPageLoad(r) {
			pageLoadProbe := counters.NewPageLoadProbe(ctx, collector, r.Method, absoluteURL)
			ctx = pageLoadProbe.Context()
			defer closeProbe(logger, pageLoadProbe)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func closeProbe(logger *zap.Logger, probe counters.Probe) {
	if err := probe.Close(); err != nil {
		logger.Error("closing counter probe failed", zap.String("probe", probe.DumpHeadline()), zap.Error(err))
	}
}

// isPageLoad reports whether the browser asked for a document.
func isPageLoad(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if r.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// requestURL rebuilds the absolute URL the client asked for.
func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	if u.Host == "" {
		u.Host = r.Host
	}
	return &u
}
