package countinghttp

import (
	"errors"
	"net/http"

	"github.com/fllarpy/uiprobe/counters"
)

// Transport is an http.RoundTripper used by test code that talks to the
// application directly. Every round trip is a navigation scope on the test
// goroutine, so a breached threshold is returned as the round trip's error.
type Transport struct {
	// Base is the underlying RoundTripper to execute the request.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	collector *counters.DataCollector
}

// RoundTrip executes a single HTTP transaction inside a navigation probe.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	probe := counters.NewNavigationProbe(req.Context(), t.collector, req.URL)
	resp, err := base.RoundTrip(req)

	// The application has finished its work once the response headers
	// arrived; the body may still stream but no longer queries.
	if cerr := probe.Close(); cerr != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, errors.Join(err, cerr)
	}
	return resp, err
}

// NewTransport creates a new Transport counting on collector.
func NewTransport(base http.RoundTripper, collector *counters.DataCollector) *Transport {
	if collector == nil {
		panic("countinghttp: transport requires a collector")
	}
	return &Transport{
		Base:      base,
		collector: collector,
	}
}
