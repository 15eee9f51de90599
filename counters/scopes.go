package counters

import (
	"context"
	"fmt"
	"net/url"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	attrURL    = semconv.URLFullKey
	attrMethod = semconv.HTTPRequestMethodKey
)

// Scope names used for probe spans.
const (
	ScopeNavigation = "navigation"
	ScopePageLoad   = "page_load"
	ScopeRequest    = "request"
	ScopeSession    = "session"
)

// NavigationProbe counts what the application does while the browser
// navigates to a URL. It runs on the test goroutine.
type NavigationProbe struct {
	ProbeBase
	AbsoluteURL *url.URL
}

var (
	_ Probe              = (*NavigationProbe)(nil)
	_ ConfigurationKeyed = (*NavigationProbe)(nil)
	_ ThresholdSelector  = (*NavigationProbe)(nil)
)

func NewNavigationProbe(ctx context.Context, collector *DataCollector, absoluteURL *url.URL) *NavigationProbe {
	p := &NavigationProbe{AbsoluteURL: absoluteURL}
	p.Init(ctx, collector, p, ScopeNavigation, attrURL.String(urlString(absoluteURL)))
	return p
}

func (p *NavigationProbe) DumpHeadline() string {
	return fmt.Sprintf("NavigationProbe, AbsoluteURL = %s", urlString(p.AbsoluteURL))
}

func (p *NavigationProbe) ConfigurationKey() ConfigurationKey {
	return &RelativeURLConfigurationKey{URL: p.AbsoluteURL}
}

func (p *NavigationProbe) SelectThreshold(cfg *PhaseCounterConfiguration) ThresholdConfiguration {
	return cfg.NavigationThreshold
}

// PageLoadProbe counts the queries issued while the application renders a
// page. It runs inside the application's request pipeline.
type PageLoadProbe struct {
	ProbeBase
	RequestMethod string
	AbsoluteURL   *url.URL
}

var (
	_ Probe              = (*PageLoadProbe)(nil)
	_ OutOfTestContext   = (*PageLoadProbe)(nil)
	_ ConfigurationKeyed = (*PageLoadProbe)(nil)
	_ ThresholdSelector  = (*PageLoadProbe)(nil)
)

func NewPageLoadProbe(ctx context.Context, collector *DataCollector, method string, absoluteURL *url.URL) *PageLoadProbe {
	p := &PageLoadProbe{RequestMethod: method, AbsoluteURL: absoluteURL}
	p.Init(ctx, collector, p, ScopePageLoad, attrMethod.String(method), attrURL.String(urlString(absoluteURL)))
	return p
}

func (p *PageLoadProbe) DumpHeadline() string {
	return fmt.Sprintf("PageLoadProbe, [%s]%s", p.RequestMethod, urlString(p.AbsoluteURL))
}

func (p *PageLoadProbe) RunsOutOfTestContext() bool { return true }

func (p *PageLoadProbe) ConfigurationKey() ConfigurationKey {
	return &RelativeURLConfigurationKey{URL: p.AbsoluteURL}
}

func (p *PageLoadProbe) SelectThreshold(cfg *PhaseCounterConfiguration) ThresholdConfiguration {
	return cfg.PageLoadThreshold
}

// RequestProbe counts the queries issued while the application serves any
// HTTP request.
type RequestProbe struct {
	ProbeBase
	RequestMethod string
	AbsoluteURL   *url.URL
}

var (
	_ Probe              = (*RequestProbe)(nil)
	_ OutOfTestContext   = (*RequestProbe)(nil)
	_ ConfigurationKeyed = (*RequestProbe)(nil)
	_ ThresholdSelector  = (*RequestProbe)(nil)
)

func NewRequestProbe(ctx context.Context, collector *DataCollector, method string, absoluteURL *url.URL) *RequestProbe {
	p := &RequestProbe{RequestMethod: method, AbsoluteURL: absoluteURL}
	p.Init(ctx, collector, p, ScopeRequest, attrMethod.String(method), attrURL.String(urlString(absoluteURL)))
	return p
}

func (p *RequestProbe) DumpHeadline() string {
	return fmt.Sprintf("RequestProbe, [%s]%s", p.RequestMethod, urlString(p.AbsoluteURL))
}

func (p *RequestProbe) RunsOutOfTestContext() bool { return true }

func (p *RequestProbe) ConfigurationKey() ConfigurationKey {
	return &RelativeURLConfigurationKey{URL: p.AbsoluteURL}
}

func (p *RequestProbe) SelectThreshold(cfg *PhaseCounterConfiguration) ThresholdConfiguration {
	return cfg.RequestThreshold
}

// RequestInfo identifies the request a scope was opened for.
type RequestInfo struct {
	Method      string
	AbsoluteURL *url.URL
}

type requestInfoKey struct{}

// ContextWithRequestInfo stores info so that probes opened further down the
// pipeline (sessions) can report which request they belong to.
func ContextWithRequestInfo(parent context.Context, info RequestInfo) context.Context {
	return context.WithValue(parent, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the info stored by ContextWithRequestInfo.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
