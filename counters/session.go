package counters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Session is the persistence session of the application under test. The
// counting happens in the instrumented connection the session runs on.
type Session interface {
	Save(ctx context.Context, collection, id string, document any) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string, out any) error
	Query(ctx context.Context, collection, path string, value any) ([]json.RawMessage, error)
	BeginTransaction(ctx context.Context) error
	Flush(ctx context.Context) error
	Close() error
}

// SessionProbe wraps a Session for the lifetime of its scope. Closing the
// probe asserts the counters and then closes the session.
type SessionProbe struct {
	ProbeBase
	RequestMethod string
	AbsoluteURL   *url.URL

	session Session
}

var (
	_ Probe            = (*SessionProbe)(nil)
	_ Session          = (*SessionProbe)(nil)
	_ OutOfTestContext = (*SessionProbe)(nil)
)

// NewSessionProbe takes the request method and URL from ctx when the
// request pipeline stored them with ContextWithRequestInfo.
func NewSessionProbe(ctx context.Context, collector *DataCollector, session Session) *SessionProbe {
	if session == nil {
		panic("counters: session probe requires a session")
	}
	p := &SessionProbe{session: session}
	if ctx == nil {
		ctx = context.Background()
	}
	if info, ok := RequestInfoFromContext(ctx); ok {
		p.RequestMethod = info.Method
		p.AbsoluteURL = info.AbsoluteURL
	}
	p.OnClose = session.Close
	p.Init(ctx, collector, p, ScopeSession, attrMethod.String(p.RequestMethod), attrURL.String(urlString(p.AbsoluteURL)))
	return p
}

func (p *SessionProbe) DumpHeadline() string {
	return fmt.Sprintf("SessionProbe, [%s]%s", p.RequestMethod, urlString(p.AbsoluteURL))
}

func (p *SessionProbe) RunsOutOfTestContext() bool { return true }

func (p *SessionProbe) SelectThreshold(cfg *PhaseCounterConfiguration) ThresholdConfiguration {
	return cfg.SessionThreshold
}

// ConfigurationKey is nil when the session was not opened for a request.
func (p *SessionProbe) ConfigurationKey() ConfigurationKey {
	if p.AbsoluteURL == nil {
		return nil
	}
	return &RelativeURLConfigurationKey{URL: p.AbsoluteURL}
}

func (p *SessionProbe) Save(ctx context.Context, collection, id string, document any) error {
	return p.session.Save(ctx, collection, id, document)
}

func (p *SessionProbe) Delete(ctx context.Context, collection, id string) error {
	return p.session.Delete(ctx, collection, id)
}

func (p *SessionProbe) Get(ctx context.Context, collection, id string, out any) error {
	return p.session.Get(ctx, collection, id, out)
}

func (p *SessionProbe) Query(ctx context.Context, collection, path string, value any) ([]json.RawMessage, error) {
	return p.session.Query(ctx, collection, path, value)
}

func (p *SessionProbe) BeginTransaction(ctx context.Context) error {
	return p.session.BeginTransaction(ctx)
}

func (p *SessionProbe) Flush(ctx context.Context) error { return p.session.Flush(ctx) }
