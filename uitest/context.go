package uitest

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/tebeka/selenium"
	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe/counters"
)

// Context is handed to setup and test functions.
type Context struct {
	BaseURL   *url.URL
	Browser   selenium.WebDriver
	Collector *counters.DataCollector
	Logger    *zap.Logger
}

// URL resolves relativeURL against the application base URL.
func (c *Context) URL(relativeURL string) (*url.URL, error) {
	ref, err := url.Parse(relativeURL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", relativeURL, err)
	}
	return c.BaseURL.ResolveReference(ref), nil
}

// GoTo navigates the browser to relativeURL inside a navigation probe. The
// probe's threshold error is returned together with any navigation error.
func (c *Context) GoTo(ctx context.Context, relativeURL string) error {
	target, err := c.URL(relativeURL)
	if err != nil {
		return err
	}

	probe := counters.NewNavigationProbe(ctx, c.Collector, target)
	navErr := c.Browser.Get(target.String())
	if navErr != nil {
		navErr = fmt.Errorf("navigate to %s: %w", target, navErr)
	}
	return errors.Join(navErr, probe.Close())
}
