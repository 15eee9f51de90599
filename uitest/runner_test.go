package uitest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tebeka/selenium"
	"go.uber.org/zap/zaptest"

	"github.com/fllarpy/uiprobe/counters"
	"github.com/fllarpy/uiprobe/internal/adapters/countinghttp"
	pkgconfig "github.com/fllarpy/uiprobe/pkg/config"
)

// fakeApp serves "/" with one query and "/orders" with one query per order.
// "/slow" runs the order queries and then holds the response for slowFor.
type fakeApp struct {
	t         *testing.T
	collector *counters.DataCollector
	orders    int
	slowFor   time.Duration
	// slowStarted receives one value per "/slow" request once its queries ran.
	slowStarted chan struct{}

	mu     sync.Mutex
	server *httptest.Server
	starts int
	stops  int
}

func (a *fakeApp) Start(context.Context) (*url.URL, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		a.collector.Increment(counters.NewCommandExecuteKey("SELECT * FROM users WHERE id = ?", counters.Parameter{Name: "id", Value: 1}))
		fmt.Fprint(w, "<html><body>home</body></html>")
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < a.orders; i++ {
			a.collector.Increment(counters.NewCommandTextExecuteKey("SELECT * FROM orders WHERE id = ?", counters.Parameter{Name: "id", Value: i}))
		}
		fmt.Fprint(w, "<html><body>orders</body></html>")
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < a.orders; i++ {
			a.collector.Increment(counters.NewCommandTextExecuteKey("SELECT * FROM orders WHERE id = ?", counters.Parameter{Name: "id", Value: i}))
		}
		a.slowStarted <- struct{}{}
		time.Sleep(a.slowFor)
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.server = httptest.NewServer(countinghttp.Middleware(a.collector, zaptest.NewLogger(a.t), mux))
	a.starts++
	return url.Parse(a.server.URL)
}

func (a *fakeApp) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.server.Close()
	a.stops++
	return nil
}

// fakeBrowser fetches pages with plain HTTP.
type fakeBrowser struct {
	selenium.WebDriver

	source        string
	screenshotErr error
	quit          bool
}

func (b *fakeBrowser) Get(u string) error {
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	b.source = string(body)
	return err
}

func (b *fakeBrowser) PageSource() (string, error) { return b.source, nil }

func (b *fakeBrowser) Screenshot() ([]byte, error) {
	if b.screenshotErr != nil {
		return nil, b.screenshotErr
	}
	return []byte("\x89PNG"), nil
}

func (b *fakeBrowser) Quit() error {
	b.quit = true
	return nil
}

type browserPool struct {
	mu       sync.Mutex
	browsers []*fakeBrowser
}

func (p *browserPool) NewBrowser(context.Context) (selenium.WebDriver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := &fakeBrowser{}
	p.browsers = append(p.browsers, b)
	return b, nil
}

func newFixture(t *testing.T, mutate func(*counters.CounterConfigurations)) (*fakeApp, *browserPool, Options) {
	t.Helper()
	cfg := counters.DefaultConfigurations()
	if mutate != nil {
		mutate(cfg)
	}
	collector := counters.NewDataCollector(counters.WithConfigurations(cfg), counters.WithLogger(zaptest.NewLogger(t)))
	app := &fakeApp{t: t, collector: collector, orders: 5, slowFor: 300 * time.Millisecond, slowStarted: make(chan struct{}, 4)}
	opts := Options{Collector: collector, Timeout: 5 * time.Second, Logger: zaptest.NewLogger(t)}
	return app, &browserPool{}, opts
}

func TestRun_Passes(t *testing.T) {
	app, browsers, opts := newFixture(t, nil)

	var visited []string
	err := Run(context.Background(), app, browsers, Test{
		Name: "orders page",
		Setup: func(ctx context.Context, tc *Context) error {
			return tc.GoTo(ctx, "/")
		},
		Run: func(ctx context.Context, tc *Context) error {
			if err := tc.GoTo(ctx, "/orders"); err != nil {
				return err
			}
			visited = append(visited, tc.Browser.(*fakeBrowser).source)
			return nil
		},
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, []string{"<html><body>orders</body></html>"}, visited)
	assert.Equal(t, 1, app.starts)
	assert.Equal(t, 1, app.stops)
	require.Len(t, browsers.browsers, 1)
	assert.True(t, browsers.browsers[0].quit)
	assert.Equal(t, counters.PhaseRunning, opts.Collector.Phase())
}

func TestRun_NavigationThresholdRetriesAndDumps(t *testing.T) {
	app, browsers, opts := newFixture(t, func(cfg *counters.CounterConfigurations) {
		cfg.Running.NavigationThreshold.DbCommandTextExecutionThreshold = 3
	})
	opts.MaxRetries = 1
	opts.FailureDumpDir = t.TempDir()

	err := Run(context.Background(), app, browsers, Test{
		Name: "orders/n+1",
		Run: func(ctx context.Context, tc *Context) error {
			return tc.GoTo(ctx, "/orders")
		},
	}, opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, counters.ErrCounterThreshold)
	assert.Contains(t, err.Error(), "after 2 attempt(s)")
	assert.Contains(t, err.Error(), "NavigationProbe")
	assert.Equal(t, 2, app.starts)
	assert.Equal(t, 2, app.stops)
	for _, b := range browsers.browsers {
		assert.True(t, b.quit)
	}

	dirs, err := os.ReadDir(opts.FailureDumpDir)
	require.NoError(t, err)
	require.Len(t, dirs, 2)

	dir := filepath.Join(opts.FailureDumpDir, dirs[0].Name())
	assert.Contains(t, dirs[0].Name(), "orders_n_1-")
	for _, file := range []string{DumpCountersFile, DumpSummaryFile, DumpSummaryDiff, DumpPageSourceFile, DumpScreenshotFile} {
		assert.FileExists(t, filepath.Join(dir, file))
	}
	data, err := os.ReadFile(filepath.Join(dir, DumpCountersFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "phase: running")
	assert.Contains(t, string(data), "SELECT * FROM orders WHERE id = ?")
}

func TestRun_ReportsPostponedRequestErrors(t *testing.T) {
	app, browsers, opts := newFixture(t, func(cfg *counters.CounterConfigurations) {
		cfg.Running.NavigationThreshold.Disable = true
		cfg.Running.RequestThreshold.DbCommandTextExecutionThreshold = 3
	})

	err := Run(context.Background(), app, browsers, Test{
		Name: "orders",
		Run: func(ctx context.Context, tc *Context) error {
			assert.NoError(t, tc.GoTo(ctx, "/orders"), "Request probes do not fail the navigation")
			return nil
		},
	}, opts)

	require.Error(t, err)
	var postponed *counters.PostponedCounterError
	require.ErrorAs(t, err, &postponed)
	assert.Contains(t, postponed.Error(), "RequestProbe, [GET]")
	assert.Empty(t, opts.Collector.PostponedErrors(), "AssertCounter drains postponed errors")
}

// fireSlowRequest starts a "/slow" request that outlives the test function
// and waits until its queries ran.
func fireSlowRequest(t *testing.T, app *fakeApp, tc *Context, wg *sync.WaitGroup) {
	target, err := tc.URL("/slow")
	if err != nil {
		t.Error(err)
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.Get(target.String())
		if err == nil {
			resp.Body.Close()
		}
	}()
	select {
	case <-app.slowStarted:
	case <-time.After(5 * time.Second):
		t.Error("slow request did not reach the application")
	}
}

type resetCounter struct{ resets int }

func (r *resetCounter) Reset() { r.resets++ }

func TestRun_RequestsOutlivingTheTestAreReported(t *testing.T) {
	thresholds := func(cfg *counters.CounterConfigurations) {
		cfg.Running.NavigationThreshold.Disable = true
		cfg.Running.RequestThreshold.DbCommandTextExecutionThreshold = 3
	}

	t.Run("fails the attempt", func(t *testing.T) {
		app, browsers, opts := newFixture(t, thresholds)
		var wg sync.WaitGroup
		defer wg.Wait()

		err := Run(context.Background(), app, browsers, Test{
			Name: "background request",
			Run: func(ctx context.Context, tc *Context) error {
				fireSlowRequest(t, app, tc, &wg)
				return nil
			},
		}, opts)

		require.Error(t, err)
		var postponed *counters.PostponedCounterError
		require.ErrorAs(t, err, &postponed)
		assert.Contains(t, postponed.Error(), "RequestProbe, [GET]")
		assert.Empty(t, opts.Collector.PostponedErrors())
	})

	t.Run("stays with the attempt that raised it", func(t *testing.T) {
		app, browsers, opts := newFixture(t, thresholds)
		opts.MaxRetries = 1
		report := &resetCounter{}
		opts.Report = report
		var wg sync.WaitGroup
		defer wg.Wait()

		attempts := 0
		err := Run(context.Background(), app, browsers, Test{
			Name:  "background request once",
			Setup: func(ctx context.Context, tc *Context) error { return tc.GoTo(ctx, "/") },
			Run: func(ctx context.Context, tc *Context) error {
				attempts++
				if attempts == 1 {
					fireSlowRequest(t, app, tc, &wg)
				}
				return nil
			},
		}, opts)

		require.NoError(t, err, "The second attempt must not see the first attempt's request")
		assert.Equal(t, 2, attempts)
		assert.Equal(t, 2, app.stops)
		assert.Equal(t, 2, report.resets)
	})
}

func TestRun_SetupPhaseIsAssertedBeforeTheTest(t *testing.T) {
	app, browsers, opts := newFixture(t, func(cfg *counters.CounterConfigurations) {
		cfg.Setup.PhaseThreshold = counters.ThresholdConfiguration{}
	})

	ran := false
	err := Run(context.Background(), app, browsers, Test{
		Name:  "setup heavy",
		Setup: func(ctx context.Context, tc *Context) error { return tc.GoTo(ctx, "/") },
		Run: func(context.Context, *Context) error {
			ran = true
			return nil
		},
	}, opts)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup:")
	assert.Contains(t, err.Error(), "DataCollector, Phase = setup")
	assert.False(t, ran)
}

func TestRun_RetrySucceeds(t *testing.T) {
	app, browsers, opts := newFixture(t, nil)
	opts.MaxRetries = 2
	opts.FailureDumpDir = t.TempDir()

	calls := 0
	err := Run(context.Background(), app, browsers, Test{
		Name: "flaky",
		Run: func(ctx context.Context, tc *Context) error {
			calls++
			if calls == 1 {
				return errors.New("element not found")
			}
			return tc.GoTo(ctx, "/")
		},
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, app.starts)

	dirs, err := os.ReadDir(opts.FailureDumpDir)
	require.NoError(t, err)
	assert.Len(t, dirs, 1)
}

func TestRun_Timeout(t *testing.T) {
	app, browsers, opts := newFixture(t, nil)
	opts.Timeout = 50 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	err := Run(context.Background(), app, browsers, Test{
		Name: "hangs",
		Run: func(context.Context, *Context) error {
			<-release
			return nil
		},
	}, opts)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_PanickingTestFails(t *testing.T) {
	app, browsers, opts := newFixture(t, nil)

	err := Run(context.Background(), app, browsers, Test{
		Name: "panics",
		Run:  func(context.Context, *Context) error { panic("boom") },
	}, opts)

	assert.ErrorContains(t, err, "test panicked: boom")
	assert.Equal(t, 1, app.stops)
}

func TestRun_InvalidArguments(t *testing.T) {
	app, browsers, opts := newFixture(t, nil)

	err := Run(context.Background(), app, browsers, Test{Name: "no body"}, opts)
	assert.ErrorContains(t, err, "test function is required")

	opts.Collector = nil
	err = Run(context.Background(), app, browsers, Test{Run: func(context.Context, *Context) error { return nil }}, opts)
	assert.ErrorContains(t, err, "collector is required")
}

func TestRun_BrowserFailure(t *testing.T) {
	app, _, opts := newFixture(t, nil)
	browsers := BrowserFactoryFunc(func(context.Context) (selenium.WebDriver, error) {
		return nil, errors.New("chromedriver not found")
	})

	err := Run(context.Background(), app, browsers, Test{Name: "x", Run: func(context.Context, *Context) error { return nil }}, opts)
	assert.ErrorContains(t, err, "open browser: chromedriver not found")
	assert.Equal(t, 1, app.stops, "The application is stopped when the browser cannot start")
}

func TestOptionsFromConfig(t *testing.T) {
	collector := counters.NewDataCollector()
	cfg := &pkgconfig.Config{MaxRetries: 3, Timeout: time.Minute, FailureDumpDir: "/tmp/dumps"}

	opts := OptionsFromConfig(cfg, collector, nil)
	assert.Same(t, collector, opts.Collector)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, time.Minute, opts.Timeout)
	assert.Equal(t, "/tmp/dumps", opts.FailureDumpDir)
}
