// Package uitest runs browser tests against an application and fails them
// when the application touches the database more often than the configured
// thresholds allow.
//
// Each attempt starts the application and a browser, runs the optional setup
// function in the setup phase and the test function in the running phase,
// and asserts the collector after each of them. Errors raised by probes that
// closed outside the test goroutine are reported by those assertions.
package uitest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tebeka/selenium"
	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe/counters"
	pkgconfig "github.com/fllarpy/uiprobe/pkg/config"
)

// ErrTimeout is returned when a test function runs longer than
// Options.Timeout.
var ErrTimeout = errors.New("ui test timed out")

// Application is the system under test.
type Application interface {
	// Start runs the application and returns its base URL.
	Start(ctx context.Context) (*url.URL, error)
	Stop(ctx context.Context) error
}

// BrowserFactory opens a browser session for one attempt. The runner quits
// the browser when the attempt ends.
type BrowserFactory interface {
	NewBrowser(ctx context.Context) (selenium.WebDriver, error)
}

// BrowserFactoryFunc adapts a function to BrowserFactory.
type BrowserFactoryFunc func(ctx context.Context) (selenium.WebDriver, error)

func (f BrowserFactoryFunc) NewBrowser(ctx context.Context) (selenium.WebDriver, error) {
	return f(ctx)
}

// Func is a setup or test function.
type Func func(ctx context.Context, tc *Context) error

// Test describes one UI test.
type Test struct {
	Name  string
	Setup Func
	Run   Func
}

// Options configures Run.
type Options struct {
	// Collector receives the counts of the application. Required.
	Collector *counters.DataCollector
	// MaxRetries is the number of attempts made after the first failure.
	MaxRetries int
	// Timeout bounds the test function of one attempt. Zero means
	// DefaultTimeout.
	Timeout time.Duration
	// FailureDumpDir receives one directory per failed attempt. Empty
	// disables failure dumps.
	FailureDumpDir string
	// Report, when set, is reset at the start of every attempt so it only
	// holds the scopes of the current attempt.
	Report Resetter
	Logger *zap.Logger
}

// Resetter drops recorded state.
type Resetter interface {
	Reset()
}

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 120 * time.Second

// OptionsFromConfig builds Options from the environment configuration.
func OptionsFromConfig(cfg *pkgconfig.Config, collector *counters.DataCollector, logger *zap.Logger) Options {
	return Options{
		Collector:      collector,
		MaxRetries:     cfg.MaxRetries,
		Timeout:        cfg.Timeout,
		FailureDumpDir: cfg.FailureDumpDir,
		Logger:         logger,
	}
}

// Run runs test until an attempt passes or the retries are used up, and
// returns the error of the last attempt.
func Run(ctx context.Context, app Application, browsers BrowserFactory, test Test, opts Options) error {
	if opts.Collector == nil {
		return errors.New("uitest: a collector is required")
	}
	if test.Run == nil {
		return errors.New("uitest: a test function is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &runner{app: app, browsers: browsers, test: test, opts: opts,
		logger: opts.Logger.With(zap.String("test", test.Name))}

	attempts := opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.attempt(ctx, attempt)
		if err == nil {
			r.logger.Info("ui test passed", zap.Int("attempt", attempt))
			return nil
		}
		r.logger.Warn("ui test attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			attempts = attempt
			break
		}
	}
	return fmt.Errorf("ui test %q failed after %d attempt(s): %w", test.Name, attempts, err)
}

type runner struct {
	app      Application
	browsers BrowserFactory
	test     Test
	opts     Options
	logger   *zap.Logger

	// summary of the previous failed attempt, diffed into the next dump
	lastSummary string
}

func (r *runner) attempt(ctx context.Context, attempt int) (err error) {
	collector := r.opts.Collector
	if r.opts.Report != nil {
		r.opts.Report.Reset()
	}

	baseURL, err := r.app.Start(ctx)
	if err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			err = errors.Join(err, r.stop(ctx))
		}
	}()

	browser, err := r.browsers.NewBrowser(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if quitErr := browser.Quit(); quitErr != nil {
			r.logger.Warn("browser quit failed", zap.Error(quitErr))
		}
	}()

	tc := &Context{BaseURL: baseURL, Browser: browser, Collector: collector, Logger: r.logger}
	err = r.runPhases(ctx, tc)

	// Requests still in flight close their probes while the application
	// stops, so their postponed errors belong to this attempt.
	stopped = true
	err = errors.Join(err, r.stop(ctx))

	if err != nil && r.opts.FailureDumpDir != "" {
		summary := collector.DumpSummary()
		dir, dumpErr := writeFailureDump(r.opts.FailureDumpDir, r.test.Name, attempt, collector, browser, r.lastSummary, summary)
		if dumpErr != nil {
			r.logger.Error("failure dump incomplete", zap.String("dir", dir), zap.Error(dumpErr))
		} else {
			r.logger.Info("failure dump written", zap.String("dir", dir))
		}
		r.lastSummary = summary
	}
	return err
}

func (r *runner) runPhases(ctx context.Context, tc *Context) error {
	collector := r.opts.Collector

	collector.Reset()
	collector.StartPhase(counters.PhaseSetup)
	if r.test.Setup != nil {
		if err := r.test.Setup(ctx, tc); err != nil {
			return errors.Join(fmt.Errorf("setup: %w", err), collector.AssertCounter())
		}
	}
	if err := collector.AssertCounter(); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	collector.Reset()
	collector.StartPhase(counters.PhaseRunning)
	runErr := r.runWithTimeout(ctx, tc)
	return errors.Join(runErr, collector.AssertCounter())
}

// stop stops the application and drains the errors its probes postponed
// after the last assertion.
func (r *runner) stop(ctx context.Context) error {
	var errs []error
	if err := r.app.Stop(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("stop application: %w", err))
	}
	errs = append(errs, r.opts.Collector.TakePostponedErrors())
	return errors.Join(errs...)
}

// runWithTimeout returns when the test function returns or the timeout
// expires. A test function that ignores its context keeps running in the
// background after a timeout.
func (r *runner) runWithTimeout(ctx context.Context, tc *Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("test panicked: %v", p)
			}
		}()
		done <- r.test.Run(ctx, tc)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s: %w", ErrTimeout, r.opts.Timeout, ctx.Err())
	}
}
