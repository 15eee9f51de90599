// Package nplusone watches database spans and reports a statement that runs
// repeatedly within one trace. It complements the counter probes: the probes
// fail the test, the detector only adds a report entry naming the trace.
package nplusone

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe/domain"
	"github.com/fllarpy/uiprobe/domain/metrics"
)

// Scope is the report scope of detected repetitions.
const Scope = "n_plus_one"

const (
	cleanupInterval = time.Minute
	traceTimeout    = 2 * time.Minute
)

type Config struct {
	Enabled bool
	// Threshold is the number of executions of one statement within a trace
	// that is reported.
	Threshold int
}

type queryInfo struct {
	count    int
	reported bool
}

type traceData struct {
	queries  map[string]*queryInfo
	rootPath string
	lastSeen time.Time
}

// Detector is an sdktrace.SpanProcessor.
type Detector struct {
	config Config
	store  domain.StoreWriter
	logger *zap.Logger

	traces     map[trace.TraceID]*traceData
	tracesLock sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

var _ sdktrace.SpanProcessor = (*Detector)(nil)

// NewDetector returns nil when the detector is disabled.
func NewDetector(config Config, store domain.StoreWriter, logger *zap.Logger) *Detector {
	if !config.Enabled || config.Threshold <= 0 || store == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing N+1 statement detector", zap.Int("threshold", config.Threshold))
	d := &Detector{
		config: config,
		store:  store,
		logger: logger,
		traces: make(map[trace.TraceID]*traceData),
		stop:   make(chan struct{}),
	}
	go d.startCleanupRoutine()
	return d
}

func (d *Detector) trace(id trace.TraceID) *traceData {
	td, ok := d.traces[id]
	if !ok {
		td = &traceData{queries: make(map[string]*queryInfo)}
		d.traces[id] = td
	}
	td.lastSeen = time.Now()
	return td
}

// OnStart remembers the path of server spans. Database spans end before the
// server span that contains them.
func (d *Detector) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	if span.SpanKind() != trace.SpanKindServer {
		return
	}
	path := span.Name()
	for _, attr := range span.Attributes() {
		if attr.Key == semconv.URLPathKey || attr.Key == "http.target" {
			path = attr.Value.AsString()
		}
	}

	d.tracesLock.Lock()
	defer d.tracesLock.Unlock()
	d.trace(span.SpanContext().TraceID()).rootPath = path
}

// OnEnd counts database statements and forgets a trace when its server span
// ends.
func (d *Detector) OnEnd(span sdktrace.ReadOnlySpan) {
	traceID := span.SpanContext().TraceID()

	d.tracesLock.Lock()
	defer d.tracesLock.Unlock()

	if span.SpanKind() == trace.SpanKindServer {
		delete(d.traces, traceID)
		return
	}

	var isDbCall bool
	var statement string
	for _, attr := range span.Attributes() {
		if attr.Key == semconv.DBSystemKey {
			isDbCall = true
		}
		if attr.Key == semconv.DBQueryTextKey || attr.Key == "db.statement" {
			statement = attr.Value.AsString()
		}
	}
	if !isDbCall || statement == "" {
		return
	}

	td := d.trace(traceID)
	q, ok := td.queries[statement]
	if !ok {
		q = &queryInfo{}
		td.queries[statement] = q
	}
	q.count++

	if q.count >= d.config.Threshold && !q.reported {
		q.reported = true
		d.logger.Warn("N+1 statement detected",
			zap.Stringer("trace_id", traceID),
			zap.String("path", td.rootPath),
			zap.String("statement", statement))
		d.store.AddViolation(metrics.ViolationEvent{
			Timestamp: span.EndTime(),
			Scope:     Scope,
			ProbeID:   traceID.String(),
			Headline:  fmt.Sprintf("Repeated statement, %s", td.rootPath),
			Message:   fmt.Sprintf("%s executed %d times", statement, q.count),
		})
	}
}

func (d *Detector) startCleanupRoutine() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.cleanupOldTraces(time.Now())
		case <-d.stop:
			return
		}
	}
}

func (d *Detector) cleanupOldTraces(now time.Time) int {
	d.tracesLock.Lock()
	defer d.tracesLock.Unlock()

	cleaned := 0
	for traceID, data := range d.traces {
		if now.Sub(data.lastSeen) > traceTimeout {
			delete(d.traces, traceID)
			cleaned++
		}
	}
	if cleaned > 0 {
		d.logger.Debug("N+1 detector cleaned up stale traces", zap.Int("count", cleaned))
	}
	return cleaned
}

func (d *Detector) Shutdown(context.Context) error {
	d.stopOnce.Do(func() { close(d.stop) })
	return nil
}

func (d *Detector) ForceFlush(context.Context) error { return nil }
