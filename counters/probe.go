package counters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Probe owns the counters of one scope (navigation, page load, request,
// session). Closing a probe asserts its counters exactly once.
type Probe interface {
	ID() string
	Increment(key Key)
	Counters() []Counter
	IsRunning() bool
	DumpHeadline() string
	Dump() string
	DumpSummary() string
	Close() error
}

// OutOfTestContext is implemented by probes that run inside the application
// under test rather than on the goroutine driving the test. Their assertion
// errors are postponed instead of returned from Close.
type OutOfTestContext interface {
	RunsOutOfTestContext() bool
}

// ThresholdSelector is implemented by probes that pick their own threshold
// bucket from a phase configuration.
type ThresholdSelector interface {
	SelectThreshold(cfg *PhaseCounterConfiguration) ThresholdConfiguration
}

const (
	stateNotRunning int32 = iota
	stateRunning
	stateDisposed
)

// Span attribute keys set on probe spans.
const (
	AttrScope        = attribute.Key("counters.scope")
	AttrProbeID      = attribute.Key("counters.probe_id")
	AttrHeadline     = attribute.Key("counters.headline")
	AttrDistinctKeys = attribute.Key("counters.distinct_keys")
	AttrMaxValue     = attribute.Key("counters.max_value")
	AttrPostponed    = attribute.Key("counters.postponed")
)

// ProbeBase implements the probe lifecycle. Scope probes embed it and call
// Init from their constructor.
type ProbeBase struct {
	id        string
	collector *DataCollector
	owner     Probe
	counters  *CounterMap
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error

	ctx  context.Context
	span trace.Span

	// CaptureCompleted is called once the probe has been asserted and released.
	CaptureCompleted func(Probe)
	// OnAssertData replaces the default assertion through the collector.
	OnAssertData func() error
	// OnClose releases resources held by the owner. It runs even when the
	// assertion fails.
	OnClose func() error
}

// Init starts the probe and attaches owner to collector. scope names the span
// opened for the probe's lifetime.
func (b *ProbeBase) Init(ctx context.Context, collector *DataCollector, owner Probe, scope string, attrs ...attribute.KeyValue) {
	if collector == nil {
		panic("counters: probe requires a collector")
	}
	if owner == nil {
		panic("counters: probe requires an owner")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.id = uuid.NewString()
	b.collector = collector
	b.owner = owner
	b.counters = NewCounterMap()

	attrs = append(attrs, AttrScope.String(scope), AttrProbeID.String(b.id))
	b.ctx, b.span = collector.tracer.Start(ctx, "counters."+scope, trace.WithAttributes(attrs...))

	b.state.Store(stateRunning)
	collector.AttachProbe(owner)
}

func (b *ProbeBase) ID() string { return b.id }

// Context carries the probe's span.
func (b *ProbeBase) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// Collector returns the collector the probe is attached to.
func (b *ProbeBase) Collector() *DataCollector { return b.collector }

func (b *ProbeBase) IsRunning() bool { return b.state.Load() == stateRunning }

// Increment is ignored once the probe is no longer running.
func (b *ProbeBase) Increment(key Key) {
	if !b.IsRunning() {
		return
	}
	b.counters.Increment(key)
}

func (b *ProbeBase) Counters() []Counter {
	if b.counters == nil {
		return nil
	}
	return b.counters.Snapshot()
}

func (b *ProbeBase) DumpHeadline() string { return fmt.Sprintf("Probe %s", b.id) }

func (b *ProbeBase) Dump() string { return dumpCounters(b.headline(), b.Counters()) }

func (b *ProbeBase) DumpSummary() string { return dumpSummary(b.headline(), b.Counters()) }

func (b *ProbeBase) headline() string {
	if b.owner != nil {
		return b.owner.DumpHeadline()
	}
	return b.DumpHeadline()
}

// Close asserts the counters, releases the owner's resources and marks the
// probe as disposed. Only the first call has an effect; closing a probe that
// was never started is a no-op.
func (b *ProbeBase) Close() error {
	if b.state.Load() == stateNotRunning {
		return nil
	}
	b.closeOnce.Do(func() { b.closeErr = b.dispose() })
	return b.closeErr
}

func (b *ProbeBase) dispose() (err error) {
	var assertErr error
	defer func() {
		var closeErr error
		if b.OnClose != nil {
			closeErr = b.OnClose()
		}
		b.state.Store(stateDisposed)
		b.collector.detachProbe(b.id)

		postponed := assertErr != nil && runsOutOfTestContext(b.owner)
		b.endSpan(assertErr, postponed)

		if b.CaptureCompleted != nil {
			b.CaptureCompleted(b.owner)
		}

		if postponed {
			b.collector.PostponeCounterError(assertErr)
			assertErr = nil
		}
		if closeErr == nil {
			err = assertErr
			return
		}
		err = errors.Join(assertErr, closeErr)
	}()

	if b.OnAssertData != nil {
		assertErr = b.OnAssertData()
	} else {
		assertErr = b.collector.AssertProbe(b.owner)
	}
	return nil
}

func (b *ProbeBase) endSpan(assertErr error, postponed bool) {
	counters := b.Counters()
	maxValue := 0
	for _, c := range counters {
		if v := IntValue(c.Value); v > maxValue {
			maxValue = v
		}
	}
	b.span.SetAttributes(
		AttrHeadline.String(b.headline()),
		AttrDistinctKeys.Int(len(counters)),
		AttrMaxValue.Int(maxValue),
		AttrPostponed.Bool(postponed),
	)
	if assertErr != nil {
		b.span.RecordError(assertErr)
		b.span.SetStatus(codes.Error, ErrCounterThreshold.Error())
	}
	b.span.End()
}

func runsOutOfTestContext(p Probe) bool {
	o, ok := p.(OutOfTestContext)
	return ok && o.RunsOutOfTestContext()
}
