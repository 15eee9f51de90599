package counters

import (
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracerName is the instrumentation scope of probe spans.
const TracerName = "github.com/fllarpy/uiprobe/counters"

// Incrementer receives counted events. Data-access decorators depend on it.
type Incrementer interface {
	Increment(key Key)
}

// Collector is the contract the rest of the toolbox uses to talk to the
// counters subsystem.
type Collector interface {
	Incrementer
	AttachProbe(probe Probe)
	Reset()
	AssertCounter() error
	PostponeCounterError(err error)
}

var _ Collector = (*DataCollector)(nil)

// DataCollector is the root aggregator. Every increment is forwarded to the
// running probes attached to it and recorded in its own aggregate.
type DataCollector struct {
	counters *CounterMap

	mu     sync.RWMutex
	probes map[string]Probe
	order  []string

	postponedMu sync.Mutex
	postponed   []error

	phaseMu        sync.RWMutex
	phase          Phase
	configurations *CounterConfigurations

	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures a DataCollector.
type Option func(*DataCollector)

// WithLogger sets the logger used for assertion diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *DataCollector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracerProvider sets the provider of probe spans. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *DataCollector) {
		if tp != nil {
			c.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithConfigurations sets the threshold configurations.
func WithConfigurations(cfg *CounterConfigurations) Option {
	return func(c *DataCollector) {
		if cfg != nil {
			c.configurations = cfg
		}
	}
}

// NewDataCollector returns a collector in the setup phase using
// DefaultConfigurations unless overridden.
func NewDataCollector(opts ...Option) *DataCollector {
	c := &DataCollector{
		counters:       NewCounterMap(),
		probes:         make(map[string]Probe),
		phase:          PhaseSetup,
		configurations: DefaultConfigurations(),
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Increment records key in every running probe and in the aggregate.
func (c *DataCollector) Increment(key Key) {
	c.mu.RLock()
	probes := make([]Probe, 0, len(c.order))
	for _, id := range c.order {
		probes = append(probes, c.probes[id])
	}
	c.mu.RUnlock()

	for _, p := range probes {
		if p.IsRunning() {
			p.Increment(key)
		}
	}
	c.counters.Increment(key)
}

// AttachProbe registers probe so that it receives increments until it is
// closed or the collector is reset.
func (c *DataCollector) AttachProbe(probe Probe) {
	if probe == nil {
		panic("counters: attach of a nil probe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.probes[probe.ID()]; ok {
		return
	}
	c.probes[probe.ID()] = probe
	c.order = append(c.order, probe.ID())
}

func (c *DataCollector) detachProbe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.probes[id]; !ok {
		return
	}
	delete(c.probes, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Probes returns the attached probes in attach order.
func (c *DataCollector) Probes() []Probe {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Probe, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.probes[id])
	}
	return out
}

// Reset clears the aggregate and detaches every probe. Postponed errors are
// kept until AssertCounter reports them.
func (c *DataCollector) Reset() {
	c.mu.Lock()
	c.probes = make(map[string]Probe)
	c.order = nil
	c.mu.Unlock()

	c.counters.Reset()
}

// StartPhase selects the configuration used by subsequent assertions.
func (c *DataCollector) StartPhase(phase Phase) {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	c.phase = phase
	c.logger.Debug("counter phase started", zap.Stringer("phase", phase))
}

// Phase returns the current phase.
func (c *DataCollector) Phase() Phase {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()
	return c.phase
}

// Configurations returns the configurations in use.
func (c *DataCollector) Configurations() *CounterConfigurations {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()
	return c.configurations
}

// SetConfigurations replaces the configurations in use.
func (c *DataCollector) SetConfigurations(cfg *CounterConfigurations) {
	if cfg == nil {
		panic("counters: nil configurations")
	}
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	c.configurations = cfg
}

// Counters returns the aggregate ordered by key.
func (c *DataCollector) Counters() []Counter { return c.counters.Snapshot() }

// DumpHeadline describes the aggregate.
func (c *DataCollector) DumpHeadline() string { return "DataCollector, Phase = " + c.Phase().String() }

func (c *DataCollector) Dump() string { return dumpCounters(c.DumpHeadline(), c.Counters()) }

func (c *DataCollector) DumpSummary() string { return dumpSummary(c.DumpHeadline(), c.Counters()) }

// PostponeCounterError queues err until the next AssertCounter call.
func (c *DataCollector) PostponeCounterError(err error) {
	if err == nil {
		return
	}
	c.logger.Warn("counter assertion postponed", zap.Error(err))
	c.postponedMu.Lock()
	defer c.postponedMu.Unlock()
	c.postponed = append(c.postponed, err)
}

// PostponedErrors returns the queued errors without draining them.
func (c *DataCollector) PostponedErrors() []error {
	c.postponedMu.Lock()
	defer c.postponedMu.Unlock()
	return append([]error(nil), c.postponed...)
}

func (c *DataCollector) takePostponed() []error {
	c.postponedMu.Lock()
	defer c.postponedMu.Unlock()
	errs := c.postponed
	c.postponed = nil
	return errs
}

// TakePostponedErrors drains the queued errors, each wrapped in a
// PostponedCounterError. It returns nil when nothing was queued.
func (c *DataCollector) TakePostponedErrors() error {
	var errs []error
	for _, err := range c.takePostponed() {
		errs = append(errs, &PostponedCounterError{Err: err})
	}
	return errors.Join(errs...)
}

// AssertCounter reports the postponed errors and asserts the aggregate
// against the phase threshold.
func (c *DataCollector) AssertCounter() error {
	var errs []error
	if err := c.TakePostponedErrors(); err != nil {
		errs = append(errs, err)
	}

	cfg := c.phaseConfiguration(nil)
	if err := assertCounters(nil, c.DumpHeadline(), c.Counters(), cfg, cfg.PhaseThreshold); err != nil {
		c.logger.Error("phase counter threshold exceeded", zap.Stringer("phase", c.Phase()), zap.Error(err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AssertProbe asserts the counters of probe against the threshold that
// applies to its scope type.
func (c *DataCollector) AssertProbe(probe Probe) error {
	cfg := c.phaseConfiguration(probe)
	threshold := cfg.PhaseThreshold
	if s, ok := probe.(ThresholdSelector); ok {
		threshold = s.SelectThreshold(cfg)
	}

	err := assertCounters(probe, probe.DumpHeadline(), probe.Counters(), cfg, threshold)
	if err != nil {
		c.logger.Error("probe counter threshold exceeded",
			zap.String("probe", probe.DumpHeadline()),
			zap.Stringer("phase", c.Phase()),
			zap.Error(err))
	}
	return err
}

func (c *DataCollector) phaseConfiguration(probe Probe) *PhaseCounterConfiguration {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()

	if c.phase == PhaseSetup {
		return &c.configurations.Setup
	}
	running := &c.configurations.Running
	if keyed, ok := probe.(ConfigurationKeyed); ok {
		if cfg, found := running.Lookup(keyed.ConfigurationKey()); found {
			return cfg
		}
	}
	return &running.PhaseCounterConfiguration
}

func assertCounters(probe Probe, headline string, counters []Counter, cfg *PhaseCounterConfiguration, threshold ThresholdConfiguration) error {
	if threshold.Disable {
		return nil
	}

	var errs []error
	for _, counter := range counters {
		if cfg.excluded(counter.Key) {
			continue
		}
		limited, ok := counter.Key.(LimitedKey)
		if !ok {
			continue
		}
		setting, limit, ok := limited.Limit(threshold)
		if !ok {
			continue
		}
		if v := IntValue(counter.Value); v > limit {
			frozen := &IntegerValue{}
			frozen.v.Store(int64(v))
			errs = append(errs, &CounterThresholdError{
				Probe:     probe,
				Headline:  headline,
				Key:       counter.Key,
				Value:     frozen,
				Setting:   setting,
				Threshold: limit,
			})
		}
	}
	return errors.Join(errs...)
}
