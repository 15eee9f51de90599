package inmemory

import (
	"sync"
	"time"

	"github.com/fllarpy/uiprobe/domain"
	"github.com/fllarpy/uiprobe/domain/metrics"
)

const (
	// Default buffer size for recent scopes and violations.
	defaultEventBufferSize = 100
)

// --- Store Implementation ---

// Store is a thread-safe in-memory store of counter reports.
// It implements the domain.Store interface.
var _ domain.Store = (*Store)(nil)

type Store struct {
	mu         sync.RWMutex
	scopes     map[string]*metrics.ScopeMetrics
	recent     *ringBuffer[metrics.ScopeReport]
	violations *ringBuffer[metrics.ViolationEvent]
}

// NewStore creates and initializes a new Store.
func NewStore() *Store {
	return NewStoreWithSize(defaultEventBufferSize)
}

// NewStoreWithSize creates a Store that keeps the given number of recent
// scopes and violations.
func NewStoreWithSize(size int) *Store {
	if size <= 0 {
		size = defaultEventBufferSize
	}
	return &Store{
		scopes:     make(map[string]*metrics.ScopeMetrics),
		recent:     newRingBuffer[metrics.ScopeReport](size),
		violations: newRingBuffer[metrics.ViolationEvent](size),
	}
}

// AddScope records a closed probe.
func (s *Store) AddScope(report metrics.ScopeReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, ok := s.scopes[report.Scope]
	if !ok {
		scope = &metrics.ScopeMetrics{}
		s.scopes[report.Scope] = scope
	}

	scope.TotalProbes++
	scope.TotalDuration += uint64(report.Duration.Nanoseconds())
	if report.Violated {
		scope.Violations++
	}
	if report.Postponed {
		scope.Postponed++
	}
	if report.MaxValue > scope.MaxValue {
		scope.MaxValue = report.MaxValue
	}

	s.recent.add(report)
}

// AddViolation adds a new violation to the ring buffer.
func (s *Store) AddViolation(event metrics.ViolationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations.add(event)
}

// Reset drops every report.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = make(map[string]*metrics.ScopeMetrics)
	s.recent.clear()
	s.violations.clear()
}

// GetSnapshot returns a read-only copy of the current report.
func (s *Store) GetSnapshot() *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &domain.Snapshot{
		Scopes:     make(map[string]metrics.ScopeMetricsSnapshot),
		Recent:     s.recent.getAll(),
		Violations: s.violations.getAll(),
	}

	for name, m := range s.scopes {
		var avgTimeNs uint64
		if m.TotalProbes > 0 {
			avgTimeNs = m.TotalDuration / m.TotalProbes
		}
		snapshot.Scopes[name] = metrics.ScopeMetricsSnapshot{
			TotalProbes:   m.TotalProbes,
			AvgDurationNs: avgTimeNs,
			AvgDuration:   time.Duration(avgTimeNs).String(),
			Violations:    m.Violations,
			Postponed:     m.Postponed,
			MaxValue:      m.MaxValue,
		}
	}

	return snapshot
}

// --- Ring Buffer for Events ---

// ringBuffer is a generic, thread-unsafe circular buffer.
// The locking must be handled by the parent (Store).
type ringBuffer[T any] struct {
	buffer []T
	size   int
	start  int
	count  int
}

func newRingBuffer[T any](size int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts an element into the buffer, overwriting the oldest if full.
func (rb *ringBuffer[T]) add(item T) {
	index := (rb.start + rb.count) % rb.size
	rb.buffer[index] = item
	if rb.count < rb.size {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.size
	}
}

func (rb *ringBuffer[T]) clear() {
	var zero T
	for i := range rb.buffer {
		rb.buffer[i] = zero
	}
	rb.start, rb.count = 0, 0
}

// getAll returns all elements in the buffer in order.
func (rb *ringBuffer[T]) getAll() []T {
	if rb.count == 0 {
		return nil
	}
	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return items
}
