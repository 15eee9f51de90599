package counters

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Value is the accumulated amount counted for a key.
type Value interface {
	Dump() string
}

// IntegerValue is a counter value that only grows by one.
type IntegerValue struct {
	v atomic.Int64
}

// Increment adds one and returns the new value.
func (v *IntegerValue) Increment() int { return int(v.v.Add(1)) }

// Int returns the current value.
func (v *IntegerValue) Int() int { return int(v.v.Load()) }

func (v *IntegerValue) Dump() string { return fmt.Sprintf("IntegerValue: %d", v.Int()) }

// Counter is one entry of a counter map.
type Counter struct {
	Key   Key
	Value Value
}

type counterEntry struct {
	key   Key
	value Value
}

// CounterMap is a goroutine-safe mapping from keys to values.
type CounterMap struct {
	mu      sync.RWMutex
	entries map[string]*counterEntry
}

// NewCounterMap returns an empty map.
func NewCounterMap() *CounterMap {
	return &CounterMap{entries: make(map[string]*counterEntry)}
}

// Increment gets or creates the IntegerValue of key and adds one to it.
// It panics when the entry holds a value of another type.
func (m *CounterMap) Increment(key Key) int {
	if key == nil {
		panic("counters: increment of a nil key")
	}
	id := key.Identity()

	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		entry, ok = m.entries[id]
		if !ok {
			entry = &counterEntry{key: key, value: &IntegerValue{}}
			m.entries[id] = entry
		}
		m.mu.Unlock()
	}

	iv, ok := entry.value.(*IntegerValue)
	if !ok {
		panic(fmt.Sprintf("counters: cannot increment %T for %s", entry.value, key.Kind()))
	}
	return iv.Increment()
}

// Get returns the value stored for key.
func (m *CounterMap) Get(key Key) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key.Identity()]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Len returns the number of distinct keys.
func (m *CounterMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Reset drops every entry.
func (m *CounterMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*counterEntry)
}

// Snapshot returns the entries ordered by key dump.
func (m *CounterMap) Snapshot() []Counter {
	m.mu.RLock()
	out := make([]Counter, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, Counter{Key: e.key, Value: e.value})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Kind() != out[j].Key.Kind() {
			return out[i].Key.Kind() < out[j].Key.Kind()
		}
		return out[i].Key.Dump() < out[j].Key.Dump()
	})
	return out
}

// IntValue returns the integer behind v, or 0 for other value types.
func IntValue(v Value) int {
	if iv, ok := v.(*IntegerValue); ok {
		return iv.Int()
	}
	return 0
}

func dumpCounters(headline string, counters []Counter) string {
	var b strings.Builder
	b.WriteString(headline)
	for _, c := range counters {
		b.WriteString("\n")
		b.WriteString(c.Key.Dump())
		b.WriteString("\n\t")
		b.WriteString(c.Value.Dump())
	}
	return b.String()
}

func dumpSummary(headline string, counters []Counter) string {
	maxByKind := make(map[string]int)
	for _, c := range counters {
		kind := c.Key.Kind()
		if v := IntValue(c.Value); v > maxByKind[kind] {
			maxByKind[kind] = v
		} else if _, ok := maxByKind[kind]; !ok {
			maxByKind[kind] = v
		}
	}
	kinds := make([]string, 0, len(maxByKind))
	for kind := range maxByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var b strings.Builder
	b.WriteString(headline)
	for _, kind := range kinds {
		fmt.Fprintf(&b, "\n\t%s max: %d", kind, maxByKind[kind])
	}
	return b.String()
}
