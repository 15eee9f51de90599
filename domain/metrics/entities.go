package metrics

import (
	"time"
)

// --- Data Structures for Counter Reports ---

// ScopeReport describes one closed counter probe as seen by the exporter.
type ScopeReport struct {
	Timestamp    time.Time     `json:"timestamp"`
	Scope        string        `json:"scope"`
	ProbeID      string        `json:"probe_id"`
	Headline     string        `json:"headline"`
	Method       string        `json:"method,omitempty"`
	URL          string        `json:"url,omitempty"`
	DistinctKeys int           `json:"distinct_keys"`
	MaxValue     int           `json:"max_value"`
	Duration     time.Duration `json:"duration_ns"`
	Violated     bool          `json:"violated"`
	Postponed    bool          `json:"postponed"`
}

// ViolationEvent represents a probe that exceeded one of its thresholds.
type ViolationEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Scope     string    `json:"scope"`
	ProbeID   string    `json:"probe_id"`
	Headline  string    `json:"headline"`
	Message   string    `json:"message,omitempty"` // Optional assertion message
	Postponed bool      `json:"postponed"`
}

// NewViolationEvent creates a ViolationEvent for a violated report.
func NewViolationEvent(report ScopeReport, message string) ViolationEvent {
	return ViolationEvent{
		Timestamp: report.Timestamp,
		Scope:     report.Scope,
		ProbeID:   report.ProbeID,
		Headline:  report.Headline,
		Message:   message,
		Postponed: report.Postponed,
	}
}

// ScopeMetrics holds aggregated figures for one scope type.
type ScopeMetrics struct {
	TotalProbes   uint64
	TotalDuration uint64 // Stored in nanoseconds
	Violations    uint64
	Postponed     uint64
	MaxValue      int
}

// --- Snapshot Structures (for reporting) ---

// ScopeMetricsSnapshot is a read-only copy of a scope type's metrics.
type ScopeMetricsSnapshot struct {
	TotalProbes   uint64 `json:"total_probes"`
	AvgDurationNs uint64 `json:"avg_duration_ns"`
	AvgDuration   string `json:"avg_duration"`
	Violations    uint64 `json:"violations"`
	Postponed     uint64 `json:"postponed"`
	MaxValue      int    `json:"max_value"`
}
