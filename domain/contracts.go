package domain

import (
	"net/http"

	"github.com/fllarpy/uiprobe/domain/metrics"
)

// Snapshot is a point-in-time, read-only copy of the counter report.
// Application services and reporters work with this structure.
type Snapshot struct {
	Scopes     map[string]metrics.ScopeMetricsSnapshot `json:"scopes"`
	Recent     []metrics.ScopeReport                   `json:"recent_scopes"`
	Violations []metrics.ViolationEvent                `json:"violations"`
}

// StoreReader defines the contract for reading reports from a store.
type StoreReader interface {
	GetSnapshot() *Snapshot
}

// StoreWriter defines the contract for writing reports to a store.
type StoreWriter interface {
	AddScope(report metrics.ScopeReport)
	AddViolation(event metrics.ViolationEvent)
}

// Store is the combined interface for a report store.
type Store interface {
	StoreReader
	StoreWriter
}

// Reporter defines a component that can serve reports, e.g., via an HTTP handler.
type Reporter interface {
	Handler() http.Handler
}
