package countingsql

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/fllarpy/uiprobe/counters"
)

// contextKey is an unexported type for keys defined in this package.
type contextKey struct{}

var collectorKey = contextKey{}

// ContextWithCollector returns a context whose database calls are counted on
// sink instead of the collector the driver was registered with. Handlers can
// use it for per-request collectors.
func ContextWithCollector(parent context.Context, sink counters.Incrementer) context.Context {
	return context.WithValue(parent, collectorKey, sink)
}

// CollectorFromContext returns the sink stored by ContextWithCollector.
func CollectorFromContext(ctx context.Context) (counters.Incrementer, bool) {
	sink, ok := ctx.Value(collectorKey).(counters.Incrementer)
	return sink, ok && sink != nil
}

// recorder turns driver calls into counter increments.
type recorder struct {
	sink counters.Incrementer
}

func (r recorder) target(ctx context.Context) counters.Incrementer {
	if ctx != nil {
		if sink, ok := CollectorFromContext(ctx); ok {
			return sink
		}
	}
	return r.sink
}

// countCommand counts one execution attempt of query and returns the key of
// the rows it may open.
func countCommand(sink counters.Incrementer, query string, params []counters.Parameter) *counters.ReaderReadKey {
	if sink == nil || query == "" {
		return nil
	}
	sink.Increment(counters.NewCommandExecuteKey(query, params...))
	sink.Increment(counters.NewCommandTextExecuteKey(query, params...))
	return counters.NewReaderReadKey(query, params...)
}

func namedParameters(args []driver.NamedValue) []counters.Parameter {
	params := make([]counters.Parameter, len(args))
	for i, nv := range args {
		name := nv.Name
		if name == "" {
			name = fmt.Sprintf("p%d", nv.Ordinal-1)
		}
		params[i] = counters.Parameter{Name: name, Value: nv.Value}
	}
	return params
}

func valueParameters(args []driver.Value) []counters.Parameter {
	params := make([]counters.Parameter, len(args))
	for i, v := range args {
		params[i] = counters.Parameter{Name: fmt.Sprintf("p%d", i), Value: v}
	}
	return params
}

func namedValueToValue(named []driver.NamedValue) ([]driver.Value, error) {
	vs := make([]driver.Value, len(named))
	for i, nv := range named {
		if nv.Name != "" {
			return nil, fmt.Errorf("countingsql: driver does not support the use of Named Parameters")
		}
		vs[i] = nv.Value
	}
	return vs, nil
}
