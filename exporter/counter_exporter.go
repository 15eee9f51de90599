package exporter

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe/counters"
	"github.com/fllarpy/uiprobe/domain"
	"github.com/fllarpy/uiprobe/domain/metrics"
)

// CounterExporter is a span exporter that turns the spans of closed counter
// probes into scope reports. Spans from other instrumentation are ignored.
type CounterExporter struct {
	store  domain.StoreWriter
	logger *zap.Logger
}

var _ sdktrace.SpanExporter = (*CounterExporter)(nil)

func NewCounterExporter(store domain.StoreWriter, logger *zap.Logger) (*CounterExporter, error) {
	if store == nil {
		return nil, errors.New("exporter: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Initializing counter exporter.")
	return &CounterExporter{
		store:  store,
		logger: logger,
	}, nil
}

func (e *CounterExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		if span.InstrumentationScope().Name != counters.TracerName {
			continue
		}
		e.processProbeSpan(span)
	}
	return ctx.Err()
}

func (e *CounterExporter) Shutdown(ctx context.Context) error {
	e.logger.Debug("Counter exporter shut down.")
	return nil
}

func (e *CounterExporter) processProbeSpan(span sdktrace.ReadOnlySpan) {
	report := metrics.ScopeReport{
		Timestamp: span.EndTime(),
		Duration:  span.EndTime().Sub(span.StartTime()),
		Violated:  span.Status().Code == codes.Error,
	}

	for _, attr := range span.Attributes() {
		switch attr.Key {
		case counters.AttrScope:
			report.Scope = attr.Value.AsString()
		case counters.AttrProbeID:
			report.ProbeID = attr.Value.AsString()
		case counters.AttrHeadline:
			report.Headline = attr.Value.AsString()
		case counters.AttrDistinctKeys:
			report.DistinctKeys = int(attr.Value.AsInt64())
		case counters.AttrMaxValue:
			report.MaxValue = int(attr.Value.AsInt64())
		case counters.AttrPostponed:
			report.Postponed = attr.Value.AsBool()
		case semconv.URLFullKey:
			report.URL = attr.Value.AsString()
		case semconv.HTTPRequestMethodKey:
			report.Method = attr.Value.AsString()
		}
	}

	e.logger.Debug("Processed probe span",
		zap.String("scope", report.Scope),
		zap.String("headline", report.Headline),
		zap.Int("max_value", report.MaxValue),
		zap.Bool("violated", report.Violated))
	e.store.AddScope(report)

	if report.Violated {
		e.store.AddViolation(metrics.NewViolationEvent(report, exceptionMessage(span)))
	}
}

// exceptionMessage returns the message of the first recorded error.
func exceptionMessage(span sdktrace.ReadOnlySpan) string {
	for _, event := range span.Events() {
		if event.Name != semconv.ExceptionEventName {
			continue
		}
		if msg, ok := attributeValue(event.Attributes, semconv.ExceptionMessageKey); ok {
			return msg.AsString()
		}
	}
	return span.Status().Description
}

func attributeValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, attr := range attrs {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}
