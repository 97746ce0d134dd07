// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge so counters can be
// scraped from a standard /metrics endpoint.
//
// A package-level default [Metrics] instance is available via [Default];
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all bot metrics.
const meterName = "github.com/whitelam-dev/debateauditor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// AuditsStarted counts audit sessions created by a trigger message.
	AuditsStarted metric.Int64Counter

	// AuditsCompleted counts terminal audit outcomes. Use with attribute:
	//   attribute.String("outcome", "verdict"|"error")
	AuditsCompleted metric.Int64Counter

	// LLMRequests counts LLM gateway calls. Use with attributes:
	//   attribute.String("op", "classify"|"summary"|"analysis"),
	//   attribute.String("status", "ok"|"error")
	LLMRequests metric.Int64Counter

	// SegmentsProcessed counts live capture segments that finished processing.
	SegmentsProcessed metric.Int64Counter

	// SpeakersTranscribed counts per-speaker transcription attempts. Use with
	// attribute: attribute.String("status", "ok"|"error")
	SpeakersTranscribed metric.Int64Counter

	// ActiveAudits tracks the number of in-progress audit sessions.
	ActiveAudits metric.Int64UpDownCounter

	// ActiveLiveSessions tracks the number of live voice sessions.
	ActiveLiveSessions metric.Int64UpDownCounter

	// LLMDuration tracks LLM call latency in seconds. Use with attribute:
	//   attribute.String("op", ...)
	LLMDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments against the given provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.AuditsStarted, err = meter.Int64Counter("audits_started_total",
		metric.WithDescription("Audit sessions created by a trigger message")); err != nil {
		return nil, err
	}
	if m.AuditsCompleted, err = meter.Int64Counter("audits_completed_total",
		metric.WithDescription("Terminal audit outcomes by kind")); err != nil {
		return nil, err
	}
	if m.LLMRequests, err = meter.Int64Counter("llm_requests_total",
		metric.WithDescription("LLM gateway calls by operation and status")); err != nil {
		return nil, err
	}
	if m.SegmentsProcessed, err = meter.Int64Counter("live_segments_total",
		metric.WithDescription("Live capture segments processed")); err != nil {
		return nil, err
	}
	if m.SpeakersTranscribed, err = meter.Int64Counter("speakers_transcribed_total",
		metric.WithDescription("Per-speaker transcription attempts by status")); err != nil {
		return nil, err
	}
	if m.ActiveAudits, err = meter.Int64UpDownCounter("active_audits",
		metric.WithDescription("In-progress audit sessions")); err != nil {
		return nil, err
	}
	if m.ActiveLiveSessions, err = meter.Int64UpDownCounter("active_live_sessions",
		metric.WithDescription("Active live voice capture sessions")); err != nil {
		return nil, err
	}
	if m.LLMDuration, err = meter.Float64Histogram("llm_duration_seconds",
		metric.WithDescription("LLM call latency in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the package-level Metrics instance, creating it against
// the global meter provider on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The OTel no-op provider never errors; a real provider error
			// here means misconfiguration, so fall back to no-op instruments.
			m, _ = NewMetrics(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordLLM records one LLM gateway call outcome on m. A nil *Metrics is a
// no-op, so call sites never need nil checks.
func (m *Metrics) RecordLLM(ctx context.Context, op string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.LLMRequests.Add(ctx, 1, attrs)
	m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
}
