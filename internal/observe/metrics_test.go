package observe

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(provider)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	m.AuditsStarted.Add(ctx, 1)
	m.ActiveAudits.Add(ctx, 1)
	m.RecordLLM(ctx, "summary", 0.5, nil)
	m.RecordLLM(ctx, "analysis", 1.2, errors.New("quota"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected recorded metrics")
	}

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	for _, want := range []string{"audits_started_total", "active_audits", "llm_requests_total", "llm_duration_seconds"} {
		if !names[want] {
			t.Errorf("metric %q not recorded", want)
		}
	}
}

func TestRecordLLMNilReceiver(t *testing.T) {
	var m *Metrics
	// Must not panic.
	m.RecordLLM(context.Background(), "summary", 0.1, nil)
}
