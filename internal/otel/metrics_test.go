package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.RemindersSent == nil {
		t.Error("RemindersSent is nil")
	}
	if m.RemindersSuppressed == nil {
		t.Error("RemindersSuppressed is nil")
	}
	if m.RemindersPaused == nil {
		t.Error("RemindersPaused is nil")
	}
	if m.ActiveSessions == nil {
		t.Error("ActiveSessions is nil")
	}
	if m.EvalDuration == nil {
		t.Error("EvalDuration is nil")
	}
	if m.HostReconnects == nil {
		t.Error("HostReconnects is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop meter: %v", err)
	}
	// Instruments from a noop meter still accept recordings.
	m.RemindersSent.Add(context.Background(), 1)
	m.EvalDuration.Record(context.Background(), 0.5)
}
