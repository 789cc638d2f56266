package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultDash(t *testing.T) {
	if got := TraceID(context.Background()); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	if got := TraceID(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty trace ids")
	}
	if a == b {
		t.Fatalf("expected unique trace ids, got %q twice", a)
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Fatalf("expected empty session id, got %q", got)
	}
	ctx := WithSessionID(context.Background(), "s1")
	if got := SessionID(ctx); got != "s1" {
		t.Fatalf("expected s1, got %q", got)
	}
}
