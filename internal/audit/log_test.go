package audit

import (
	"context"
	"testing"
)

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event name")
	}
	if err := LogEvent(context.Background(), "auth.login", map[string]any{"k": "v"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := requestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("request id=%q", got)
	}
	if got := requestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
	// Blank ids are not attached.
	ctx = WithRequestID(context.Background(), "   ")
	if got := requestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
