package obsbus

import (
	"context"
	"testing"
)

func TestInitTracerProviderNoopWhenDisabled(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected a non-nil noop provider")
	}
}

func TestTracerReturnsUsableTracer(t *testing.T) {
	tr := Tracer("aria/test")
	if tr == nil {
		t.Fatal("expected a non-nil tracer")
	}
	_, span := tr.Start(context.Background(), "test-span")
	defer span.End()
}
