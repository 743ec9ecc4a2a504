package tracing

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestSetup_EmptyEndpointIsNoop(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Config{ServiceName: "manabiya"})
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Error("global TracerProvider should not change when endpoint is empty")
	}
}

func TestSetup_WithEndpointInstallsProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Setup(context.Background(), Config{
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "manabiya-test",
	})
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if otel.GetTracerProvider() == before {
		t.Error("global TracerProvider should be replaced")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
