// Package tracing はOpenTelemetryのトレーサー初期化を提供する。
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config はトレーシングの設定を表す。
type Config struct {
	// Endpoint はOTLP/HTTPのエクスポート先URL。空の場合はトレースを送信しない。
	Endpoint    string
	ServiceName string
}

// ShutdownFunc はバッファ済みのスパンを送信してプロバイダーを停止する。
type ShutdownFunc func(ctx context.Context) error

// Setup はグローバルなTracerProviderを設定する。
// Endpointが空の場合はOpenTelemetryのデフォルト（no-op）のまま何もしない。
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
