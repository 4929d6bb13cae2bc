// Package monitoring 提供日志、指标与分布式追踪的实现
package monitoring

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/pkg/constants"
	custodyerrors "github.com/turtacn/custody/pkg/errors"
	"github.com/turtacn/custody/pkg/logger"
)

// TracingManager owns the process TracerProvider. When tracing is disabled it hands out the
// global no-op tracer, so callers never need to check.
// TracingManager 管理进程的 TracerProvider；禁用时使用全局空追踪器。
type TracingManager struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	logger   logger.Logger
}

// NewTracingManager 创建追踪管理器。导出器由 cfg.Exporter 选择；opts 可附加额外的 span 处理器。
func NewTracingManager(cfg config.TracingConfig, log logger.Logger, opts ...sdktrace.TracerProviderOption) (*TracingManager, error) {
	tm := &TracingManager{logger: log.WithComponent("Tracing")}
	if !cfg.Enabled {
		tm.tracer = otel.Tracer(constants.TracerName)
		tm.logger.Debug(context.Background(), "Tracing is disabled")
		return tm, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	exporter, err := newSpanExporter(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}
	base := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	if exporter != nil {
		base = append(base, sdktrace.WithBatcher(exporter))
	}
	tm.provider = sdktrace.NewTracerProvider(append(base, opts...)...)
	tm.tracer = tm.provider.Tracer(constants.TracerName)

	// services obtain their tracers through otel.Tracer
	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tm.logger.Info(context.Background(), "Tracing initialized", logger.Fields{
		"service_name": cfg.ServiceName,
		"exporter":     cfg.Exporter,
	})
	return tm, nil
}

// newSpanExporter returns nil for the "none" exporter.
func newSpanExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		// stdout carries command output
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case "otlp", "":
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// StartSpan starts a span named name under ctx.
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span in ctx as failed. Custody errors add their taxonomy code as
// custody.error_code.
// RecordError 将 ctx 中的 span 标记为失败，并附加托管错误码。
func (tm *TracingManager) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if code := custodyerrors.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("custody.error_code", string(code)))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace id of the span in ctx, or "" outside a span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Shutdown flushes and stops the provider.
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	if err := tm.provider.Shutdown(ctx); err != nil {
		tm.logger.Error(ctx, "Failed to shutdown tracing provider", err)
		return err
	}
	return nil
}

// TraceOperation runs fn inside a span and records its outcome.
func TraceOperation(ctx context.Context, tm *TracingManager, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := tm.StartSpan(ctx, name, attrs...)
	defer span.End()

	if err := fn(ctx); err != nil {
		tm.RecordError(ctx, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

//Personal.AI order the ending
