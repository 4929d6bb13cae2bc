package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/pkg/constants"
	custodyerrors "github.com/turtacn/custody/pkg/errors"
	"github.com/turtacn/custody/pkg/logger"
)

func TestZapLogger_RedactsSensitiveFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLoggerFromCore(core).WithComponent("test")

	log.Info(context.Background(), "stored", logger.Fields{
		"tag":          "com.example.priv",
		"key_material": []byte{1, 2, 3},
		"plaintext":    "Hello, RSA!",
	})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "com.example.priv", fields["tag"])
	assert.Equal(t, logger.RedactedValue, fields["key_material"])
	assert.Equal(t, logger.RedactedValue, fields["plaintext"])
	assert.Equal(t, "test", fields["component"])
}

func TestZapLogger_ContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLoggerFromCore(core)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	ctx = context.WithValue(ctx, constants.ContextKeyRequestID, "req-1")

	log.Error(ctx, "failed", errors.New("boom"))
	span.End()

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceID(ctx))
}

func TestZapLogger_SetLevel(t *testing.T) {
	l, err := NewZapLogger(&config.LogConfig{Level: "warn", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	l.SetLevel("debug")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	child := l.WithComponent("child").(*ZapLogger)
	l.SetLevel("error")
	assert.False(t, child.Core().Enabled(zapcore.WarnLevel))
}

func TestMetrics_RecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("custody", reg)

	m.RecordOperation("custody.Resolve", "success", 3*time.Millisecond)
	m.RecordOperation("custody.Resolve", "success", time.Millisecond)
	m.RecordOperation("custody.Resolve", "not_found", time.Millisecond)
	m.RecordCacheAccess(true)
	m.RecordCacheAccess(false)
	m.RecordCacheAccess(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("custody.Resolve", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("custody.Resolve", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheAccesses.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheAccesses.WithLabelValues("miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationLatency))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "custody_operations_total")
	assert.Contains(t, names, "custody_operation_duration_seconds")
	assert.Contains(t, names, "custody_handle_cache_accesses_total")
}

func TestTracingManager_Disabled(t *testing.T) {
	tm, err := NewTracingManager(config.TracingConfig{Enabled: false}, logger.NewNoopLogger())
	require.NoError(t, err)
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestTracingManager_Exporters(t *testing.T) {
	for _, exporter := range []string{"otlp", "stdout"} {
		t.Run(exporter, func(t *testing.T) {
			tm, err := NewTracingManager(config.TracingConfig{
				Enabled:     true,
				ServiceName: "custody-test",
				Exporter:    exporter,
				Endpoint:    "127.0.0.1:4318",
				Insecure:    true,
			}, logger.NewNoopLogger())
			require.NoError(t, err)
			require.NotNil(t, tm.provider)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = tm.Shutdown(ctx)
		})
	}

	_, err := NewTracingManager(config.TracingConfig{Enabled: true, Exporter: "jaeger"}, logger.NewNoopLogger())
	assert.Error(t, err)
}

func TestTracingManager_TraceOperation(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tm, err := NewTracingManager(
		config.TracingConfig{Enabled: true, ServiceName: "custody-test", Exporter: "none"},
		logger.NewNoopLogger(),
		sdktrace.WithSpanProcessor(recorder),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tm.Shutdown(context.Background()) })

	err = TraceOperation(context.Background(), tm, "cli.keygen", func(ctx context.Context) error {
		assert.NotEmpty(t, TraceID(ctx))
		return nil
	}, attribute.Int("custody.bits", 2048))
	require.NoError(t, err)

	failure := custodyerrors.ErrNotFound("public", "absent")
	err = TraceOperation(context.Background(), tm, "cli.resolve", func(context.Context) error {
		return failure
	})
	assert.ErrorIs(t, err, failure)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "cli.keygen", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "cli.resolve", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "custody-test", serviceName(spans[1]))
	assert.Contains(t, spans[0].Attributes(), attribute.Int("custody.bits", 2048))
	assert.Contains(t, spans[1].Attributes(), attribute.String("custody.error_code", string(custodyerrors.CodeOf(failure))))
}

func serviceName(span sdktrace.ReadOnlySpan) string {
	for _, kv := range span.Resource().Attributes() {
		if kv.Key == "service.name" {
			return kv.Value.AsString()
		}
	}
	return ""
}
