package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/internal/infrastructure/monitoring"
)

func TestRuntimeExportsSpans(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.LoadConfig(config.NewViper(""))
	require.NoError(t, err)
	cfg.Log.Level = "error"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"

	zl, err := monitoring.NewZapLogger(&cfg.Log)
	require.NoError(t, err)
	exporter := tracetest.NewInMemoryExporter()
	rt, err := newRuntime(ctx, cfg, zl, sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	defer rt.close(ctx)

	err = rt.trace(ctx, "keygen", func(ctx context.Context) error {
		_, err := rt.custody.GenerateSymmetricKey(ctx, "", 0, tagOf("traced"))
		return err
	})
	require.NoError(t, err)

	spans := exporter.GetSpans().Snapshots()
	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "cli.keygen")
	require.Contains(t, byName, "custody.GenerateSymmetricKey")

	root := byName["cli.keygen"]
	child := byName["custody.GenerateSymmetricKey"]
	assert.Equal(t, root.SpanContext().TraceID(), child.SpanContext().TraceID())
	assert.Equal(t, root.SpanContext().SpanID(), child.Parent().SpanID())
}
