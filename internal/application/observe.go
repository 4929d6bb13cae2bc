package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/custody/internal/domain/service"
	custodyerrors "github.com/turtacn/custody/pkg/errors"
)

const outcomeSuccess = "success"

// operation tracks the span and latency of one service call.
type operation struct {
	name    string
	start   time.Time
	span    trace.Span
	metrics service.Metrics
}

func startOperation(ctx context.Context, tracer trace.Tracer, metrics service.Metrics, name string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &operation{
		name:    name,
		start:   time.Now(),
		span:    span,
		metrics: metrics,
	}
}

// end closes the span and records the outcome: "success" or the taxonomy code of err.
func (o *operation) end(err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = string(custodyerrors.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
		o.span.SetStatus(codes.Error, outcome)
		o.span.SetAttributes(attribute.String("custody.error_code", outcome))
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.End()
	o.metrics.RecordOperation(o.name, outcome, time.Since(o.start))
}
