package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// ZapLogger is the zap implementation of logger.Logger. Field values whose keys name
// secrets are masked before they reach the encoder.
type ZapLogger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// NewZapLogger builds a logger from the log section of the configuration.
func NewZapLogger(cfg *config.LogConfig) (*ZapLogger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	encoding := "json"
	if cfg.Format == "console" || cfg.Format == "text" {
		encoding = "console"
	}
	output := cfg.OutputPath
	if output == "" {
		output = "stderr"
	}

	zc := zap.Config{
		Level:            level,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}
	base, err := zc.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return &ZapLogger{Logger: base, level: level}, nil
}

// NewZapLoggerFromCore wraps an existing zap core, e.g. an observer core in tests.
func NewZapLoggerFromCore(core zapcore.Core) *ZapLogger {
	return &ZapLogger{Logger: zap.New(core), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// SetLevel changes the level of this logger and every logger derived from it.
func (l *ZapLogger) SetLevel(s string) {
	l.level.SetLevel(parseLevel(s))
}

func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...logger.Fields) {
	l.Logger.Debug(msg, l.convertFields(ctx, fields...)...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...logger.Fields) {
	l.Logger.Info(msg, l.convertFields(ctx, fields...)...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...logger.Fields) {
	l.Logger.Warn(msg, l.convertFields(ctx, fields...)...)
}

func (l *ZapLogger) Error(ctx context.Context, msg string, err error, fields ...logger.Fields) {
	l.Logger.Error(msg, append(l.convertFields(ctx, fields...), zap.Error(err))...)
}

func (l *ZapLogger) Fatal(ctx context.Context, msg string, err error, fields ...logger.Fields) {
	l.Logger.Fatal(msg, append(l.convertFields(ctx, fields...), zap.Error(err))...)
}

func (l *ZapLogger) WithFields(fields logger.Fields) logger.Logger {
	return &ZapLogger{Logger: l.Logger.With(l.convertFields(context.Background(), fields)...), level: l.level}
}

func (l *ZapLogger) WithComponent(component string) logger.Logger {
	return &ZapLogger{Logger: l.Logger.With(zap.String("component", component)), level: l.level}
}

func (l *ZapLogger) ForContext(ctx context.Context) logger.Logger {
	if ctxLogger, ok := ctx.Value(constants.ContextKeyLogger).(logger.Logger); ok {
		return ctxLogger
	}
	return l
}

func (l *ZapLogger) convertFields(ctx context.Context, fields ...logger.Fields) []zap.Field {
	zapFields := make([]zap.Field, 0)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		zapFields = append(zapFields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
	}
	if requestID, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
		zapFields = append(zapFields, zap.String("request_id", requestID))
	}

	for k, v := range logger.Merge(fields...) {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return zapFields
}

var _ logger.Logger = (*ZapLogger)(nil)

//Personal.AI order the ending
