package audit

import (
	"context"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/logger"
)

// LogAuditSink writes audit events as structured log lines.
type LogAuditSink struct {
	logger logger.Logger
}

// NewLogAuditSink creates a sink that logs through log.
func NewLogAuditSink(log logger.Logger) *LogAuditSink {
	return &LogAuditSink{logger: log.WithComponent("audit")}
}

func (s *LogAuditSink) Record(ctx context.Context, event models.AuditEvent) error {
	s.logger.Info(ctx, "Audit event", logger.Fields{
		"event_id":   event.EventID.String(),
		"event_type": event.EventType,
		"key_id":     event.KeyID,
		"kind":       event.Kind,
		"tag":        event.Tag,
		"algorithm":  event.Algorithm,
		"bits":       event.Bits,
		"result":     event.Result,
		"message":    event.Message,
	})
	return nil
}

var _ service.AuditSink = (*LogAuditSink)(nil)
