// Package audit implements custody audit sinks.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/logger"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the message value.
const SignatureHeader = "custody-signature"

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAuditSink is a Kafka-backed implementation of the AuditSink.
type KafkaAuditSink struct {
	writer     MessageWriter
	signingKey []byte
	logger     logger.Logger
}

// NewKafkaWriter creates the Kafka writer for the audit topic.
func NewKafkaWriter(cfg config.AuditConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewKafkaAuditSink creates a sink on top of writer. Messages are signed when signingKey is set.
func NewKafkaAuditSink(writer MessageWriter, signingKey []byte, log logger.Logger) *KafkaAuditSink {
	return &KafkaAuditSink{
		writer:     writer,
		signingKey: signingKey,
		logger:     log.WithComponent("KafkaAuditSink"),
	}
}

// Record sends an audit event to the Kafka topic. Events of one key share a partition.
func (p *KafkaAuditSink) Record(ctx context.Context, event models.AuditEvent) error {
	bytes, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal audit event", err)
		return err
	}

	msg := kafka.Message{
		Key:   []byte(string(event.Kind) + ":" + event.Tag),
		Value: bytes,
		Time:  event.Timestamp,
	}
	if len(p.signingKey) > 0 {
		msg.Headers = append(msg.Headers, kafka.Header{Key: SignatureHeader, Value: []byte(signBytes(bytes, p.signingKey))})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error(ctx, "failed to write message to Kafka", err, logger.Fields{"event_type": event.EventType})
		return err
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaAuditSink) Close() error {
	return p.writer.Close()
}

var _ service.AuditSink = (*KafkaAuditSink)(nil)
