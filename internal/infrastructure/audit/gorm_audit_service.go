package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
)

// auditRecord is the row layout of custody_audit_events. Tags are opaque bytes and are
// stored hex encoded.
type auditRecord struct {
	EventID   string    `gorm:"primaryKey;size:36"`
	EventType string    `gorm:"size:64;index"`
	KeyID     string    `gorm:"size:36;index"`
	Kind      string    `gorm:"size:16"`
	TagHex    string    `gorm:"size:512"`
	Algorithm string    `gorm:"size:32"`
	Bits      int
	Result    string    `gorm:"size:16"`
	Message   string    `gorm:"size:255"`
	Signature string    `gorm:"size:64"`
	Timestamp time.Time `gorm:"index"`
}

func (auditRecord) TableName() string { return "custody_audit_events" }

// GormAuditSink stores audit events in a relational database.
type GormAuditSink struct {
	db         *gorm.DB
	signingKey []byte
}

// NewGormAuditSink creates the sink and migrates its table.
func NewGormAuditSink(db *gorm.DB, signingKey []byte) (*GormAuditSink, error) {
	if err := db.AutoMigrate(&auditRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return &GormAuditSink{db: db, signingKey: signingKey}, nil
}

// Record saves an AuditEvent to the database.
func (s *GormAuditSink) Record(ctx context.Context, event models.AuditEvent) error {
	rec := auditRecord{
		EventID:   event.EventID.String(),
		EventType: string(event.EventType),
		KeyID:     event.KeyID,
		Kind:      string(event.Kind),
		TagHex:    hex.EncodeToString([]byte(event.Tag)),
		Algorithm: string(event.Algorithm),
		Bits:      event.Bits,
		Result:    event.Result,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if len(s.signingKey) > 0 {
		sig, err := SignAuditEvent(event, s.signingKey)
		if err != nil {
			return err
		}
		rec.Signature = sig
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Events returns the stored events of one key, oldest first.
func (s *GormAuditSink) Events(ctx context.Context, keyID string) ([]models.AuditEvent, error) {
	var rows []auditRecord
	if err := s.db.WithContext(ctx).Where("key_id = ?", keyID).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.AuditEvent, 0, len(rows))
	for _, r := range rows {
		tag, err := hex.DecodeString(r.TagHex)
		if err != nil {
			return nil, fmt.Errorf("audit event %s has a malformed tag: %w", r.EventID, err)
		}
		ev := models.AuditEvent{
			EventType: constants.AuditEventType(r.EventType),
			KeyID:     r.KeyID,
			Kind:      constants.KeyKind(r.Kind),
			Tag:       string(tag),
			Algorithm: constants.Algorithm(r.Algorithm),
			Bits:      r.Bits,
			Result:    r.Result,
			Message:   r.Message,
			Timestamp: r.Timestamp,
		}
		_ = ev.EventID.UnmarshalText([]byte(r.EventID))
		out = append(out, ev)
	}
	return out, nil
}

var _ service.AuditSink = (*GormAuditSink)(nil)
