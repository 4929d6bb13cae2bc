package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/custody/pkg/constants"
)

// AuditEvent represents a single custody audit trail event. It describes what happened to
// a key and never contains key material.
type AuditEvent struct {
	EventID   uuid.UUID                `json:"event_id"`
	EventType constants.AuditEventType `json:"event_type"`
	KeyID     string                   `json:"key_id,omitempty"`
	Kind      constants.KeyKind        `json:"kind"`
	Tag       string                   `json:"tag"`
	Algorithm constants.Algorithm      `json:"algorithm,omitempty"`
	Bits      int                      `json:"bits,omitempty"`
	Result    string                   `json:"result"` // "success" or "failure"
	Message   string                   `json:"message,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// NewAuditEvent creates a new audit event for a key.
func NewAuditEvent(eventType constants.AuditEventType, kind constants.KeyKind, tag KeyTag, result string) AuditEvent {
	return AuditEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		Kind:      kind,
		Tag:       tag.String(),
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
}

// AccessRequest is the input of an access-policy decision.
type AccessRequest struct {
	Kind      constants.KeyKind      `json:"kind"`
	Policy    constants.AccessPolicy `json:"policy"`
	Operation constants.Operation    `json:"operation"`
	Unlocked  bool                   `json:"unlocked"`
}
