package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/turtacn/custody/internal/domain/models"
)

// SignAuditEvent calculates the HMAC-SHA256 signature for an audit event.
func SignAuditEvent(event models.AuditEvent, secretKey []byte) (string, error) {
	// Serialize the event to JSON
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return signBytes(eventBytes, secretKey), nil
}

// VerifyAuditEvent reports whether signature was produced by SignAuditEvent for the
// serialized event payload.
func VerifyAuditEvent(payload []byte, signature string, secretKey []byte) bool {
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secretKey)
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}

func signBytes(payload, secretKey []byte) string {
	h := hmac.New(sha256.New, secretKey)
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
