package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	masked := []string{
		"pin",
		"pkcs11_pin",
		"token",
		"access_token",
		"accessToken",
		"vault.token",
		"private_key",
		"PrivateKey",
		"wrap_key_hex",
		"key_material",
		"plaintext",
		"client_secret",
	}
	for _, key := range masked {
		assert.Equal(t, RedactedValue, Redact(key, "v"), key)
	}

	kept := []string{
		"ping",
		"tokens_issued",
		"spinner",
		"private_tag",
		"public_key",
		"key_id",
		"kind",
	}
	for _, key := range kept {
		assert.Equal(t, "v", Redact(key, "v"), key)
	}
}

func TestMerge(t *testing.T) {
	out := Merge(Fields{"tag": "a", "pin": "1234"}, Fields{"ping_ms": 3})
	assert.Equal(t, Fields{"tag": "a", "pin": RedactedValue, "ping_ms": 3}, out)
}
