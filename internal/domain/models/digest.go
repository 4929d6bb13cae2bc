package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is a SHA-256 message digest.
// Digest 是 SHA-256 消息摘要。
type Digest [sha256.Size]byte

// Hex returns the lowercase hexadecimal form, two digits per byte, no prefix.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns a copy of the digest bytes.
func (d Digest) Bytes() []byte {
	out := make([]byte, len(d))
	copy(out, d[:])
	return out
}
