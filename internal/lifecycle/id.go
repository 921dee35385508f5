package lifecycle

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a 32-hex-character container id generated from 16 random
// bytes. uuid.New() is itself 16 bytes of mostly-random data; we hex-encode
// the raw bytes directly rather than formatting as an RFC-4122 string, so
// the id has no dashes. The version and variant bits of the v4 UUID stay in
// the bytes (the 13th hex character is always 4).
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
