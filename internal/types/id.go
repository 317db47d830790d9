package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID returns a short prefixed random identifier, e.g. "wi-3f9a2c81".
// Collisions are possible in principle but the keyspace (2^32) is far
// beyond any realistic board size.
func NewID(prefix string) string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; panic beats
		// silently handing out duplicate IDs.
		panic(fmt.Sprintf("types: rand.Read: %v", err))
	}
	return prefix + "-" + hex.EncodeToString(b[:])
}
