package btr

import (
	"github.com/pthm/btr/lib/encoding"
)

// Encoder is an alias for encoding.Encoder for convenience.
type Encoder = encoding.Encoder

// Mode is an alias for encoding.Mode.
type Mode = encoding.Mode

// Snapshot protection modes.
const (
	Signed = encoding.Signed
	Sealed = encoding.Sealed
)

// NewEncoder creates a new snapshot encoder with the given key.
func NewEncoder(key []byte) (*Encoder, error) {
	return encoding.NewEncoder(key)
}
