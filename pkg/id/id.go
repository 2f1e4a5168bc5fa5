package id

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is a 128-bit trace or span identifier.
type ID [16]byte

// Zero is the unset identifier.
var Zero ID

// ErrInvalidID is returned by Parse for malformed input.
var ErrInvalidID = errors.New("id: invalid identifier")

// FromHalves builds an ID from its high and low 64-bit halves.
func FromHalves(high, low uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[:8], high)
	binary.BigEndian.PutUint64(id[8:], low)
	return id
}

// High returns the most significant 64 bits.
func (id ID) High() uint64 {
	return binary.BigEndian.Uint64(id[:8])
}

// Low returns the least significant 64 bits.
func (id ID) Low() uint64 {
	return binary.BigEndian.Uint64(id[8:])
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == Zero
}

// String returns the ID as 32 lowercase hex digits.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse accepts 32 hex digits or a dashed UUID.
func Parse(s string) (ID, error) {
	switch len(s) {
	case 32:
		var id ID
		if _, err := hex.Decode(id[:], []byte(s)); err != nil {
			return Zero, fmt.Errorf("%w: %q", ErrInvalidID, s)
		}
		return id, nil
	case 36:
		u, err := uuid.Parse(s)
		if err != nil {
			return Zero, fmt.Errorf("%w: %q", ErrInvalidID, s)
		}
		return ID(u), nil
	default:
		return Zero, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// UUIDString formats the ID in the dashed 8-4-4-4-12 form.
func (id ID) UUIDString() string {
	return strings.ToLower(uuid.UUID(id).String())
}

// NewTraceID returns a new random trace identifier.
func NewTraceID() ID {
	return defaultGenerator.New()
}

// NewSpanID returns a new random span identifier.
func NewSpanID() ID {
	return defaultGenerator.New()
}
