// Package mmid encodes 128-bit identifiers in the 26 character form used by
// Mattermost clients for user, channel, team and connection ids.
package mmid

import (
	"encoding/base32"
	"errors"

	"github.com/google/uuid"
)

// Length is the length of an encoded id.
const Length = 26

var encoding = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// ErrInvalidID is returned when a string is not a well formed id.
var ErrInvalidID = errors.New("mmid: invalid id")

// New returns a fresh random id.
func New() string {
	return FromUUID(uuid.New())
}

// FromUUID encodes u as a 26 character id.
func FromUUID(u uuid.UUID) string {
	return encoding.EncodeToString(u[:])
}

// ToUUID decodes an id produced by FromUUID.
func ToUUID(id string) (uuid.UUID, error) {
	if len(id) != Length {
		return uuid.Nil, ErrInvalidID
	}
	raw, err := encoding.DecodeString(id)
	if err != nil || len(raw) != 16 {
		return uuid.Nil, ErrInvalidID
	}
	return uuid.FromBytes(raw)
}

// IsValid reports whether id decodes to 16 bytes.
func IsValid(id string) bool {
	_, err := ToUUID(id)
	return err == nil
}
