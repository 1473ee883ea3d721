package realtime

import (
	"github.com/Tyrowin/gochat-hub/pkg/mmid"
)

// ConnectionID identifies one connection for the lifetime of the hub.
type ConnectionID string

// String implements fmt.Stringer.
func (id ConnectionID) String() string { return string(id) }

// IDGenerator mints connection ids. Ids must be unique for the hub lifetime.
type IDGenerator interface {
	NextConnectionID() ConnectionID
}

// UUIDGenerator issues random UUIDs rendered as 26 character Mattermost ids.
type UUIDGenerator struct{}

// NextConnectionID returns a fresh Mattermost id.
func (UUIDGenerator) NextConnectionID() ConnectionID {
	return ConnectionID(mmid.New())
}
