package realtime

import "fmt"

// ScopeKind tags a Scope.
type ScopeKind uint8

const (
	ScopeBroadcast ScopeKind = iota
	ScopeUser
	ScopeChannel
	ScopeTeam
)

// String implements fmt.Stringer.
func (k ScopeKind) String() string {
	switch k {
	case ScopeUser:
		return "user"
	case ScopeChannel:
		return "channel"
	case ScopeTeam:
		return "team"
	default:
		return "broadcast"
	}
}

// Scope is the addressing domain of an envelope.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// UserScope selects every connection of a user.
func UserScope(userID string) Scope { return Scope{Kind: ScopeUser, ID: userID} }

// ChannelScope selects connections subscribed to a channel.
func ChannelScope(channelID string) Scope { return Scope{Kind: ScopeChannel, ID: channelID} }

// TeamScope selects connections subscribed to a team.
func TeamScope(teamID string) Scope { return Scope{Kind: ScopeTeam, ID: teamID} }

// BroadcastScope selects every live connection.
func BroadcastScope() Scope { return Scope{Kind: ScopeBroadcast} }

// String implements fmt.Stringer.
func (s Scope) String() string {
	if s.Kind == ScopeBroadcast {
		return "broadcast"
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// subscribable reports whether connections can join s explicitly. User
// membership is implied by the owning user and broadcast covers everyone.
func (s Scope) subscribable() bool {
	return (s.Kind == ScopeChannel || s.Kind == ScopeTeam) && s.ID != ""
}
