package kafka

import "time"

// Events consumed by the hub. Domain events on TopicEvents are decoded
// straight into a realtime.Envelope.

// MembershipEvent announces that a user joined or left a team or channel.
type MembershipEvent struct {
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"` // team, channel
	ScopeID   string    `json:"scope_id"`
	Action    string    `json:"action"` // joined, left
	Timestamp time.Time `json:"timestamp"`
}

// Events published by the hub

// PresenceEvent is published whenever a user's derived presence changes.
type PresenceEvent struct {
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	LastActivityAt int64     `json:"last_activity_at"`
	ChangedAt      time.Time `json:"changed_at"`
	Timestamp      time.Time `json:"timestamp"`
}
