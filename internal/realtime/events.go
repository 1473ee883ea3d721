package realtime

// EventType is the "event" string of a frame sent to clients.
type EventType string

const (
	EventHello                EventType = "hello"
	EventPosted               EventType = "posted"
	EventPostEdited           EventType = "post_edited"
	EventPostDeleted          EventType = "post_deleted"
	EventTypingStart          EventType = "user_typing"
	EventTyping               EventType = "typing"
	EventChannelCreated       EventType = "channel_created"
	EventChannelUpdated       EventType = "channel_updated"
	EventChannelDeleted       EventType = "channel_deleted"
	EventChannelViewed        EventType = "channel_viewed"
	EventChannelMemberUpdated EventType = "channel_member_updated"
	EventUserAdded            EventType = "user_added"
	EventUserRemoved          EventType = "user_removed"
	EventUserUpdated          EventType = "user_updated"
	EventStatusChange         EventType = "status_change"
	EventReactionAdded        EventType = "reaction_added"
	EventReactionRemoved      EventType = "reaction_removed"
	EventPing                 EventType = "ping"
	EventPong                 EventType = "pong"
	EventGoodbye              EventType = "goodbye"
)

var knownEvents = map[EventType]struct{}{
	EventHello:                {},
	EventPosted:               {},
	EventPostEdited:           {},
	EventPostDeleted:          {},
	EventTypingStart:          {},
	EventTyping:               {},
	EventChannelCreated:       {},
	EventChannelUpdated:       {},
	EventChannelDeleted:       {},
	EventChannelViewed:        {},
	EventChannelMemberUpdated: {},
	EventUserAdded:            {},
	EventUserRemoved:          {},
	EventUserUpdated:          {},
	EventStatusChange:         {},
	EventReactionAdded:        {},
	EventReactionRemoved:      {},
	EventPing:                 {},
	EventPong:                 {},
	EventGoodbye:              {},
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	_, ok := knownEvents[t]
	return ok
}

// EventTypes returns every known event type.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(knownEvents))
	for t := range knownEvents {
		out = append(out, t)
	}
	return out
}
