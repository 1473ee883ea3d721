package kafka

const (
	// TopicEvents carries domain events in the client wire form.
	TopicEvents = "realtime.events"
	// TopicMemberships carries team and channel joins and leaves.
	TopicMemberships = "realtime.memberships"
	// TopicPresence receives every status change the hub emits.
	TopicPresence = "realtime.presence"
)

const (
	MembershipJoined = "joined"
	MembershipLeft   = "left"

	MembershipTeam    = "team"
	MembershipChannel = "channel"
)
