package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BroadcastSpec selects the connections an envelope is delivered to.
//
// Exactly one rule applies, in this order: UserID, then ChannelID, then
// TeamID, otherwise every live connection. ExcludeUserID is applied to the
// resolved set afterwards.
type BroadcastSpec struct {
	ChannelID     string
	TeamID        string
	UserID        string
	ExcludeUserID string
}

// Scope returns the scope selected by the matching rules.
func (b BroadcastSpec) Scope() Scope {
	switch {
	case b.UserID != "":
		return UserScope(b.UserID)
	case b.ChannelID != "":
		return ChannelScope(b.ChannelID)
	case b.TeamID != "":
		return TeamScope(b.TeamID)
	default:
		return BroadcastScope()
	}
}

// Envelope is an immutable outbound event. Its sequence is zero until the
// hub stamps a copy at broadcast time.
type Envelope struct {
	event     EventType
	data      json.RawMessage
	broadcast BroadcastSpec
	seq       int64
}

var emptyObject = json.RawMessage("{}")

// NewEnvelope builds an envelope. data may be any value that marshals to a
// JSON object, or a json.RawMessage holding one. A nil data becomes {}.
func NewEnvelope(event EventType, data any, spec BroadcastSpec) (*Envelope, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, event)
	}

	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{event: event, data: raw, broadcast: spec}, nil
}

// MustEnvelope is NewEnvelope for event types and payloads known to be valid.
func MustEnvelope(event EventType, data any, spec BroadcastSpec) *Envelope {
	env, err := NewEnvelope(event, data, spec)
	if err != nil {
		panic(err)
	}
	return env
}

func encodeData(data any) (json.RawMessage, error) {
	var raw []byte
	switch v := data.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw = b
	}
	return compactObject(raw)
}

func compactObject(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyObject, nil
	}
	if trimmed[0] != '{' {
		return nil, ErrInvalidPayload
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Event returns the event type.
func (e *Envelope) Event() EventType { return e.event }

// Broadcast returns the delivery target.
func (e *Envelope) Broadcast() BroadcastSpec { return e.broadcast }

// Sequence returns the hub sequence, or 0 before the envelope is broadcast.
func (e *Envelope) Sequence() int64 { return e.seq }

// Data returns the payload. Callers must not modify the returned slice.
func (e *Envelope) Data() json.RawMessage { return e.data }

// DecodeData unmarshals the payload into v.
func (e *Envelope) DecodeData(v any) error {
	return json.Unmarshal(e.data, v)
}

func (e *Envelope) withSequence(seq int64) *Envelope {
	c := *e
	c.seq = seq
	return &c
}
