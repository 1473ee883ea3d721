package realtime

import (
	"encoding/json"
	"fmt"
)

type wireBroadcast struct {
	OmitUsers map[string]bool `json:"omit_users"`
	UserID    string          `json:"user_id"`
	ChannelID string          `json:"channel_id"`
	TeamID    string          `json:"team_id"`
}

type wireEvent struct {
	Event     EventType       `json:"event"`
	Data      json.RawMessage `json:"data"`
	Broadcast *wireBroadcast  `json:"broadcast"`
	Seq       int64           `json:"seq"`
}

// EncodeFrame renders env as a client text frame carrying seq. Transports
// pass their per-connection counter; MarshalJSON uses the hub sequence.
func EncodeFrame(env *Envelope, seq int64) ([]byte, error) {
	b := env.broadcast
	wb := &wireBroadcast{
		UserID:    b.UserID,
		ChannelID: b.ChannelID,
		TeamID:    b.TeamID,
	}
	if b.ExcludeUserID != "" {
		wb.OmitUsers = map[string]bool{b.ExcludeUserID: true}
	}

	data := env.data
	if len(data) == 0 {
		data = emptyObject
	}

	return json.Marshal(wireEvent{
		Event:     env.event,
		Data:      data,
		Broadcast: wb,
		Seq:       seq,
	})
}

// MarshalJSON encodes the envelope as a wire frame carrying its hub sequence.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return EncodeFrame(e, e.seq)
}

// UnmarshalJSON decodes a wire frame. The first omitted user becomes the
// excluded user.
func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if !w.Event.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, w.Event)
	}

	data, err := compactObject(w.Data)
	if err != nil {
		return err
	}

	var spec BroadcastSpec
	if w.Broadcast != nil {
		spec.UserID = w.Broadcast.UserID
		spec.ChannelID = w.Broadcast.ChannelID
		spec.TeamID = w.Broadcast.TeamID

		omitted := make([]string, 0, len(w.Broadcast.OmitUsers))
		for uid, omit := range w.Broadcast.OmitUsers {
			if omit {
				omitted = append(omitted, uid)
			}
		}
		if len(omitted) > 1 {
			return fmt.Errorf("realtime: frame omits %d users, at most one is supported", len(omitted))
		}
		if len(omitted) == 1 {
			spec.ExcludeUserID = omitted[0]
		}
	}

	*e = Envelope{event: w.Event, data: data, broadcast: spec, seq: w.Seq}
	return nil
}
