package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewEnvelopeRejectsUnknownEventType tests envelope construction.
// It verifies that event types outside the closed set are refused.
func TestNewEnvelopeRejectsUnknownEventType(t *testing.T) {
	_, err := NewEnvelope("post_exploded", nil, BroadcastSpec{})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

// TestNewEnvelopeRequiresObjectData tests payload validation.
func TestNewEnvelopeRequiresObjectData(t *testing.T) {
	_, err := NewEnvelope(EventPosted, []int{1, 2}, BroadcastSpec{})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = NewEnvelope(EventPosted, json.RawMessage(`{"broken":`), BroadcastSpec{})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	env, err := NewEnvelope(EventPosted, nil, BroadcastSpec{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(env.Data()))

	env, err = NewEnvelope(EventPosted, json.RawMessage(" { \"a\" : 1 } "), BroadcastSpec{})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(env.Data()))
}

// TestBroadcastSpecPrecedence tests the matching rules.
// It verifies user over channel over team over broadcast.
func TestBroadcastSpecPrecedence(t *testing.T) {
	tests := []struct {
		name string
		spec BroadcastSpec
		want Scope
	}{
		{"all fields", BroadcastSpec{UserID: "u", ChannelID: "c", TeamID: "t"}, UserScope("u")},
		{"channel and team", BroadcastSpec{ChannelID: "c", TeamID: "t"}, ChannelScope("c")},
		{"team only", BroadcastSpec{TeamID: "t"}, TeamScope("t")},
		{"exclusion only", BroadcastSpec{ExcludeUserID: "u"}, BroadcastScope()},
		{"empty", BroadcastSpec{}, BroadcastScope()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Scope())
		})
	}
}

// TestEnvelopeRoundTripEveryEventType tests wire serialization.
// It verifies that decoding an encoded envelope yields an identical value.
func TestEnvelopeRoundTripEveryEventType(t *testing.T) {
	for _, event := range EventTypes() {
		t.Run(string(event), func(t *testing.T) {
			env := MustEnvelope(event, map[string]any{
				"message": "<b>hi</b> & bye",
				"count":   3,
				"nested":  map[string]any{"ok": true},
			}, BroadcastSpec{ChannelID: "ch1", TeamID: "tm1", ExcludeUserID: "u1"}).withSequence(42)

			raw, err := json.Marshal(env)
			require.NoError(t, err)

			var back Envelope
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, env, &back)
		})
	}
}

// TestEncodeFrameWireShape tests the exact frame layout sent to clients.
func TestEncodeFrameWireShape(t *testing.T) {
	env := MustEnvelope(EventPosted, map[string]string{"message": "hi"},
		BroadcastSpec{ChannelID: "ch", ExcludeUserID: "u1"})

	frame, err := EncodeFrame(env, 7)
	require.NoError(t, err)
	assert.Equal(t,
		`{"event":"posted","data":{"message":"hi"},"broadcast":{"omit_users":{"u1":true},"user_id":"","channel_id":"ch","team_id":""},"seq":7}`,
		string(frame))

	frame, err = EncodeFrame(MustEnvelope(EventHello, nil, BroadcastSpec{UserID: "u2"}), 0)
	require.NoError(t, err)
	assert.Equal(t,
		`{"event":"hello","data":{},"broadcast":{"omit_users":null,"user_id":"u2","channel_id":"","team_id":""},"seq":0}`,
		string(frame))
}

// TestUnmarshalRejectsInvalidFrames tests decoding of frames the hub cannot represent.
func TestUnmarshalRejectsInvalidFrames(t *testing.T) {
	var env Envelope

	err := json.Unmarshal([]byte(`{"event":"nope","data":{},"seq":1}`), &env)
	assert.ErrorIs(t, err, ErrUnknownEventType)

	err = json.Unmarshal([]byte(`{"event":"posted","data":{},"broadcast":{"omit_users":{"a":true,"b":true}},"seq":1}`), &env)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"event":"posted","broadcast":{"omit_users":{"a":false}},"seq":3}`), &env))
	assert.Equal(t, "", env.Broadcast().ExcludeUserID)
	assert.Equal(t, int64(3), env.Sequence())
	assert.Equal(t, `{}`, string(env.Data()))
}

// TestWithSequenceDoesNotMutate tests that stamping a sequence copies the envelope.
func TestWithSequenceDoesNotMutate(t *testing.T) {
	env := MustEnvelope(EventTyping, nil, BroadcastSpec{})
	stamped := env.withSequence(9)

	assert.Equal(t, int64(0), env.Sequence())
	assert.Equal(t, int64(9), stamped.Sequence())
}
