package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafka "github.com/Tyrowin/gochat-hub/internal/delivery/kafka"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// TestPresenceChangedPublishes tests the published presence event.
func TestPresenceChangedPublishes(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	lastActivity := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicPresence {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "u1" {
			return errors.New("message not keyed by user")
		}

		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var ev kafka.PresenceEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if ev.UserID != "u1" || ev.Status != "away" || ev.LastActivityAt != lastActivity.UnixMilli() {
			return errors.New("unexpected event " + string(raw))
		}
		return nil
	})

	p := NewProducer(sp, logger.NewNop())
	err := p.PresenceChanged(context.Background(), realtime.PresenceChange{
		UserID:       "u1",
		Status:       realtime.StatusAway,
		LastActivity: lastActivity,
		At:           lastActivity.Add(time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

// TestPresenceChangedSendFailure tests that broker errors are returned.
func TestPresenceChangedSendFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducer(sp, logger.NewNop())
	err := p.PresenceChanged(context.Background(), realtime.PresenceChange{UserID: "u1", Status: realtime.StatusOffline})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
