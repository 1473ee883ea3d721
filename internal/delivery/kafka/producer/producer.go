package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	kafka "github.com/Tyrowin/gochat-hub/internal/delivery/kafka"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// Producer publishes hub presence changes. It is a realtime.PresenceSink.
type Producer interface {
	PresenceChanged(ctx context.Context, change realtime.PresenceChange) error
	Close() error
}

var _ realtime.PresenceSink = (*implProducer)(nil)

type implProducer struct {
	l    logger.Logger
	prod sarama.SyncProducer
}

// NewProducer wraps a sync producer as a presence sink.
func NewProducer(prod sarama.SyncProducer, l logger.Logger) Producer {
	return &implProducer{
		l:    l,
		prod: prod,
	}
}

func (p *implProducer) PresenceChanged(ctx context.Context, change realtime.PresenceChange) error {
	event := kafka.PresenceEvent{
		UserID:    change.UserID,
		Status:    string(change.Status),
		ChangedAt: change.At,
		Timestamp: time.Now(),
	}
	if !change.LastActivity.IsZero() {
		event.LastActivityAt = change.LastActivity.UnixMilli()
	}

	val, err := json.Marshal(event)
	if err != nil {
		p.l.Errorf(ctx, "delivery.kafka.producer.producer.PresenceChanged: %v", err)
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: kafka.TopicPresence,
		Key:   sarama.StringEncoder(change.UserID), // per-user ordering
		Value: sarama.ByteEncoder(val),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("timestamp"),
				Value: []byte(event.Timestamp.Format(time.RFC3339)),
			},
		},
	}

	if _, _, err := p.prod.SendMessage(msg); err != nil {
		p.l.Errorf(ctx, "delivery.kafka.producer.producer.PresenceChanged: %v", err)
		return err
	}
	return nil
}

func (p *implProducer) Close() error {
	return p.prod.Close()
}
