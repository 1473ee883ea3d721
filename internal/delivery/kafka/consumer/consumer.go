package consumer

import (
	"context"
	"sync"

	"github.com/IBM/sarama"

	"github.com/Tyrowin/gochat-hub/internal/delivery/kafka"
	"github.com/Tyrowin/gochat-hub/internal/observability"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// Hub is the part of realtime.Hub the consumer drives.
type Hub interface {
	Broadcast(env *realtime.Envelope) int
	SubscribeUser(userID string, s realtime.Scope) (int, error)
	UnsubscribeUser(userID string, s realtime.Scope) (int, error)
}

// MembershipWriter persists membership changes so later connections
// resolve them. It is optional.
type MembershipWriter interface {
	AddTeamMember(ctx context.Context, userID, teamID string) error
	RemoveTeamMember(ctx context.Context, userID, teamID string) error
	AddChannelMember(ctx context.Context, userID, channelID string) error
	RemoveChannelMember(ctx context.Context, userID, channelID string) error
}

// Consumer feeds domain and membership events from a consumer group into the
// hub.
type Consumer struct {
	consGr  sarama.ConsumerGroup
	hub     Hub
	members MembershipWriter
	metrics *observability.Metrics
	l       logger.Logger
	wg      sync.WaitGroup
}

// NewConsumer builds a Consumer over an existing consumer group. members may
// be nil, in which case membership events only update live connections.
func NewConsumer(
	consGr sarama.ConsumerGroup,
	hub Hub,
	members MembershipWriter,
	metrics *observability.Metrics,
	l logger.Logger,
) *Consumer {
	return &Consumer{
		consGr:  consGr,
		hub:     hub,
		members: members,
		metrics: metrics,
		l:       l,
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var err error
	switch msg.Topic {
	case kafka.TopicEvents:
		err = c.HandleDomainEvent(ctx, msg)
	case kafka.TopicMemberships:
		err = c.HandleMembershipEvent(ctx, msg)
	default:
		c.l.Warnf(ctx, "delivery.kafka.consumer.consumer.processMessage: unknown topic %s", msg.Topic)
		return nil
	}
	c.metrics.InboundEvent(msg.Topic, err)
	return err
}

// Start consumes the events and memberships topics in the background until
// ctx is done or Close is called.
func (c *Consumer) Start(ctx context.Context) error {
	topics := []string{kafka.TopicEvents, kafka.TopicMemberships}
	c.wg.Go(func() {
		for {
			if err := c.consGr.Consume(ctx, topics, c); err != nil {
				c.l.Errorf(ctx, "delivery.kafka.consumer.consumer.Start: %v", err)
			}

			if ctx.Err() != nil {
				c.l.Infof(ctx, "delivery.kafka.consumer.consumer.Start: %v", ctx.Err())
				return
			}
		}
	})

	c.wg.Go(func() {
		for err := range c.consGr.Errors() {
			c.l.Errorf(ctx, "delivery.kafka.consumer.consumer.Start: %v", err)
		}
	})

	c.l.Infof(ctx, "delivery.kafka.consumer.consumer.Start: consuming topics %v", topics)
	return nil
}

// Close closes the consumer group and waits for the consume loop to exit.
func (c *Consumer) Close() error {
	if err := c.consGr.Close(); err != nil {
		return err
	}

	c.wg.Wait()
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "delivery.kafka.consumer.consumer.Setup: session started")
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "delivery.kafka.consumer.consumer.Cleanup: session ended")
	return nil
}

// ConsumeClaim marks every message, including ones that failed to decode:
// a malformed event is not going to parse on redelivery.
func (c *Consumer) ConsumeClaim(ss sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			if err := c.processMessage(ss.Context(), message); err != nil {
				c.l.Errorf(ss.Context(), "delivery.kafka.consumer.consumer.ConsumeClaim: topic=%s offset=%d: %v",
					message.Topic, message.Offset, err)
			}

			ss.MarkMessage(message, "")

		case <-ss.Context().Done():
			return nil
		}
	}
}
