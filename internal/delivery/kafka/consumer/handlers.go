package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/Tyrowin/gochat-hub/internal/delivery/kafka"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
)

// ErrInvalidMembershipEvent is returned for membership events missing a user,
// scope or known action.
var ErrInvalidMembershipEvent = errors.New("delivery.kafka: invalid membership event")

// HandleDomainEvent broadcasts an event published by the rest of the
// backend. Unknown event types are rejected by the hub.
func (c *Consumer) HandleDomainEvent(ctx context.Context, message *sarama.ConsumerMessage) error {
	var env realtime.Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.handlers.HandleDomainEvent: %v", err)
		return err
	}
	if !env.Event().Valid() {
		return fmt.Errorf("%w: %q", realtime.ErrUnknownEventType, env.Event())
	}

	n := c.hub.Broadcast(&env)
	c.l.Debugf(ctx, "delivery.kafka.consumer.handlers.HandleDomainEvent: event=%s delivered=%d", env.Event(), n)
	return nil
}

// HandleMembershipEvent applies a join or leave to the live connections of
// the user, and to the membership store when one is configured.
func (c *Consumer) HandleMembershipEvent(ctx context.Context, message *sarama.ConsumerMessage) error {
	var e kafka.MembershipEvent
	if err := json.Unmarshal(message.Value, &e); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.handlers.HandleMembershipEvent: %v", err)
		return err
	}
	if e.UserID == "" || e.ScopeID == "" {
		return fmt.Errorf("%w: missing user_id or scope_id", ErrInvalidMembershipEvent)
	}

	var scope realtime.Scope
	switch e.Kind {
	case kafka.MembershipTeam:
		scope = realtime.TeamScope(e.ScopeID)
	case kafka.MembershipChannel:
		scope = realtime.ChannelScope(e.ScopeID)
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidMembershipEvent, e.Kind)
	}

	var (
		n   int
		err error
	)
	switch e.Action {
	case kafka.MembershipJoined:
		if err := c.persistJoin(ctx, e); err != nil {
			return err
		}
		n, err = c.hub.SubscribeUser(e.UserID, scope)
	case kafka.MembershipLeft:
		if err := c.persistLeave(ctx, e); err != nil {
			return err
		}
		n, err = c.hub.UnsubscribeUser(e.UserID, scope)
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidMembershipEvent, e.Action)
	}
	if err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.handlers.HandleMembershipEvent: %v", err)
		return err
	}

	c.l.Debugf(ctx, "delivery.kafka.consumer.handlers.HandleMembershipEvent: user=%s %s %s connections=%d",
		e.UserID, e.Action, scope, n)
	return nil
}

func (c *Consumer) persistJoin(ctx context.Context, e kafka.MembershipEvent) error {
	if c.members == nil {
		return nil
	}
	if e.Kind == kafka.MembershipTeam {
		return c.members.AddTeamMember(ctx, e.UserID, e.ScopeID)
	}
	return c.members.AddChannelMember(ctx, e.UserID, e.ScopeID)
}

func (c *Consumer) persistLeave(ctx context.Context, e kafka.MembershipEvent) error {
	if c.members == nil {
		return nil
	}
	if e.Kind == kafka.MembershipTeam {
		return c.members.RemoveTeamMember(ctx, e.UserID, e.ScopeID)
	}
	return c.members.RemoveChannelMember(ctx, e.UserID, e.ScopeID)
}
