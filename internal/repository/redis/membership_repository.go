// Package repository holds the Redis-backed stores the hub reads
// membership from and mirrors presence into.
package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gochat-hub/internal/realtime"
	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// MembershipRepository stores team and channel membership as Redis sets. It
// is the production realtime.MembershipResolver.
type MembershipRepository interface {
	realtime.MembershipResolver

	AddTeamMember(ctx context.Context, userID, teamID string) error
	RemoveTeamMember(ctx context.Context, userID, teamID string) error
	AddChannelMember(ctx context.Context, userID, channelID string) error
	RemoveChannelMember(ctx context.Context, userID, channelID string) error
}

type redisMembershipRepository struct {
	cli *redis.Client
	l   logger.Logger
}

// NewRedisMembershipRepository returns a MembershipRepository over cli.
func NewRedisMembershipRepository(cli *redis.Client, l logger.Logger) MembershipRepository {
	return &redisMembershipRepository{
		cli: cli,
		l:   l,
	}
}

func (r *redisMembershipRepository) TeamsOf(ctx context.Context, userID string) ([]string, error) {
	return r.members(ctx, r.teamsKey(userID))
}

func (r *redisMembershipRepository) ChannelsOf(ctx context.Context, userID string) ([]string, error) {
	return r.members(ctx, r.channelsKey(userID))
}

func (r *redisMembershipRepository) members(ctx context.Context, key string) ([]string, error) {
	ids, err := r.cli.SMembers(ctx, key).Result()
	if err != nil {
		r.l.Errorf(ctx, "repository.redis.membership_repository.members: %v", err)
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *redisMembershipRepository) AddTeamMember(ctx context.Context, userID, teamID string) error {
	return r.add(ctx, r.teamsKey(userID), teamID)
}

func (r *redisMembershipRepository) RemoveTeamMember(ctx context.Context, userID, teamID string) error {
	return r.remove(ctx, r.teamsKey(userID), teamID)
}

func (r *redisMembershipRepository) AddChannelMember(ctx context.Context, userID, channelID string) error {
	return r.add(ctx, r.channelsKey(userID), channelID)
}

func (r *redisMembershipRepository) RemoveChannelMember(ctx context.Context, userID, channelID string) error {
	return r.remove(ctx, r.channelsKey(userID), channelID)
}

func (r *redisMembershipRepository) add(ctx context.Context, key, id string) error {
	if err := r.cli.SAdd(ctx, key, id).Err(); err != nil {
		r.l.Errorf(ctx, "repository.redis.membership_repository.add: %v", err)
		return fmt.Errorf("failed to add %s to %s: %w", id, key, err)
	}
	return nil
}

func (r *redisMembershipRepository) remove(ctx context.Context, key, id string) error {
	if err := r.cli.SRem(ctx, key, id).Err(); err != nil {
		r.l.Errorf(ctx, "repository.redis.membership_repository.remove: %v", err)
		return fmt.Errorf("failed to remove %s from %s: %w", id, key, err)
	}
	return nil
}

func (r *redisMembershipRepository) teamsKey(userID string) string {
	return fmt.Sprintf("rt:user:%s:teams", userID)
}

func (r *redisMembershipRepository) channelsKey(userID string) string {
	return fmt.Sprintf("rt:user:%s:channels", userID)
}
