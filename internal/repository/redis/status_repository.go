package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gochat-hub/internal/realtime"
	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

const presenceKey = "rt:presence"

// StatusRecord is the mirrored presence of one user.
type StatusRecord struct {
	UserID         string          `json:"user_id"`
	Status         realtime.Status `json:"status"`
	LastActivityAt int64           `json:"last_activity_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StatusRepository mirrors hub presence into Redis so other services and
// other hub instances can read it. It is a realtime.PresenceSink, and its
// LookupStatuses answers get_statuses_by_ids for users connected elsewhere.
type StatusRepository interface {
	PresenceChanged(ctx context.Context, change realtime.PresenceChange) error
	GetMany(ctx context.Context, userIDs []string) (map[string]StatusRecord, error)
	LookupStatuses(ctx context.Context, userIDs []string) (map[string]realtime.Status, error)
}

type redisStatusRepository struct {
	cli *redis.Client
	l   logger.Logger
}

// NewRedisStatusRepository returns a StatusRepository over cli.
func NewRedisStatusRepository(cli *redis.Client, l logger.Logger) StatusRepository {
	return &redisStatusRepository{
		cli: cli,
		l:   l,
	}
}

func (r *redisStatusRepository) PresenceChanged(ctx context.Context, change realtime.PresenceChange) error {
	rec := StatusRecord{
		UserID:    change.UserID,
		Status:    change.Status,
		UpdatedAt: change.At,
	}
	if !change.LastActivity.IsZero() {
		rec.LastActivityAt = change.LastActivity.UnixMilli()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := r.cli.HSet(ctx, presenceKey, change.UserID, data).Err(); err != nil {
		r.l.Errorf(ctx, "repository.redis.status_repository.PresenceChanged: %v", err)
		return err
	}
	return nil
}

// GetMany returns the records that exist; unknown users are absent from
// the result.
func (r *redisStatusRepository) GetMany(ctx context.Context, userIDs []string) (map[string]StatusRecord, error) {
	out := make(map[string]StatusRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	vals, err := r.cli.HMGet(ctx, presenceKey, userIDs...).Result()
	if err != nil {
		r.l.Errorf(ctx, "repository.redis.status_repository.GetMany: %v", err)
		return nil, err
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec StatusRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status of %s: %w", userIDs[i], err)
		}
		out[userIDs[i]] = rec
	}
	return out, nil
}

func (r *redisStatusRepository) LookupStatuses(ctx context.Context, userIDs []string) (map[string]realtime.Status, error) {
	recs, err := r.GetMany(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]realtime.Status, len(recs))
	for u, rec := range recs {
		out[u] = rec.Status
	}
	return out, nil
}
