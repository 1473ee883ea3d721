package realtime

import (
	"context"
	"sync"
)

// MembershipResolver answers which teams and channels a user belongs to.
// TeamsOf drives presence fan-out; ChannelsOf is used to subscribe new
// connections.
type MembershipResolver interface {
	TeamsOf(ctx context.Context, userID string) ([]string, error)
	ChannelsOf(ctx context.Context, userID string) ([]string, error)
}

// StaticMembership is an in-memory MembershipResolver.
type StaticMembership struct {
	mu       sync.RWMutex
	teams    map[string][]string
	channels map[string][]string
}

// NewStaticMembership returns an empty in-memory resolver.
func NewStaticMembership() *StaticMembership {
	return &StaticMembership{
		teams:    make(map[string][]string),
		channels: make(map[string][]string),
	}
}

// SetTeams replaces the teams of userID.
func (m *StaticMembership) SetTeams(userID string, teamIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[userID] = append([]string(nil), teamIDs...)
}

// SetChannels replaces the channels of userID.
func (m *StaticMembership) SetChannels(userID string, channelIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[userID] = append([]string(nil), channelIDs...)
}

// TeamsOf returns a copy of the teams of userID.
func (m *StaticMembership) TeamsOf(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.teams[userID]...), nil
}

// ChannelsOf returns a copy of the channels of userID.
func (m *StaticMembership) ChannelsOf(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.channels[userID]...), nil
}
