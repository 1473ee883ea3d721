package realtime

import (
	"fmt"
	"sync"
	"time"
)

type connSet map[ConnectionID]struct{}

type indexEntry struct {
	conn     *Connection
	channels map[string]struct{}
	teams    map[string]struct{}
}

// subscriptionIndex maps scopes to connections. Every set member is present
// in byConn; a member that is not is corruption and panics.
type subscriptionIndex struct {
	mu        sync.RWMutex
	byUser    map[string]connSet
	byChannel map[string]connSet
	byTeam    map[string]connSet
	byConn    map[ConnectionID]*indexEntry
}

func newSubscriptionIndex() *subscriptionIndex {
	return &subscriptionIndex{
		byUser:    make(map[string]connSet),
		byChannel: make(map[string]connSet),
		byTeam:    make(map[string]connSet),
		byConn:    make(map[ConnectionID]*indexEntry),
	}
}

func addMember(m map[string]connSet, key string, id ConnectionID) {
	set, ok := m[key]
	if !ok {
		set = make(connSet)
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeMember(m map[string]connSet, key string, id ConnectionID) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

func (ix *subscriptionIndex) register(c *Connection) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.byConn[c.id]; exists {
		panic(fmt.Sprintf("realtime: connection id %s registered twice", c.id))
	}
	ix.byConn[c.id] = &indexEntry{
		conn:     c,
		channels: make(map[string]struct{}),
		teams:    make(map[string]struct{}),
	}
	addMember(ix.byUser, c.userID, c.id)
}

func (ix *subscriptionIndex) subscribe(id ConnectionID, s Scope) error {
	if !s.subscribable() {
		return fmt.Errorf("%w: %s", ErrInvalidScope, s)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, ok := ix.byConn[id]
	if !ok {
		return ErrUnknownConnection
	}
	switch s.Kind {
	case ScopeChannel:
		entry.channels[s.ID] = struct{}{}
		addMember(ix.byChannel, s.ID, id)
	case ScopeTeam:
		entry.teams[s.ID] = struct{}{}
		addMember(ix.byTeam, s.ID, id)
	}
	return nil
}

func (ix *subscriptionIndex) unsubscribe(id ConnectionID, s Scope) error {
	if !s.subscribable() {
		return fmt.Errorf("%w: %s", ErrInvalidScope, s)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, ok := ix.byConn[id]
	if !ok {
		return ErrUnknownConnection
	}
	switch s.Kind {
	case ScopeChannel:
		delete(entry.channels, s.ID)
		removeMember(ix.byChannel, s.ID, id)
	case ScopeTeam:
		delete(entry.teams, s.ID)
		removeMember(ix.byTeam, s.ID, id)
	}
	return nil
}

// deregister removes id from byConn and from every set it joined. It costs
// O(scopes of the connection) and returns nil for unknown ids.
func (ix *subscriptionIndex) deregister(id ConnectionID) *Connection {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, ok := ix.byConn[id]
	if !ok {
		return nil
	}
	for ch := range entry.channels {
		removeMember(ix.byChannel, ch, id)
	}
	for team := range entry.teams {
		removeMember(ix.byTeam, team, id)
	}
	removeMember(ix.byUser, entry.conn.userID, id)
	delete(ix.byConn, id)
	return entry.conn
}

func (ix *subscriptionIndex) get(id ConnectionID) (*Connection, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entry, ok := ix.byConn[id]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// resolve returns the connections selected by spec.
func (ix *subscriptionIndex) resolve(spec BroadcastSpec) []*Connection {
	return ix.resolveScopes([]Scope{spec.Scope()}, spec.ExcludeUserID)
}

// resolveScopes returns the deduplicated union of the given scopes minus
// connections owned by exclude.
func (ix *subscriptionIndex) resolveScopes(scopes []Scope, exclude string) []*Connection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[ConnectionID]struct{})
	var out []*Connection
	add := func(id ConnectionID) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		entry, ok := ix.byConn[id]
		if !ok {
			panic(fmt.Sprintf("realtime: index corrupt, %s in scope set but not in byConn", id))
		}
		if exclude != "" && entry.conn.userID == exclude {
			return
		}
		out = append(out, entry.conn)
	}

	for _, s := range scopes {
		switch s.Kind {
		case ScopeUser:
			for id := range ix.byUser[s.ID] {
				add(id)
			}
		case ScopeChannel:
			for id := range ix.byChannel[s.ID] {
				add(id)
			}
		case ScopeTeam:
			for id := range ix.byTeam[s.ID] {
				add(id)
			}
		case ScopeBroadcast:
			for id := range ix.byConn {
				add(id)
			}
		}
	}
	return out
}

func (ix *subscriptionIndex) connectionsOf(userID string) []*Connection {
	return ix.resolveScopes([]Scope{UserScope(userID)}, "")
}

// activity returns the number of connections userID holds and the newest
// last_seen among them.
func (ix *subscriptionIndex) activity(userID string) (int, time.Time) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var newest time.Time
	set := ix.byUser[userID]
	for id := range set {
		if seen := ix.byConn[id].conn.LastSeen(); seen.After(newest) {
			newest = seen
		}
	}
	return len(set), newest
}

func (ix *subscriptionIndex) scopesOf(id ConnectionID) ([]Scope, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entry, ok := ix.byConn[id]
	if !ok {
		return nil, false
	}
	scopes := []Scope{UserScope(entry.conn.userID)}
	for ch := range entry.channels {
		scopes = append(scopes, ChannelScope(ch))
	}
	for team := range entry.teams {
		scopes = append(scopes, TeamScope(team))
	}
	sortScopes(scopes)
	return scopes, true
}

func (ix *subscriptionIndex) users() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.byUser))
	for u := range ix.byUser {
		out = append(out, u)
	}
	return out
}

func (ix *subscriptionIndex) all() []*Connection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*Connection, 0, len(ix.byConn))
	for _, entry := range ix.byConn {
		out = append(out, entry.conn)
	}
	return out
}

func (ix *subscriptionIndex) len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byConn)
}

func (ix *subscriptionIndex) userCount(userID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byUser[userID])
}

// indexSnapshot is a deep copy of the index maps, used to compare states.
type indexSnapshot struct {
	ByUser    map[string][]ConnectionID
	ByChannel map[string][]ConnectionID
	ByTeam    map[string][]ConnectionID
	ByConn    map[ConnectionID][]Scope
}

func (ix *subscriptionIndex) snapshot() indexSnapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	copySets := func(m map[string]connSet) map[string][]ConnectionID {
		out := make(map[string][]ConnectionID, len(m))
		for k, set := range m {
			ids := make([]ConnectionID, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			sortIDs(ids)
			out[k] = ids
		}
		return out
	}

	byConn := make(map[ConnectionID][]Scope, len(ix.byConn))
	for id, entry := range ix.byConn {
		scopes := []Scope{UserScope(entry.conn.userID)}
		for ch := range entry.channels {
			scopes = append(scopes, ChannelScope(ch))
		}
		for team := range entry.teams {
			scopes = append(scopes, TeamScope(team))
		}
		sortScopes(scopes)
		byConn[id] = scopes
	}

	return indexSnapshot{
		ByUser:    copySets(ix.byUser),
		ByChannel: copySets(ix.byChannel),
		ByTeam:    copySets(ix.byTeam),
		ByConn:    byConn,
	}
}
