package realtime

import (
	"context"
	"sync"
	"time"
)

// Status is a user presence as sent in status_change events.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// PresenceState is the coarse presence of a user. LastActivity is the newest
// last_seen of the user's connections, zero when there are none.
type PresenceState struct {
	Status       Status
	LastActivity time.Time
}

// PresenceChange is handed to every PresenceSink after a status_change has
// been emitted.
type PresenceChange struct {
	UserID       string
	Status       Status
	LastActivity time.Time
	At           time.Time
}

// PresenceSink receives committed presence transitions, for example to
// mirror them into a shared store.
type PresenceSink interface {
	PresenceChanged(ctx context.Context, change PresenceChange) error
}

// evaluatePresence applies the presence windows to the newest activity of a
// user holding count connections. The online window is inclusive, the away
// cutoff exclusive.
func evaluatePresence(count int, newest, now time.Time, onlineWindow, awayCutoff time.Duration) PresenceState {
	if count == 0 {
		return PresenceState{Status: StatusOffline}
	}

	age := now.Sub(newest)
	switch {
	case age <= onlineWindow:
		return PresenceState{Status: StatusOnline, LastActivity: newest}
	case age < awayCutoff:
		return PresenceState{Status: StatusAway, LastActivity: newest}
	default:
		return PresenceState{Status: StatusOffline, LastActivity: newest}
	}
}

// presenceTracker remembers the last emitted status per user and debounces
// re-evaluation so that a flap inside the debounce window emits nothing.
type presenceTracker struct {
	clock    Clock
	debounce time.Duration

	mu      sync.Mutex
	emitted map[string]Status
	pending map[string]Timer
	stopped bool
}

func newPresenceTracker(clock Clock, debounce time.Duration) *presenceTracker {
	return &presenceTracker{
		clock:    clock,
		debounce: debounce,
		emitted:  make(map[string]Status),
		pending:  make(map[string]Timer),
	}
}

func (p *presenceTracker) lastEmitted(userID string) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.emitted[userID]; ok {
		return st
	}
	return StatusOffline
}

// observe schedules fire after the debounce window when current differs from
// what was last emitted. An already pending evaluation absorbs the change.
func (p *presenceTracker) observe(userID string, current Status, fire func()) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if _, pending := p.pending[userID]; pending {
		p.mu.Unlock()
		return
	}
	last, ok := p.emitted[userID]
	if !ok {
		last = StatusOffline
	}
	if last == current {
		p.mu.Unlock()
		return
	}

	if p.debounce <= 0 {
		p.mu.Unlock()
		fire()
		return
	}

	p.pending[userID] = p.clock.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		delete(p.pending, userID)
		stopped := p.stopped
		p.mu.Unlock()
		if !stopped {
			fire()
		}
	})
	p.mu.Unlock()
}

// commit records st as emitted. It reports false when st equals the last
// emitted status, in which case nothing should be sent.
func (p *presenceTracker) commit(userID string, st Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.emitted[userID]
	if !ok {
		last = StatusOffline
	}
	if last == st {
		return false
	}
	if st == StatusOffline {
		delete(p.emitted, userID)
	} else {
		p.emitted[userID] = st
	}
	return true
}

func (p *presenceTracker) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for user, t := range p.pending {
		t.Stop()
		delete(p.pending, user)
	}
}
