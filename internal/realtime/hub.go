package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/gochat-hub/internal/observability"
	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// Options tune a Hub. Zero fields take the defaults from DefaultOptions.
type Options struct {
	QueueCapacity    int
	Heartbeat        time.Duration
	ReapInterval     time.Duration
	OnlineWindow     time.Duration
	AwayCutoff       time.Duration
	DropThreshold    int
	DropWindow       time.Duration
	PresenceDebounce time.Duration
	ServerVersion    string
}

// DefaultOptions returns the tuning used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		QueueCapacity:    256,
		Heartbeat:        30 * time.Second,
		ReapInterval:     10 * time.Second,
		OnlineWindow:     60 * time.Second,
		AwayCutoff:       5 * time.Minute,
		DropThreshold:    32,
		DropWindow:       60 * time.Second,
		PresenceDebounce: 2 * time.Second,
		ServerVersion:    "9.5.0",
	}
}

func (o Options) sanitize() Options {
	def := DefaultOptions()
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = def.QueueCapacity
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = def.Heartbeat
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = def.ReapInterval
	}
	if o.OnlineWindow <= 0 {
		o.OnlineWindow = def.OnlineWindow
	}
	if o.AwayCutoff <= o.OnlineWindow {
		o.AwayCutoff = o.OnlineWindow + def.AwayCutoff - def.OnlineWindow
	}
	if o.DropThreshold <= 0 {
		o.DropThreshold = def.DropThreshold
	}
	if o.DropWindow <= 0 {
		o.DropWindow = def.DropWindow
	}
	if o.PresenceDebounce < 0 {
		o.PresenceDebounce = 0
	}
	if o.ServerVersion == "" {
		o.ServerVersion = def.ServerVersion
	}
	return o
}

// Option replaces one of the hub collaborators.
type Option func(*Hub)

// WithClock sets the time source. Tests pass a ManualClock.
func WithClock(c Clock) Option { return func(h *Hub) { h.clock = c } }

// WithIDGenerator sets how connection ids are minted.
func WithIDGenerator(g IDGenerator) Option { return func(h *Hub) { h.ids = g } }

// WithMembership sets the resolver used to auto-subscribe new connections.
func WithMembership(m MembershipResolver) Option { return func(h *Hub) { h.membership = m } }

// WithPresenceSink adds a sink notified of every presence transition.
// It may be given more than once.
func WithPresenceSink(s PresenceSink) Option {
	return func(h *Hub) { h.sinks = append(h.sinks, s) }
}

// WithMetrics records hub activity on m.
func WithMetrics(m *observability.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option { return func(h *Hub) { h.l = l } }

// Hub is the single entry point for connection lifecycle and fan-out.
type Hub struct {
	opts       Options
	index      *subscriptionIndex
	presence   *presenceTracker
	reaper     *Reaper
	clock      Clock
	ids        IDGenerator
	membership MembershipResolver
	sinks      []PresenceSink
	metrics    *observability.Metrics
	l          logger.Logger

	// fanoutMu serialises sequence assignment with enqueueing so that every
	// connection sees envelopes in sequence order. Enqueue never blocks.
	fanoutMu sync.Mutex
	seq      int64

	closed atomic.Bool
}

// NewHub builds a hub. Zero fields in opts take their DefaultOptions value.
// The reaper does not run until Start.
func NewHub(opts Options, options ...Option) *Hub {
	h := &Hub{
		opts:       opts.sanitize(),
		index:      newSubscriptionIndex(),
		clock:      SystemClock(),
		ids:        UUIDGenerator{},
		membership: NewStaticMembership(),
		l:          logger.NewNop(),
	}
	for _, o := range options {
		o(h)
	}
	h.presence = newPresenceTracker(h.clock, h.opts.PresenceDebounce)
	h.reaper = newReaper(h, h.opts.ReapInterval)
	return h
}

// Options returns the sanitized tuning.
func (h *Hub) Options() Options { return h.opts }

// Clock returns the hub time source.
func (h *Hub) Clock() Clock { return h.clock }

// Membership returns the resolver the hub was built with.
func (h *Hub) Membership() MembershipResolver { return h.membership }

// Reaper returns the heartbeat task driven by Start.
func (h *Hub) Reaper() *Reaper { return h.reaper }

// Start launches the reaper. It returns immediately.
func (h *Hub) Start(ctx context.Context) error {
	return h.reaper.Start(ctx)
}

// AddConnection registers a new connection for userID and enqueues its hello
// envelope before returning. It never fails; after Shutdown the connection
// comes back already closed.
func (h *Hub) AddConnection(userID, sessionID string) *Connection {
	conn := newConnection(h.ids.NextConnectionID(), userID, sessionID, h.clock, ConnectionOptions{
		QueueCapacity: h.opts.QueueCapacity,
		DropThreshold: h.opts.DropThreshold,
		DropWindow:    h.opts.DropWindow,
	})

	hello := MustEnvelope(EventHello, map[string]string{
		"server_version": h.opts.ServerVersion,
		"connection_id":  string(conn.id),
	}, BroadcastSpec{UserID: userID})

	// closed only flips under fanoutMu, so a registered connection is
	// always visible to Shutdown.
	h.fanoutMu.Lock()
	if h.closed.Load() {
		h.fanoutMu.Unlock()
		conn.beginClose(CloseShutdown)
		conn.Close()
		return conn
	}
	conn.open()
	h.index.register(conn)
	h.deliverLocked(conn, hello)
	h.fanoutMu.Unlock()

	h.metrics.ConnectionOpened()
	h.l.Debugf(context.Background(), "realtime.hub.AddConnection: user=%s conn=%s", userID, conn.id)

	h.presenceChanged(userID)
	return conn
}

// Connection looks up a registered connection.
func (h *Hub) Connection(id ConnectionID) (*Connection, bool) {
	return h.index.get(id)
}

// Subscribe adds a connection to a channel or team scope. It fails with
// ErrUnknownConnection or ErrInvalidScope.
func (h *Hub) Subscribe(id ConnectionID, s Scope) error {
	return h.index.subscribe(id, s)
}

// Unsubscribe removes a connection from a channel or team scope.
func (h *Hub) Unsubscribe(id ConnectionID, s Scope) error {
	return h.index.unsubscribe(id, s)
}

// SubscribeUser joins every live connection of userID to s and returns how
// many connections were subscribed.
func (h *Hub) SubscribeUser(userID string, s Scope) (int, error) {
	return h.eachUserConnection(userID, s, h.index.subscribe)
}

// UnsubscribeUser removes every live connection of userID from s and
// returns how many were touched.
func (h *Hub) UnsubscribeUser(userID string, s Scope) (int, error) {
	return h.eachUserConnection(userID, s, h.index.unsubscribe)
}

func (h *Hub) eachUserConnection(userID string, s Scope, op func(ConnectionID, Scope) error) (int, error) {
	if !s.subscribable() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidScope, s)
	}
	n := 0
	for _, c := range h.index.connectionsOf(userID) {
		if err := op(c.id, s); err != nil {
			// removed concurrently
			continue
		}
		n++
	}
	return n, nil
}

// ScopesOf lists the scopes a connection currently belongs to.
func (h *Hub) ScopesOf(id ConnectionID) ([]Scope, error) {
	scopes, ok := h.index.scopesOf(id)
	if !ok {
		return nil, ErrUnknownConnection
	}
	return scopes, nil
}

// Broadcast stamps env with the next sequence and offers it to every
// connection its BroadcastSpec selects. It returns the number of
// connections that accepted the envelope. Envelopes with an unknown event
// type are rejected and reach nobody.
func (h *Hub) Broadcast(env *Envelope) int {
	if env == nil || !env.event.Valid() {
		h.metrics.EnvelopeRejected()
		if env != nil {
			h.l.Warnf(context.Background(), "realtime.hub.Broadcast: %v: %q", ErrUnknownEventType, env.event)
		}
		return 0
	}

	h.fanoutMu.Lock()
	targets := h.index.resolve(env.broadcast)
	res := h.fanoutLocked(env, targets)
	h.fanoutMu.Unlock()

	h.afterFanout(env, res)
	return res.delivered
}

type fanoutResult struct {
	delivered int
	dropped   int
	closed    int
	evicted   []*Connection
}

func (h *Hub) fanoutLocked(env *Envelope, targets []*Connection) fanoutResult {
	h.seq++
	stamped := env.withSequence(h.seq)

	var res fanoutResult
	for _, c := range targets {
		out := c.Enqueue(stamped)
		switch out.Result {
		case Delivered:
			res.delivered++
		case Dropped:
			res.dropped++
			if out.Evicted {
				res.evicted = append(res.evicted, c)
			}
		case Closed:
			res.closed++
		}
	}
	return res
}

func (h *Hub) afterFanout(env *Envelope, res fanoutResult) {
	h.metrics.EnvelopeBroadcast(string(env.event), res.delivered, res.dropped, res.closed)
	for _, c := range res.evicted {
		h.l.Warnf(context.Background(), "realtime.hub.Broadcast: %v: conn=%s user=%s dropped=%d",
			ErrQueueOverflow, c.id, c.userID, c.Stats().Dropped)
		h.evict(c)
	}
}

// deliverLocked sends env to a single connection. fanoutMu must be held.
func (h *Hub) deliverLocked(c *Connection, env *Envelope) EnqueueOutcome {
	h.seq++
	return c.Enqueue(env.withSequence(h.seq))
}

// deliver sends env to one connection outside any broadcast.
func (h *Hub) deliver(c *Connection, env *Envelope) {
	h.fanoutMu.Lock()
	out := h.deliverLocked(c, env)
	h.fanoutMu.Unlock()

	if err := out.Err(); err != nil {
		h.l.Debugf(context.Background(), "realtime.hub.deliver: %s to conn=%s: %v", env.event, c.id, err)
	}

	if out.Evicted {
		h.evict(c)
	}
}

// evict follows a slow consumer eviction. The connection already stopped
// accepting envelopes and closed Done. It stays registered, counting drops,
// until its transport loop exits or the next sweep removes it.
func (h *Hub) evict(c *Connection) {
	h.metrics.ForcedClose(CloseSlowConsumer)
	c.enqueueFinal(h.goodbye(CloseSlowConsumer))
}

// terminate force closes c, offers it a goodbye and removes it.
func (h *Hub) terminate(c *Connection, reason string) {
	if c.ForceClose(reason) {
		h.metrics.ForcedClose(reason)
	}
	c.enqueueFinal(h.goodbye(reason))
	h.RemoveConnection(c.id)
}

// CloseConnection terminates a connection from the transport side, for
// example after a failed write.
func (h *Hub) CloseConnection(id ConnectionID, reason string) {
	c, ok := h.index.get(id)
	if !ok {
		return
	}
	h.terminate(c, reason)
}

func (h *Hub) goodbye(reason string) *Envelope {
	h.fanoutMu.Lock()
	defer h.fanoutMu.Unlock()
	h.seq++
	return MustEnvelope(EventGoodbye, map[string]string{"reason": reason}, BroadcastSpec{}).withSequence(h.seq)
}

// RemoveConnection deregisters and closes a connection. Unknown or already
// removed ids are ignored.
func (h *Hub) RemoveConnection(id ConnectionID) {
	c := h.index.deregister(id)
	if c == nil {
		return
	}
	c.beginClose("removed")
	c.Close()

	h.metrics.ConnectionClosed()
	h.l.Debugf(context.Background(), "realtime.hub.RemoveConnection: user=%s conn=%s reason=%s", c.userID, id, c.CloseReason())

	h.presenceChanged(c.userID)
}

// PresenceSnapshot derives the current presence of userID from the index.
func (h *Hub) PresenceSnapshot(userID string) PresenceState {
	count, newest := h.index.activity(userID)
	return evaluatePresence(count, newest, h.clock.Now(), h.opts.OnlineWindow, h.opts.AwayCutoff)
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int { return h.index.len() }

// UserConnectionCount returns the number of registered connections of userID.
func (h *Hub) UserConnectionCount(userID string) int { return h.index.userCount(userID) }

// ConnectedUsers lists every user with at least one live connection.
func (h *Hub) ConnectedUsers() []string { return h.index.users() }

// OnlineUsers lists users whose presence is currently online.
func (h *Hub) OnlineUsers() []string {
	var out []string
	for _, u := range h.index.users() {
		if h.PresenceSnapshot(u).Status == StatusOnline {
			out = append(out, u)
		}
	}
	return out
}

func (h *Hub) presenceChanged(userID string) {
	state := h.PresenceSnapshot(userID)
	h.presence.observe(userID, state.Status, func() { h.flushPresence(userID) })
}

func (h *Hub) flushPresence(userID string) {
	state := h.PresenceSnapshot(userID)
	if !h.presence.commit(userID, state.Status) {
		return
	}
	h.emitStatusChange(userID, state)
}

type statusChangeData struct {
	UserID         string `json:"user_id"`
	Status         Status `json:"status"`
	Manual         bool   `json:"manual"`
	LastActivityAt int64  `json:"last_activity_at"`
}

func (h *Hub) emitStatusChange(userID string, state PresenceState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lastActivity int64
	if !state.LastActivity.IsZero() {
		lastActivity = state.LastActivity.UnixMilli()
	}
	env := MustEnvelope(EventStatusChange, statusChangeData{
		UserID:         userID,
		Status:         state.Status,
		LastActivityAt: lastActivity,
	}, BroadcastSpec{})

	teams, err := h.membership.TeamsOf(ctx, userID)
	if err != nil {
		h.l.Warnf(ctx, "realtime.hub.emitStatusChange: teams of %s: %v", userID, err)
	}
	scopes := make([]Scope, 0, len(teams))
	for _, t := range teams {
		scopes = append(scopes, TeamScope(t))
	}

	h.fanoutMu.Lock()
	res := h.fanoutLocked(env, h.index.resolveScopes(scopes, ""))
	h.fanoutMu.Unlock()
	h.afterFanout(env, res)

	h.metrics.PresenceTransition(string(state.Status))
	h.l.Infof(ctx, "realtime.hub.emitStatusChange: user=%s status=%s teams=%d delivered=%d",
		userID, state.Status, len(teams), res.delivered)

	change := PresenceChange{UserID: userID, Status: state.Status, LastActivity: state.LastActivity, At: h.clock.Now()}
	for _, s := range h.sinks {
		if err := s.PresenceChanged(ctx, change); err != nil {
			h.l.Errorf(ctx, "realtime.hub.emitStatusChange: sink: %v", err)
		}
	}
}

// Shutdown stops the reaper, says goodbye to every connection and
// deregisters it. It returns ctx.Err() if ctx ends before every connection
// is gone. Calling it again is a no-op.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.fanoutMu.Lock()
	already := h.closed.Swap(true)
	h.fanoutMu.Unlock()
	if already {
		return nil
	}

	_ = h.reaper.Stop()
	h.presence.stop()

	for _, c := range h.index.all() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.beginClose(CloseShutdown)
		c.enqueueFinal(h.goodbye(CloseShutdown))
		if h.index.deregister(c.id) != nil {
			h.metrics.ConnectionClosed()
		}
		c.Close()
	}

	h.l.Infof(ctx, "realtime.hub.Shutdown: all connections closed")
	return nil
}
