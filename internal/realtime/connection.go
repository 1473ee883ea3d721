package realtime

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Connection.
//
//	Connecting -> Open -> Closing -> Closed
//	                  \-> ForcedClose -> Closed
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateForcedClose
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateForcedClose:
		return "forced_close"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EnqueueResult classifies what happened to an envelope offered to a
// Connection.
type EnqueueResult uint8

const (
	Delivered EnqueueResult = iota
	Dropped
	Closed
)

// String implements fmt.Stringer.
func (r EnqueueResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Dropped:
		return "dropped"
	default:
		return "closed"
	}
}

// DropReason says why an envelope was dropped.
type DropReason string

// Drop reasons.
const (
	// DropQueueFull means the outbound queue had no room.
	DropQueueFull DropReason = "queue_full"
	// DropEvicted means the connection was evicted as a slow consumer and is
	// waiting to be removed.
	DropEvicted DropReason = "evicted"
)

// Reasons recorded on force closed connections.
const (
	CloseSlowConsumer     = "slow_consumer"
	CloseHeartbeatTimeout = "heartbeat_timeout"
	CloseShutdown         = "shutdown"
	CloseWriteFailed      = "write_failed"
)

// EnqueueOutcome is the result of offering one envelope to a connection.
// Reason is set only when Result is Dropped. Evicted is set on the one drop
// that crossed the slow consumer threshold.
type EnqueueOutcome struct {
	Result  EnqueueResult
	Reason  DropReason
	Evicted bool
}

// Err maps the outcome onto the package sentinels. Delivered yields nil.
func (o EnqueueOutcome) Err() error {
	switch o.Result {
	case Dropped:
		return ErrQueueOverflow
	case Closed:
		return ErrConnectionClosed
	default:
		return nil
	}
}

// ConnectionOptions bound the outbound queue and the slow consumer policy.
type ConnectionOptions struct {
	QueueCapacity int
	DropThreshold int
	DropWindow    time.Duration
}

// ConnectionStats counts envelopes accepted and dropped over a connection's
// lifetime.
type ConnectionStats struct {
	Delivered uint64
	Dropped   uint64
}

// Connection is one authenticated client transport. The hub is the only
// writer to its outbound queue and the transport loop the only reader.
type Connection struct {
	id          ConnectionID
	userID      string
	sessionID   string
	connectedAt time.Time
	clock       Clock
	opts        ConnectionOptions

	lastSeen atomic.Int64
	wireSeq  atomic.Int64

	queue chan *Envelope
	done  chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64

	mu          sync.Mutex
	state       State
	closeReason string
	doneClosed  bool
	windowStart time.Time
	windowDrops int
}

func newConnection(id ConnectionID, userID, sessionID string, clock Clock, opts ConnectionOptions) *Connection {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.DropThreshold <= 0 {
		opts.DropThreshold = 32
	}
	if opts.DropWindow <= 0 {
		opts.DropWindow = time.Minute
	}

	now := clock.Now()
	c := &Connection{
		id:          id,
		userID:      userID,
		sessionID:   sessionID,
		connectedAt: now,
		clock:       clock,
		opts:        opts,
		queue:       make(chan *Envelope, opts.QueueCapacity),
		done:        make(chan struct{}),
		state:       StateConnecting,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// ID returns the hub-assigned connection id.
func (c *Connection) ID() ConnectionID { return c.id }

// UserID returns the authenticated user.
func (c *Connection) UserID() string { return c.userID }

// SessionID returns the session the token was issued for.
func (c *Connection) SessionID() string { return c.sessionID }

// ConnectedAt returns when the connection was created.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Outbound is the receiver half of the outbound queue.
func (c *Connection) Outbound() <-chan *Envelope { return c.queue }

// Done is closed once the connection stops accepting envelopes, either on a
// slow consumer eviction or on Close. Transport loops exit on it.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseReason returns why the connection was closed, or "" while it is open.
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Stats returns the delivered and dropped counters.
func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{Delivered: c.delivered.Load(), Dropped: c.dropped.Load()}
}

// MarkActivity records inbound traffic at now. Older timestamps are ignored.
func (c *Connection) MarkActivity(now time.Time) {
	n := now.UnixNano()
	for {
		cur := c.lastSeen.Load()
		if n <= cur || c.lastSeen.CompareAndSwap(cur, n) {
			return
		}
	}
}

// LastSeen returns the latest activity recorded by MarkActivity.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// NextWireSeq returns the next per-connection frame sequence, starting at 0.
func (c *Connection) NextWireSeq() int64 {
	return c.wireSeq.Add(1) - 1
}

func (c *Connection) open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		c.state = StateOpen
	}
}

// Enqueue offers env without blocking. A full queue drops the envelope and
// may evict the connection under the slow consumer policy. An evicted
// connection keeps counting every offer as a drop until it is removed.
func (c *Connection) Enqueue(env *Envelope) EnqueueOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting, StateOpen:
	case StateForcedClose:
		c.dropped.Add(1)
		return EnqueueOutcome{Result: Dropped, Reason: DropEvicted}
	default:
		return EnqueueOutcome{Result: Closed}
	}

	select {
	case c.queue <- env:
		c.delivered.Add(1)
		return EnqueueOutcome{Result: Delivered}
	default:
	}

	c.dropped.Add(1)
	evicted := c.recordDropLocked(c.clock.Now())
	return EnqueueOutcome{Result: Dropped, Reason: DropQueueFull, Evicted: evicted}
}

// recordDropLocked reports whether this drop evicted the connection.
func (c *Connection) recordDropLocked(now time.Time) bool {
	if c.windowStart.IsZero() || now.Sub(c.windowStart) > c.opts.DropWindow {
		c.windowStart = now
		c.windowDrops = 0
	}
	c.windowDrops++
	if c.windowDrops < c.opts.DropThreshold {
		return false
	}
	c.state = StateForcedClose
	c.closeReason = CloseSlowConsumer
	c.stopLocked()
	return true
}

// stopLocked closes done exactly once.
func (c *Connection) stopLocked() {
	if !c.doneClosed {
		c.doneClosed = true
		close(c.done)
	}
}

// enqueueFinal places a last envelope, such as goodbye, on a connection that
// is already closing. It never blocks and never counts as a drop.
func (c *Connection) enqueueFinal(env *Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	select {
	case c.queue <- env:
		return true
	default:
		return false
	}
}

// ForceClose marks the connection for termination. It returns false when
// the connection was already closing.
func (c *Connection) ForceClose(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting && c.state != StateOpen {
		return false
	}
	c.state = StateForcedClose
	c.closeReason = reason
	return true
}

func (c *Connection) beginClose(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.state = StateClosing
		c.closeReason = reason
	}
}

// Close moves the connection to Closed and cancels its transport loop.
// It is idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.stopLocked()
}
