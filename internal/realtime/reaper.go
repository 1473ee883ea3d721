package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	errReaperRunning    = errors.New("reaper is already running")
	errReaperNotRunning = errors.New("reaper is not running")
)

// ReaperStatus reports the reaper loop and the outcome of its last sweep.
type ReaperStatus struct {
	IsRunning   bool      `json:"is_running"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	LastSweep   time.Time `json:"last_sweep,omitempty"`
	Sweeps      int64     `json:"sweeps"`
	TotalReaped int64     `json:"total_reaped"`
	TotalPinged int64     `json:"total_pinged"`
}

// SweepResult reports what one sweep did.
type SweepResult struct {
	Reaped []ConnectionID
	Pinged []ConnectionID
}

// Reaper wakes every interval, closes connections whose heartbeat lapsed,
// pings idle ones and re-evaluates presence.
type Reaper struct {
	hub      *Hub
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	startedAt time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup

	lastSweep   time.Time
	sweeps      int64
	totalReaped int64
	totalPinged int64
}

func newReaper(h *Hub, interval time.Duration) *Reaper {
	return &Reaper{hub: h, interval: interval}
}

// Start runs sweeps every reap interval until ctx is done or Stop is
// called. Starting a running reaper is an error.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return errReaperRunning
	}

	r.isRunning = true
	r.startedAt = r.hub.clock.Now()
	r.stopCh = make(chan struct{})
	ticker := r.hub.clock.NewTicker(r.interval)

	r.wg.Add(1)
	go r.loop(ctx, ticker, r.stopCh)

	r.hub.l.Infof(ctx, "realtime.reaper.Start: interval=%s heartbeat=%s", r.interval, r.hub.opts.Heartbeat)
	return nil
}

func (r *Reaper) loop(ctx context.Context, ticker Ticker, stopCh <-chan struct{}) {
	defer r.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			res := r.hub.Sweep(r.hub.clock.Now())
			r.record(res)
		}
	}
}

func (r *Reaper) record(res SweepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSweep = r.hub.clock.Now()
	r.sweeps++
	r.totalReaped += int64(len(res.Reaped))
	r.totalPinged += int64(len(res.Pinged))
}

// Stop signals the loop and waits for it to exit.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return errReaperNotRunning
	}
	r.isRunning = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.hub.l.Info(context.Background(), "realtime.reaper.Stop: stopped")
	return nil
}

// Status returns a snapshot of the reaper state.
func (r *Reaper) Status() ReaperStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReaperStatus{
		IsRunning:   r.isRunning,
		StartedAt:   r.startedAt,
		LastSweep:   r.lastSweep,
		Sweeps:      r.sweeps,
		TotalReaped: r.totalReaped,
		TotalPinged: r.totalPinged,
	}
}

type pingData struct {
	ServerTime int64 `json:"server_time"`
	Interval   int64 `json:"interval"`
}

// Sweep runs one reaper pass at now. It removes evicted slow consumers that
// are still registered, reaps connections silent for 2·P and pings idle
// ones. Connections are selected under the index read lock and closed after
// it is released.
func (h *Hub) Sweep(now time.Time) SweepResult {
	deadline := 2 * h.opts.Heartbeat

	var evicted, stale, idle []*Connection
	for _, c := range h.index.all() {
		age := now.Sub(c.LastSeen())
		switch {
		case c.State() == StateForcedClose:
			evicted = append(evicted, c)
		case age >= deadline:
			stale = append(stale, c)
		case age > h.opts.Heartbeat && c.State() == StateOpen:
			idle = append(idle, c)
		}
	}

	var res SweepResult
	for _, c := range evicted {
		h.RemoveConnection(c.id)
		res.Reaped = append(res.Reaped, c.id)
	}
	for _, c := range stale {
		h.l.Infof(context.Background(), "realtime.reaper.Sweep: reaping conn=%s user=%s last_seen=%s",
			c.id, c.userID, c.LastSeen().Format(time.RFC3339))
		h.terminate(c, CloseHeartbeatTimeout)
		res.Reaped = append(res.Reaped, c.id)
	}

	if len(idle) > 0 {
		ping := MustEnvelope(EventPing, pingData{
			ServerTime: now.UnixMilli(),
			Interval:   h.opts.Heartbeat.Milliseconds(),
		}, BroadcastSpec{})
		for _, c := range idle {
			h.deliver(c, ping)
			res.Pinged = append(res.Pinged, c.id)
		}
	}

	// Remaining users may have crossed the online window without any
	// connection change.
	for _, u := range h.index.users() {
		h.presenceChanged(u)
	}

	return res
}
