package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-hub/internal/observability"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type sequentialIDs struct{ n atomic.Int64 }

func (s *sequentialIDs) NextConnectionID() ConnectionID {
	return ConnectionID(fmt.Sprintf("conn-%04d", s.n.Add(1)))
}

type recordingSink struct {
	mu      sync.Mutex
	changes []PresenceChange
}

func (s *recordingSink) PresenceChanged(_ context.Context, c PresenceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	return nil
}

func (s *recordingSink) forUser(userID string) []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Status
	for _, c := range s.changes {
		if c.UserID == userID {
			out = append(out, c.Status)
		}
	}
	return out
}

type testHub struct {
	*Hub
	clock   *ManualClock
	members *StaticMembership
	sink    *recordingSink
	metrics *observability.Metrics
}

func newTestHub(t *testing.T, mutate func(*Options)) *testHub {
	t.Helper()

	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}

	th := &testHub{
		clock:   NewManualClock(epoch),
		members: NewStaticMembership(),
		sink:    &recordingSink{},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	th.Hub = NewHub(opts,
		WithClock(th.clock),
		WithIDGenerator(&sequentialIDs{}),
		WithMembership(th.members),
		WithPresenceSink(th.sink),
		WithMetrics(th.metrics),
	)
	t.Cleanup(func() { _ = th.Shutdown(context.Background()) })
	return th
}

// drain returns everything currently queued on c without blocking.
func drain(c *Connection) []*Envelope {
	var out []*Envelope
	for {
		select {
		case env := <-c.Outbound():
			out = append(out, env)
		default:
			return out
		}
	}
}

func next(t *testing.T, c *Connection) *Envelope {
	t.Helper()
	select {
	case env := <-c.Outbound():
		return env
	default:
		t.Fatalf("connection %s has nothing queued", c.ID())
		return nil
	}
}

func expectHello(t *testing.T, c *Connection) *Envelope {
	t.Helper()
	env := next(t, c)
	require.Equal(t, EventHello, env.Event())
	return env
}

func ofType(envs []*Envelope, event EventType) []*Envelope {
	var out []*Envelope
	for _, e := range envs {
		if e.Event() == event {
			out = append(out, e)
		}
	}
	return out
}

func decodeStatus(t *testing.T, env *Envelope) statusChangeData {
	t.Helper()
	var d statusChangeData
	require.NoError(t, json.Unmarshal(env.Data(), &d))
	return d
}
