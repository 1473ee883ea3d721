package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-hub/internal/auth"
	"github.com/Tyrowin/gochat-hub/internal/observability"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
)

const testSecret = "test-secret"

type testEnv struct {
	srv     *Server
	hub     *realtime.Hub
	ts      *httptest.Server
	authn   *auth.JWTAuthenticator
	members *realtime.StaticMembership
	metrics *observability.Metrics
}

// frame is any server to client message: an event or a reply.
type frame struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	Seq      int64           `json:"seq"`
	Status   string          `json:"status"`
	SeqReply int64           `json:"seq_reply"`
	Error    *replyError     `json:"error"`
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...Option) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	reg := prometheus.NewRegistry()
	env := &testEnv{
		authn:   auth.NewJWTAuthenticator(testSecret),
		members: realtime.NewStaticMembership(),
		metrics: observability.NewMetrics(reg),
	}
	env.hub = realtime.NewHub(realtime.Options{},
		realtime.WithMembership(env.members),
		realtime.WithMetrics(env.metrics),
	)
	env.srv = New(cfg, env.hub, env.authn, append([]Option{WithMetrics(env.metrics, reg)}, opts...)...)
	env.ts = httptest.NewServer(env.srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.hub.Shutdown(ctx)
		env.srv.Wait()
		env.ts.Close()
	})
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.authn.Issue(auth.Principal{UserID: userID, SessionID: "sess-" + userID}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/api/v4/websocket"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (e *testEnv) dial(t *testing.T, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(query), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// connect opens an authenticated socket for userID and consumes its hello.
func (e *testEnv) connect(t *testing.T, userID string) (*websocket.Conn, realtime.ConnectionID) {
	t.Helper()
	conn, _, err := e.dial(t, "token="+e.token(t, userID), nil)
	require.NoError(t, err)

	hello := readFrame(t, conn)
	require.Equal(t, string(realtime.EventHello), hello.Event)

	var data struct {
		ConnectionID string `json:"connection_id"`
	}
	require.NoError(t, json.Unmarshal(hello.Data, &data))
	return conn, realtime.ConnectionID(data.ConnectionID)
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, json.Unmarshal(raw, &f), "frame: %s", raw)
	return f
}

func sendRequest(t *testing.T, conn *websocket.Conn, seq int64, action string, data any) {
	t.Helper()
	msg := map[string]any{"seq": seq, "action": action}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// expectClosed reads until the server's close frame and returns its code,
// or -1 when the socket ended without one.
func expectClosed(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		return -1
	}
}
