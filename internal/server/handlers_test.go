package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-hub/internal/realtime"
)

// TestWebSocketHandlerQueryToken tests that a token in the query string
// authenticates the upgrade and hello arrives first with sequence 0.
func TestWebSocketHandlerQueryToken(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := env.dial(t, "token="+env.token(t, "u1"), nil)
	require.NoError(t, err)

	hello := readFrame(t, conn)
	assert.Equal(t, string(realtime.EventHello), hello.Event)
	assert.Equal(t, int64(0), hello.Seq)

	var data map[string]string
	require.NoError(t, json.Unmarshal(hello.Data, &data))
	assert.NotEmpty(t, data["connection_id"])
	assert.Equal(t, "9.5.0", data["server_version"])

	assert.Equal(t, 1, env.hub.UserConnectionCount("u1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Handshakes.WithLabelValues(handshakeOK)))
}

// TestWebSocketHandlerTokenSources tests the header and cookie token sources.
func TestWebSocketHandlerTokenSources(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		header func(token string) http.Header
	}{
		{"bearer header", func(tok string) http.Header {
			return http.Header{"Authorization": []string{"Bearer " + tok}}
		}},
		{"token header", func(tok string) http.Header {
			return http.Header{"Authorization": []string{"Token " + tok}}
		}},
		{"cookie", func(tok string) http.Header {
			return http.Header{"Cookie": []string{authCookie + "=" + tok}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := env.dial(t, "", tt.header(env.token(t, "u-"+tt.name)))
			require.NoError(t, err)
			assert.Equal(t, string(realtime.EventHello), readFrame(t, conn).Event)
		})
	}
}

// TestWebSocketHandlerChallenge tests the in-band authentication flow. The
// OK reply echoes the challenge sequence and precedes hello.
func TestWebSocketHandlerChallenge(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := env.dial(t, "", nil)
	require.NoError(t, err)

	sendRequest(t, conn, 1, ActionAuthChallenge, map[string]string{"token": env.token(t, "u1")})

	ack := readFrame(t, conn)
	assert.Equal(t, StatusOK, ack.Status)
	assert.Equal(t, int64(1), ack.SeqReply)
	assert.Empty(t, ack.Event)

	hello := readFrame(t, conn)
	assert.Equal(t, string(realtime.EventHello), hello.Event)
	assert.Equal(t, int64(0), hello.Seq)
	assert.Equal(t, 1, env.hub.ConnectionCount())
}

// TestWebSocketHandlerHandshakeFailure tests that a bad first frame is
// answered with FAIL, the socket is closed and nothing reaches the hub.
func TestWebSocketHandlerHandshakeFailure(t *testing.T) {
	tests := []struct {
		name       string
		send       func(t *testing.T, conn *websocket.Conn)
		wantSeq    int64
		wantStatus int
		wantResult string
	}{
		{
			name: "malformed frame",
			send: func(t *testing.T, conn *websocket.Conn) {
				require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
			},
			wantSeq:    1,
			wantStatus: http.StatusBadRequest,
			wantResult: handshakeBadFrame,
		},
		{
			name: "invalid token",
			send: func(t *testing.T, conn *websocket.Conn) {
				sendRequest(t, conn, 7, ActionAuthChallenge, map[string]string{"token": "nope"})
			},
			wantSeq:    7,
			wantStatus: http.StatusUnauthorized,
			wantResult: handshakeUnauthorized,
		},
		{
			name: "other action first",
			send: func(t *testing.T, conn *websocket.Conn) {
				sendRequest(t, conn, 3, ActionPing, nil)
			},
			wantSeq:    3,
			wantStatus: http.StatusUnauthorized,
			wantResult: handshakeUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			conn, _, err := env.dial(t, "", nil)
			require.NoError(t, err)
			tt.send(t, conn)

			r := readFrame(t, conn)
			assert.Equal(t, StatusFail, r.Status)
			assert.Equal(t, tt.wantSeq, r.SeqReply)
			require.NotNil(t, r.Error)
			assert.Equal(t, tt.wantStatus, r.Error.StatusCode)

			assert.Equal(t, websocket.ClosePolicyViolation, expectClosed(t, conn))
			assert.Equal(t, 0, env.hub.ConnectionCount())
			assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Handshakes.WithLabelValues(tt.wantResult)))
		})
	}
}

// TestWebSocketHandlerAuthTimeout tests that a silent client is failed once
// the authentication timeout passes.
func TestWebSocketHandlerAuthTimeout(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AuthTimeout = 100 * time.Millisecond })

	conn, _, err := env.dial(t, "", nil)
	require.NoError(t, err)

	r := readFrame(t, conn)
	assert.Equal(t, StatusFail, r.Status)
	assert.Equal(t, int64(1), r.SeqReply)
	assert.Equal(t, 0, env.hub.ConnectionCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Handshakes.WithLabelValues(handshakeTimeout)))
}

// TestWebSocketHandlerRejectsInvalidToken tests that a bad token in the
// request is refused before the upgrade.
func TestWebSocketHandlerRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp, err := env.dial(t, "token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.hub.ConnectionCount())
}

// TestWebSocketHandlerConnectionCap tests the per-user connection limit.
func TestWebSocketHandlerConnectionCap(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxConnectionsPerUser = 2 })

	env.connect(t, "u1")
	env.connect(t, "u1")

	_, resp, err := env.dial(t, "token="+env.token(t, "u1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 2, env.hub.UserConnectionCount("u1"))

	// Other users are unaffected.
	env.connect(t, "u2")
	assert.Equal(t, 1, env.hub.UserConnectionCount("u2"))
}

// TestWebSocketHandlerChallengeConnectionCap tests that the limit also
// applies to in-band authentication, answered with a FAIL reply.
func TestWebSocketHandlerChallengeConnectionCap(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxConnectionsPerUser = 1 })
	env.connect(t, "u1")

	conn, _, err := env.dial(t, "", nil)
	require.NoError(t, err)
	sendRequest(t, conn, 1, ActionAuthChallenge, map[string]string{"token": env.token(t, "u1")})

	r := readFrame(t, conn)
	assert.Equal(t, StatusFail, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, http.StatusTooManyRequests, r.Error.StatusCode)
	assert.Equal(t, 1, env.hub.UserConnectionCount("u1"))
}

// TestWebSocketHandlerMethodNotAllowed tests that only GET is accepted.
func TestWebSocketHandlerMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Post(env.ts.URL+"/api/v4/websocket", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestWebSocketHandlerOrigin tests the origin policy on the upgrade.
func TestWebSocketHandlerOrigin(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AllowedOrigins = []string{"https://chat.example.com"} })

	_, resp, err := env.dial(t, "token="+env.token(t, "u1"), http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := env.dial(t, "token="+env.token(t, "u1"), http.Header{"Origin": []string{"https://CHAT.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, string(realtime.EventHello), readFrame(t, conn).Event)
}

// TestWebSocketHandlerAutoSubscribe tests that a new connection joins its
// user's teams and channels.
func TestWebSocketHandlerAutoSubscribe(t *testing.T) {
	env := newTestEnv(t, nil)
	env.members.SetTeams("u1", "t1")
	env.members.SetChannels("u1", "c1", "c2")

	_, id := env.connect(t, "u1")

	scopes, err := env.hub.ScopesOf(id)
	require.NoError(t, err)
	assert.Equal(t, []realtime.Scope{
		realtime.UserScope("u1"),
		realtime.ChannelScope("c1"),
		realtime.ChannelScope("c2"),
		realtime.TeamScope("t1"),
	}, scopes)
}

// TestHealthHandler tests the health endpoint.
func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, StatusOK, body["status"])

	missing, err := http.Get(env.ts.URL + "/nope")
	require.NoError(t, err)
	defer func() { _ = missing.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

// TestMetricsRoute tests that the registry is exposed on /metrics.
func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	env.connect(t, "u1")

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "gochat_hub_handshakes_total")
	assert.Contains(t, buf.String(), "gochat_hub_connections_active 1")
}
