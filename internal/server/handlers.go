// Package server exposes the Mattermost-compatible websocket endpoint in
// front of a realtime.Hub, along with health and metrics routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-hub/internal/auth"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
)

const authCookie = "MMAUTHTOKEN"

// Handshake outcomes recorded on the handshakes metric.
const (
	handshakeOK           = "ok"
	handshakeUnauthorized = "unauthorized"
	handshakeBadFrame     = "bad_frame"
	handshakeTimeout      = "timeout"
	handshakeTooMany      = "too_many_connections"
	handshakeUpgrade      = "upgrade_failed"
)

// WebSocketHandler authenticates the caller, upgrades the connection and
// registers it with the hub. A token in the request is checked before the
// upgrade; otherwise the first frame must be an authentication challenge.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	var principal auth.Principal
	token := tokenFromRequest(r)
	preAuthenticated := token != ""
	if preAuthenticated {
		p, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.metrics.Handshake(handshakeUnauthorized)
			s.l.Infof(r.Context(), "server.handlers.WebSocketHandler: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if s.hub.UserConnectionCount(p.UserID) >= s.cfg.MaxConnectionsPerUser {
			s.metrics.Handshake(handshakeTooMany)
			http.Error(w, "Too many connections", http.StatusTooManyRequests)
			return
		}
		principal = p
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.Handshake(handshakeUpgrade)
		s.l.Warnf(r.Context(), "server.handlers.WebSocketHandler: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	var challengeSeq int64
	if !preAuthenticated {
		p, seq, err := s.readChallenge(r.Context(), conn)
		if err != nil {
			s.rejectHandshake(r.Context(), conn, seq, err)
			return
		}
		principal, challengeSeq = p, seq
	}

	rt, err := s.admit(principal)
	if err != nil {
		s.rejectHandshake(r.Context(), conn, challengeSeq, err)
		return
	}

	if !preAuthenticated {
		// The ack goes out before the pumps start so it precedes hello.
		if err := s.writeReply(conn, okReply(challengeSeq, nil)); err != nil {
			s.l.Warnf(r.Context(), "server.handlers.WebSocketHandler: write ack: %v", err)
			s.hub.RemoveConnection(rt.ID())
			_ = conn.Close()
			return
		}
	}

	s.subscribeMemberships(rt)
	s.metrics.Handshake(handshakeOK)
	s.l.Infof(r.Context(), "server.handlers.WebSocketHandler: user=%s conn=%s addr=%s", principal.UserID, rt.ID(), r.RemoteAddr)

	newClient(conn, rt, s, r.RemoteAddr).run()
}

// HealthHandler reports that the process is serving.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      StatusOK,
		"connections": s.hub.ConnectionCount(),
	})
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && (strings.EqualFold(scheme, "bearer") || strings.EqualFold(scheme, "token")) {
			return strings.TrimSpace(value)
		}
	}

	if c, err := r.Cookie(authCookie); err == nil {
		return c.Value
	}
	return ""
}

// readChallenge waits for the authentication_challenge frame. The returned
// sequence is the one to answer, even on error.
func (s *Server) readChallenge(ctx context.Context, conn *websocket.Conn) (auth.Principal, int64, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout)); err != nil {
		return auth.Principal{}, 1, fmt.Errorf("%w: %v", errNotAuthorized, err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return auth.Principal{}, 1, errAuthTimeout
		}
		return auth.Principal{}, 1, fmt.Errorf("%w: %v", errBadFrame, err)
	}

	req, err := parseRequest(raw)
	if err != nil {
		return auth.Principal{}, req.Seq, err
	}
	if req.Action != ActionAuthChallenge {
		return auth.Principal{}, req.Seq, errNotAuthorized
	}

	var data authChallengeData
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return auth.Principal{}, req.Seq, errBadFrame
		}
	}

	p, err := s.auth.Authenticate(ctx, data.Token)
	if err != nil {
		return auth.Principal{}, req.Seq, fmt.Errorf("%w: %v", errNotAuthorized, err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return auth.Principal{}, req.Seq, fmt.Errorf("%w: %v", errNotAuthorized, err)
	}
	return p, req.Seq, nil
}

func (s *Server) admit(p auth.Principal) (*realtime.Connection, error) {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	if s.hub.UserConnectionCount(p.UserID) >= s.cfg.MaxConnectionsPerUser {
		return nil, errTooManyConns
	}
	return s.hub.AddConnection(p.UserID, p.SessionID), nil
}

// subscribeMemberships joins a fresh connection to its user's teams and
// channels. Lookup failures leave the connection on its user scope only.
func (s *Server) subscribeMemberships(rt *realtime.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	members := s.hub.Membership()
	teams, err := members.TeamsOf(ctx, rt.UserID())
	if err != nil {
		s.l.Warnf(ctx, "server.handlers.subscribeMemberships: teams of %s: %v", rt.UserID(), err)
	}
	channels, err := members.ChannelsOf(ctx, rt.UserID())
	if err != nil {
		s.l.Warnf(ctx, "server.handlers.subscribeMemberships: channels of %s: %v", rt.UserID(), err)
	}

	for _, t := range teams {
		if err := s.hub.Subscribe(rt.ID(), realtime.TeamScope(t)); err != nil {
			s.l.Debugf(ctx, "server.handlers.subscribeMemberships: %v", err)
		}
	}
	for _, c := range channels {
		if err := s.hub.Subscribe(rt.ID(), realtime.ChannelScope(c)); err != nil {
			s.l.Debugf(ctx, "server.handlers.subscribeMemberships: %v", err)
		}
	}
}

func (s *Server) rejectHandshake(ctx context.Context, conn *websocket.Conn, seq int64, cause error) {
	result := handshakeUnauthorized
	switch {
	case errors.Is(cause, errBadFrame):
		result = handshakeBadFrame
	case errors.Is(cause, errTooManyConns):
		result = handshakeTooMany
	case errors.Is(cause, errAuthTimeout):
		result = handshakeTimeout
	}
	s.metrics.Handshake(result)
	s.l.Infof(ctx, "server.handlers.rejectHandshake: %v", cause)

	if seq == 0 {
		seq = 1
	}
	if err := s.writeReply(conn, failReply(seq, cause)); err != nil && !isExpectedCloseError(err) {
		s.l.Debugf(ctx, "server.handlers.rejectHandshake: write reply: %v", err)
	}

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
	if errors.Is(cause, errTooManyConns) {
		msg = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections")
	}
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
	_ = conn.Close()
}

// writeReply writes directly to the socket. It is only used before the
// client pumps own the connection.
func (s *Server) writeReply(conn *websocket.Conn, r reply) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(r)
}
