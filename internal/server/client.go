package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-hub/internal/realtime"
)

const replyBuffer = 16

// Client pumps frames between one websocket and its hub connection. The
// write pump is the only writer to the socket once run is called.
type Client struct {
	conn    *websocket.Conn
	rt      *realtime.Connection
	srv     *Server
	addr    string
	replies chan reply
	limiter *rateLimiter
}

func newClient(conn *websocket.Conn, rt *realtime.Connection, srv *Server, addr string) *Client {
	return &Client{
		conn:    conn,
		rt:      rt,
		srv:     srv,
		addr:    addr,
		replies: make(chan reply, replyBuffer),
		limiter: newRateLimiter(srv.cfg.RateLimit, time.Now),
	}
}

func (c *Client) run() {
	c.srv.clients.Add(2)
	go c.writePump()
	go c.readPump()
}

// touch records inbound traffic on the hub connection and extends the
// socket read deadline.
func (c *Client) touch() {
	c.rt.MarkActivity(c.srv.hub.Clock().Now())
	if err := c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.pongWait())); err != nil {
		c.srv.l.Debugf(context.Background(), "server.client.touch: %s: %v", c.addr, err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.srv.hub.RemoveConnection(c.rt.ID())
		c.closeConnection()
		c.srv.clients.Done()
	}()

	c.touch()
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		c.touch()
		c.handleRequest(raw)
	}
}

func (c *Client) handleReadError(err error) {
	ctx := context.Background()
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.srv.l.Warnf(ctx, "server.client.readPump: frame from %s exceeded %d bytes", c.addr, c.srv.cfg.MaxMessageSize)
	case isExpectedCloseError(err):
		c.srv.l.Debugf(ctx, "server.client.readPump: %s disconnected: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.srv.l.Infof(ctx, "server.client.readPump: unexpected close from %s: %v", c.addr, err)
	default:
		c.srv.l.Debugf(ctx, "server.client.readPump: read error from %s: %v", c.addr, err)
	}
}

func (c *Client) handleRequest(raw []byte) {
	req, err := parseRequest(raw)
	if err != nil {
		c.reply(failReply(req.Seq, err))
		return
	}

	if !c.limiter.allow() {
		c.srv.l.Infof(context.Background(), "server.client.handleRequest: rate limit exceeded for %s (%d per %s)",
			c.addr, c.srv.cfg.RateLimit.Burst, c.srv.cfg.RateLimit.RefillInterval)
		c.reply(failReply(req.Seq, errRateLimited))
		return
	}

	switch req.Action {
	case ActionAuthChallenge:
		c.reply(okReply(req.Seq, nil))
	case ActionUserTyping:
		c.userTyping(req)
	case ActionGetStatuses:
		c.reply(okReply(req.Seq, c.statuses(c.srv.hub.ConnectedUsers())))
	case ActionGetStatusesByIDs:
		var data statusesByIDsRequest
		if err := json.Unmarshal(req.Data, &data); err != nil || len(data.UserIDs) == 0 {
			c.reply(failReply(req.Seq, errBadFrame))
			return
		}
		c.reply(okReply(req.Seq, c.statusesByIDs(data.UserIDs)))
	case ActionPing:
		c.reply(okReply(req.Seq, pongData{
			Text:       "pong",
			Version:    c.srv.hub.Options().ServerVersion,
			ServerTime: c.srv.hub.Clock().Now().UnixMilli(),
		}))
	default:
		c.reply(failReply(req.Seq, errBadAction))
	}
}

func (c *Client) userTyping(req request) {
	var data typingRequest
	if err := json.Unmarshal(req.Data, &data); err != nil || data.ChannelID == "" {
		c.reply(failReply(req.Seq, errMissingChannel))
		return
	}
	if !c.inChannel(data.ChannelID) {
		c.reply(failReply(req.Seq, errNotMember))
		return
	}

	env, err := realtime.NewEnvelope(realtime.EventTyping, typingData{
		UserID:   c.rt.UserID(),
		ParentID: data.ParentID,
	}, realtime.BroadcastSpec{ChannelID: data.ChannelID, ExcludeUserID: c.rt.UserID()})
	if err != nil {
		c.reply(failReply(req.Seq, err))
		return
	}

	c.srv.hub.Broadcast(env)
	c.reply(okReply(req.Seq, nil))
}

func (c *Client) inChannel(channelID string) bool {
	scopes, err := c.srv.hub.ScopesOf(c.rt.ID())
	if err != nil {
		return false
	}
	for _, s := range scopes {
		if s == realtime.ChannelScope(channelID) {
			return true
		}
	}
	return false
}

func (c *Client) statuses(userIDs []string) map[string]realtime.Status {
	out := make(map[string]realtime.Status, len(userIDs))
	for _, u := range userIDs {
		out[u] = c.srv.hub.PresenceSnapshot(u).Status
	}
	return out
}

// statusesByIDs answers from the hub for users connected here and asks the
// status lookup for everyone else. Lookup failures leave those users offline.
func (c *Client) statusesByIDs(userIDs []string) map[string]realtime.Status {
	out := c.statuses(userIDs)
	if c.srv.statuses == nil {
		return out
	}

	var elsewhere []string
	for _, u := range userIDs {
		if c.srv.hub.UserConnectionCount(u) == 0 {
			elsewhere = append(elsewhere, u)
		}
	}
	if len(elsewhere) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.srv.cfg.WriteTimeout)
	defer cancel()

	found, err := c.srv.statuses.LookupStatuses(ctx, elsewhere)
	if err != nil {
		c.srv.l.Warnf(ctx, "server.client.statusesByIDs: %v", err)
		return out
	}
	for _, u := range elsewhere {
		if st, ok := found[u]; ok {
			out[u] = st
		}
	}
	return out
}

// reply hands r to the write pump. Replies are dropped when the client is
// not reading them.
func (c *Client) reply(r reply) {
	select {
	case c.replies <- r:
	default:
		c.srv.l.Warnf(context.Background(), "server.client.reply: reply buffer full for %s; dropping seq_reply=%d", c.addr, r.SeqReply)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
		c.srv.clients.Done()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case env := <-c.rt.Outbound():
		return c.writeOrClose(c.writeEnvelope(env))
	case r := <-c.replies:
		return c.writeOrClose(c.writeReply(r))
	case <-ticker.C:
		return c.writeOrClose(c.writePing())
	case <-c.rt.Done():
		c.drain()
		c.writeCloseMessage()
		return false
	}
}

func (c *Client) writeOrClose(err error) bool {
	if err == nil {
		return true
	}
	if !isExpectedCloseError(err) {
		c.srv.l.Warnf(context.Background(), "server.client.writePump: write to %s failed: %v", c.addr, err)
	}
	c.srv.hub.CloseConnection(c.rt.ID(), realtime.CloseWriteFailed)
	return false
}

// drain flushes whatever the hub queued before closing, such as goodbye.
func (c *Client) drain() {
	for {
		select {
		case env := <-c.rt.Outbound():
			if err := c.writeEnvelope(env); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeEnvelope(env *realtime.Envelope) error {
	frame, err := realtime.EncodeFrame(env, c.rt.NextWireSeq())
	if err != nil {
		c.srv.l.Errorf(context.Background(), "server.client.writeEnvelope: %v", err)
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) writeReply(r reply) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(r)
}

func (c *Client) writePing() error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *Client) writeCloseMessage() {
	code := websocket.CloseNormalClosure
	switch c.rt.CloseReason() {
	case realtime.CloseShutdown:
		code = websocket.CloseGoingAway
	case realtime.CloseSlowConsumer:
		code = websocket.ClosePolicyViolation
	}
	msg := websocket.FormatCloseMessage(code, c.rt.CloseReason())
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil && !isExpectedCloseError(err) {
		c.srv.l.Debugf(context.Background(), "server.client.writeCloseMessage: %s: %v", c.addr, err)
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.srv.l.Debugf(context.Background(), "server.client.closeConnection: %s: %v", c.addr, err)
	}
}
