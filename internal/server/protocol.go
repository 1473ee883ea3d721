package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Tyrowin/gochat-hub/internal/realtime"
)

// Client actions.
const (
	ActionAuthChallenge    = "authentication_challenge"
	ActionUserTyping       = "user_typing"
	ActionGetStatuses      = "get_statuses"
	ActionGetStatusesByIDs = "get_statuses_by_ids"
	ActionPing             = "ping"
)

const (
	StatusOK   = "OK"
	StatusFail = "FAIL"
)

// authError reads as a client-facing message and matches
// realtime.ErrAuthenticationFailed.
type authError struct{ msg string }

func (e authError) Error() string { return e.msg }
func (e authError) Unwrap() error { return realtime.ErrAuthenticationFailed }

var (
	errBadFrame       = errors.New("server: malformed request")
	errBadAction      = errors.New("server: unknown action")
	errMissingChannel = errors.New("server: missing channel_id")
	errNotAuthorized  = authError{"server: authentication required"}
	errAuthTimeout    = errors.New("server: authentication timed out")
	errNotMember      = errors.New("server: not a member of the channel")
	errTooManyConns   = errors.New("server: too many connections for user")
	errRateLimited    = errors.New("server: rate limit exceeded")
)

// request is a client to server frame.
type request struct {
	Seq    int64           `json:"seq"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// reply answers a request. Replies carry no event and are not sequenced.
type reply struct {
	Status   string      `json:"status"`
	SeqReply int64       `json:"seq_reply"`
	Error    *replyError `json:"error,omitempty"`
	Data     any         `json:"data,omitempty"`
}

type replyError struct {
	ID            string `json:"id"`
	Message       string `json:"message"`
	DetailedError string `json:"detailed_error"`
	StatusCode    int    `json:"status_code"`
}

// parseRequest decodes a frame. Frames that fail to parse are answered as
// sequence 1, which is what the first frame of a session carries.
func parseRequest(raw []byte) (request, error) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil || req.Action == "" {
		return request{Seq: 1}, errBadFrame
	}
	if req.Seq == 0 {
		req.Seq = 1
	}
	return req, nil
}

func okReply(seq int64, data any) reply {
	return reply{Status: StatusOK, SeqReply: seq, Data: data}
}

func failReply(seq int64, err error) reply {
	return reply{Status: StatusFail, SeqReply: seq, Error: toReplyError(err)}
}

func toReplyError(err error) *replyError {
	e := &replyError{DetailedError: err.Error(), StatusCode: http.StatusBadRequest}
	switch {
	case errors.Is(err, realtime.ErrAuthenticationFailed), errors.Is(err, errAuthTimeout):
		e.ID = "api.web_socket_router.not_authenticated.app_error"
		e.Message = "Not authenticated."
		e.StatusCode = http.StatusUnauthorized
	case errors.Is(err, errTooManyConns):
		e.ID = "api.web_socket.connect.too_many_connections.app_error"
		e.Message = "Too many connections for this user."
		e.StatusCode = http.StatusTooManyRequests
	case errors.Is(err, errRateLimited):
		e.ID = "api.web_socket_router.rate_limited.app_error"
		e.Message = "Too many requests."
		e.StatusCode = http.StatusTooManyRequests
	case errors.Is(err, errNotMember):
		e.ID = "api.websocket_handler.not_member.app_error"
		e.Message = "You do not have access to this channel."
		e.StatusCode = http.StatusForbidden
	case errors.Is(err, errBadAction):
		e.ID = "api.web_socket_router.bad_action.app_error"
		e.Message = "Unknown action."
	case errors.Is(err, errMissingChannel):
		e.ID = "api.websocket_handler.invalid_param.app_error"
		e.Message = "Invalid channel_id parameter."
	default:
		e.ID = "api.web_socket_router.bad_seq.app_error"
		e.Message = "Invalid sequence or action."
	}
	return e
}

type typingRequest struct {
	ChannelID string `json:"channel_id"`
	ParentID  string `json:"parent_id"`
}

type typingData struct {
	UserID   string `json:"user_id"`
	ParentID string `json:"parent_id"`
}

type statusesByIDsRequest struct {
	UserIDs []string `json:"user_ids"`
}

type pongData struct {
	Text       string `json:"text"`
	Version    string `json:"version"`
	ServerTime int64  `json:"server_time"`
}

type authChallengeData struct {
	Token string `json:"token"`
}
