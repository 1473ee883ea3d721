package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-hub/internal/auth"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
)

// TestParseRequest tests request decoding and the sequence fallback.
func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantSeq int64
		wantErr bool
	}{
		{"valid", `{"seq":4,"action":"ping"}`, 4, false},
		{"missing seq", `{"action":"ping"}`, 1, false},
		{"missing action", `{"seq":9}`, 1, true},
		{"not json", `hello`, 1, true},
		{"array", `[1,2]`, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseRequest([]byte(tt.raw))
			assert.Equal(t, tt.wantSeq, req.Seq)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBadFrame)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestReplyShape tests the JSON form of OK and FAIL replies.
func TestReplyShape(t *testing.T) {
	ok, err := json.Marshal(okReply(3, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"OK","seq_reply":3}`, string(ok))

	fail, err := json.Marshal(failReply(1, errNotAuthorized))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status":"FAIL",
		"seq_reply":1,
		"error":{
			"id":"api.web_socket_router.not_authenticated.app_error",
			"message":"Not authenticated.",
			"detailed_error":"server: authentication required",
			"status_code":401
		}
	}`, string(fail))
}

// TestAuthFailureDetail tests that authentication failures match the hub
// sentinel while the reply detail carries only the client-facing text.
func TestAuthFailureDetail(t *testing.T) {
	wrapped := fmt.Errorf("%w: %v", errNotAuthorized, auth.ErrTokenInvalid)

	for _, err := range []error{errNotAuthorized, wrapped} {
		assert.ErrorIs(t, err, realtime.ErrAuthenticationFailed)
		assert.ErrorIs(t, err, errNotAuthorized)

		re := toReplyError(err)
		assert.Equal(t, http.StatusUnauthorized, re.StatusCode)
		assert.NotContains(t, re.DetailedError, realtime.ErrAuthenticationFailed.Error())
	}
	assert.Equal(t, "server: authentication required: "+auth.ErrTokenInvalid.Error(), toReplyError(wrapped).DetailedError)
}

// TestToReplyErrorStatusCodes tests the status code for each error class.
func TestToReplyErrorStatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errNotAuthorized, http.StatusUnauthorized},
		{errAuthTimeout, http.StatusUnauthorized},
		{errTooManyConns, http.StatusTooManyRequests},
		{errRateLimited, http.StatusTooManyRequests},
		{errNotMember, http.StatusForbidden},
		{errBadAction, http.StatusBadRequest},
		{errMissingChannel, http.StatusBadRequest},
		{errBadFrame, http.StatusBadRequest},
		{errors.New("anything else"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, toReplyError(tt.err).StatusCode)
		})
	}
}
