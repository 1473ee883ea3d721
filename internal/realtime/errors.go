package realtime

import "errors"

var (
	ErrUnknownConnection    = errors.New("realtime: unknown connection")
	ErrConnectionClosed     = errors.New("realtime: connection closed")
	ErrQueueOverflow        = errors.New("realtime: outbound queue overflow")
	ErrAuthenticationFailed = errors.New("realtime: authentication failed")
	ErrUnknownEventType     = errors.New("realtime: unknown event type")
	ErrInvalidScope         = errors.New("realtime: invalid scope")
	ErrInvalidPayload       = errors.New("realtime: event data must be a JSON object")
)
