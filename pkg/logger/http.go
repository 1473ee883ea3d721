package logger

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPLogger logs one line per request. The websocket endpoint is logged when
// the upgraded connection finishes, which is why Hijack is forwarded.
func HTTPLogger(l Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			l.Debugf(context.Background(), "http %s %s status=%d duration_ms=%d remote=%s",
				r.Method, r.URL.Path, ww.statusCode, time.Since(start).Milliseconds(), r.RemoteAddr)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("logger: response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
