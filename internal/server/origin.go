package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// originPolicy decides which browser origins may open a websocket.
type originPolicy struct {
	allowAll   bool
	allowEmpty bool
	allowed    map[string]struct{}
	l          logger.Logger
}

func newOriginPolicy(origins []string, allowEmpty bool, l logger.Logger) *originPolicy {
	p := &originPolicy{
		allowEmpty: allowEmpty,
		allowed:    make(map[string]struct{}, len(origins)),
		l:          l,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			l.Warnf(context.Background(), "server.origin.newOriginPolicy: ignoring invalid origin %q", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}

	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// allow reports whether r may be upgraded. Requests without an Origin
// header come from native clients and are governed by allowEmpty.
func (p *originPolicy) allow(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return p.allowEmpty
	}

	if p.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	_, exists := p.allowed[normalized]
	return exists
}

func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if p.allow(r) {
		return true
	}

	p.l.Warnf(r.Context(), "server.origin.checkOrigin: blocked websocket from disallowed origin %q", r.Header.Get("Origin"))
	return false
}
