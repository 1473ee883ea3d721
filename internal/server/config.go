package server

import (
	"time"

	"github.com/Tyrowin/gochat-hub/config"
)

// RateLimitConfig defines the parameters for per-connection inbound frame
// rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the transport settings of one Server.
type Config struct {
	Port                  string
	AllowedOrigins        []string
	AllowEmptyOrigin      bool
	MaxMessageSize        int64
	RateLimit             RateLimitConfig
	MaxConnectionsPerUser int
	AuthTimeout           time.Duration
	WriteTimeout          time.Duration
	PingInterval          time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:                  ":8065",
		AllowedOrigins:        []string{"http://localhost:8065"},
		AllowEmptyOrigin:      true,
		MaxMessageSize:        8192,
		RateLimit:             RateLimitConfig{Burst: 20, RefillInterval: time.Second},
		MaxConnectionsPerUser: 5,
		AuthTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		PingInterval:          30 * time.Second,
		HTTPReadTimeout:       15 * time.Second,
		HTTPWriteTimeout:      15 * time.Second,
		HTTPIdleTimeout:       60 * time.Second,
	}
}

// ConfigFrom derives the transport view of the application config. The
// websocket ping follows the hub heartbeat.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Port:                  cfg.Server.Port,
		AllowedOrigins:        append([]string(nil), cfg.Server.AllowedOrigins...),
		AllowEmptyOrigin:      cfg.Server.AllowEmptyOrigin,
		MaxMessageSize:        cfg.Server.MaxMessageSize,
		RateLimit:             RateLimitConfig{Burst: cfg.Server.RateLimitBurst, RefillInterval: cfg.Server.RateLimitRefill},
		MaxConnectionsPerUser: cfg.Server.MaxConnectionsPerUser,
		AuthTimeout:           cfg.Server.AuthTimeout,
		WriteTimeout:          cfg.Realtime.WriteTimeout,
		PingInterval:          cfg.Realtime.Heartbeat,
		HTTPReadTimeout:       cfg.Server.ReadTimeout,
		HTTPWriteTimeout:      cfg.Server.WriteTimeout,
		HTTPIdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func (c Config) sanitize() Config {
	def := DefaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.MaxConnectionsPerUser <= 0 {
		c.MaxConnectionsPerUser = def.MaxConnectionsPerUser
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.HTTPReadTimeout <= 0 {
		c.HTTPReadTimeout = def.HTTPReadTimeout
	}
	if c.HTTPWriteTimeout <= 0 {
		c.HTTPWriteTimeout = def.HTTPWriteTimeout
	}
	if c.HTTPIdleTimeout <= 0 {
		c.HTTPIdleTimeout = def.HTTPIdleTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// pongWait is how long the read side waits for any frame before giving up.
func (c Config) pongWait() time.Duration {
	return 2 * c.PingInterval
}
