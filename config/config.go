package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the whole process configuration, grouped by concern.
type Config struct {
	Env      string
	Server   ServerConfig
	Realtime RealtimeConfig
	JWT      JWTConfig
	Log      LogConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// ServerConfig holds the HTTP listener and websocket admission settings.
type ServerConfig struct {
	Port                  string
	AllowedOrigins        []string
	AllowEmptyOrigin      bool
	MaxMessageSize        int64
	RateLimitBurst        int
	RateLimitRefill       time.Duration
	MaxConnectionsPerUser int
	AuthTimeout           time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	IdleTimeout           time.Duration
	ShutdownTimeout       time.Duration
}

// RealtimeConfig carries the hub tuning knobs. The RT_*_SECS variables are
// whole seconds.
type RealtimeConfig struct {
	QueueCapacity    int
	Heartbeat        time.Duration
	ReapInterval     time.Duration
	OnlineWindow     time.Duration
	AwayCutoff       time.Duration
	DropThreshold    int
	DropWindow       time.Duration
	WriteTimeout     time.Duration
	PresenceDebounce time.Duration
}

// JWTConfig holds the HS256 signing secret shared with the token issuer.
type JWTConfig struct {
	Secret string
}

// LogConfig selects the zap level, mode and encoding.
type LogConfig struct {
	Level    string
	Mode     string
	Encoding string
}

// RedisConfig configures the optional Redis membership and presence store.
// Nothing connects to Redis unless Enabled is set.
type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
}

// KafkaConfig configures the optional Kafka event ingest and presence
// publishing. Nothing connects to Kafka unless Enabled is set.
type KafkaConfig struct {
	Enabled              bool
	Brokers              []string
	ConsumerGroupID      string
	ProducerRetryMax     int
	ProducerRequiredAcks int
}

// Load reads an optional .env file from the working directory, then the
// environment, and validates the result.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit dotenv file. An empty path reads .env
// from the working directory when present.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port:                  getEnv("SERVER_PORT", ":8065"),
			AllowedOrigins:        getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:8065"}),
			AllowEmptyOrigin:      getEnvAsBool("ALLOW_EMPTY_ORIGIN", true),
			MaxMessageSize:        int64(getEnvAsInt("MAX_MESSAGE_SIZE", 8192)),
			RateLimitBurst:        getEnvAsInt("RATE_LIMIT_BURST", 20),
			RateLimitRefill:       getEnvAsSeconds("RATE_LIMIT_REFILL_INTERVAL", time.Second),
			MaxConnectionsPerUser: getEnvAsInt("RT_MAX_CONNECTIONS_PER_USER", 5),
			AuthTimeout:           getEnvAsSeconds("RT_AUTH_TIMEOUT_SECS", 10*time.Second),
			ReadTimeout:           getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:          getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:           getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:       getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Realtime: RealtimeConfig{
			QueueCapacity:    getEnvAsInt("RT_QUEUE_CAPACITY", 256),
			Heartbeat:        getEnvAsSeconds("RT_HEARTBEAT_SECS", 30*time.Second),
			ReapInterval:     getEnvAsSeconds("RT_REAP_INTERVAL_SECS", 10*time.Second),
			OnlineWindow:     getEnvAsSeconds("RT_ONLINE_WINDOW_SECS", 60*time.Second),
			AwayCutoff:       getEnvAsSeconds("RT_AWAY_CUTOFF_SECS", 300*time.Second),
			DropThreshold:    getEnvAsInt("RT_DROP_THRESHOLD", 32),
			DropWindow:       getEnvAsSeconds("RT_DROP_WINDOW_SECS", 60*time.Second),
			WriteTimeout:     getEnvAsSeconds("RT_WRITE_TIMEOUT_SECS", 10*time.Second),
			PresenceDebounce: getEnvAsSeconds("RT_PRESENCE_DEBOUNCE_SECS", 2*time.Second),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "jwt-secret"),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Mode:     getEnv("LOG_MODE", "development"),
			Encoding: getEnv("LOG_ENCODING", "console"),
		},
		Redis: RedisConfig{
			Enabled:      getEnvAsBool("REDIS_ENABLED", false),
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
		},
		Kafka: KafkaConfig{
			Enabled:              getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:              getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ConsumerGroupID:      getEnv("KAFKA_CONSUMER_GROUP_ID", "gochat-hub"),
			ProducerRetryMax:     getEnvAsInt("KAFKA_PRODUCER_RETRY_MAX", 3),
			ProducerRequiredAcks: getEnvAsInt("KAFKA_PRODUCER_REQUIRED_ACKS", 1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects settings the hub cannot run with, such as an away cutoff
// that does not exceed the online window or the default JWT secret in
// production.
func (c *Config) Validate() error {
	rt := c.Realtime

	if rt.QueueCapacity <= 0 {
		return fmt.Errorf("RT_QUEUE_CAPACITY must be positive, got %d", rt.QueueCapacity)
	}
	if rt.Heartbeat <= 0 || rt.ReapInterval <= 0 {
		return fmt.Errorf("heartbeat and reap interval must be positive")
	}
	if rt.OnlineWindow <= 0 || rt.AwayCutoff <= rt.OnlineWindow {
		return fmt.Errorf("away cutoff (%s) must exceed online window (%s)", rt.AwayCutoff, rt.OnlineWindow)
	}
	if rt.DropThreshold <= 0 || rt.DropWindow <= 0 {
		return fmt.Errorf("drop threshold and drop window must be positive")
	}
	if rt.WriteTimeout <= 0 {
		return fmt.Errorf("RT_WRITE_TIMEOUT_SECS must be positive")
	}
	if rt.PresenceDebounce < 0 {
		return fmt.Errorf("RT_PRESENCE_DEBOUNCE_SECS must not be negative")
	}

	if c.Server.MaxConnectionsPerUser < 0 {
		return fmt.Errorf("RT_MAX_CONNECTIONS_PER_USER must not be negative")
	}

	if c.JWT.Secret == "" || c.JWT.Secret == "jwt-secret" {
		if c.Env == "production" {
			return fmt.Errorf("JWT secret must be set in production")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsSeconds reads a whole number of seconds.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	secs, err := strconv.Atoi(valueStr)
	if err != nil || secs < 0 {
		return defaultValue
	}

	return time.Duration(secs) * time.Second
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
