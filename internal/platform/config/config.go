package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	platformstrings "fundpool/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr                string
	Environment         string
	ControllerAddress   string
	MinimumExternal     decimal.Decimal
	Network             string
	NetworksFile        string
	OracleTimeout       time.Duration
	DatabaseURL         string
	Redis               RedisConfig
	Kafka               KafkaConfig
	RateLimitPerSecond  float64
	RateLimitBurst      int
	WithdrawLeaseTTL    time.Duration
	RequestTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

// RedisConfig configures the withdrawal lease client. An empty URL keeps the
// guard in process.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the event feed. No brokers disables publishing.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// DefaultMinimumExternal is the admission threshold in external units.
var DefaultMinimumExternal = decimal.NewFromInt(50)

// IsDevelopment reports whether the process runs in a local environment.
func (s Server) IsDevelopment() bool {
	return s.Environment == "" || s.Environment == "development" || s.Environment == "local"
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:                envOr("FUNDPOOL_ADDR", ":8080"),
		Environment:         envOr("APP_ENV", "development"),
		ControllerAddress:   os.Getenv("CONTROLLER_ADDRESS"),
		MinimumExternal:     envDecimal("MINIMUM_EXTERNAL", DefaultMinimumExternal),
		Network:             envOr("NETWORK", "hardhat"),
		NetworksFile:        envOr("NETWORKS_FILE", "config/networks.yaml"),
		OracleTimeout:       envDuration("ORACLE_TIMEOUT", 5*time.Second),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RateLimitPerSecond:  envFloat("RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:      envInt("RATE_LIMIT_BURST", 10),
		WithdrawLeaseTTL:    envDuration("WITHDRAW_LEASE_TTL", 30*time.Second),
		RequestTimeout:      envDuration("REQUEST_TIMEOUT", 15*time.Second),
		ShutdownGracePeriod: envDuration("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  platformstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			Topic:    envOr("KAFKA_TOPIC", "fundpool.events"),
			ClientID: envOr("KAFKA_CLIENT_ID", "fundpool"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v, err := decimal.NewFromString(strings.TrimSpace(os.Getenv(key))); err == nil && v.IsPositive() {
		return v
	}
	return fallback
}
