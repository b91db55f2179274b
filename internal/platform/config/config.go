// Package config builds the process configuration from environment variables
// so main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
}

// Postgres captures the manifest store connection.
type Postgres struct {
	URL string
}

// Redis captures the consultation cache connection.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// Kafka captures the audit trail broker.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Authority captures the endpoint and environment of the tax authority.
type Authority struct {
	BaseURL     string
	Timeout     time.Duration
	Environment int // 1 production, 2 homologation
}

// Certificate locates the PKCS#12 signing credential.
type Certificate struct {
	Path     string
	Password string
}

// Lifecycle tunes document issuing and resolution.
type Lifecycle struct {
	Series   int
	MaxPolls int
}

// Poller tunes the background resolution sweep.
type Poller struct {
	Interval    time.Duration
	Parallelism int
}

// Config is the full process configuration.
type Config struct {
	Server      Server
	Postgres    Postgres
	Redis       Redis
	Kafka       Kafka
	Authority   Authority
	Certificate Certificate
	Lifecycle   Lifecycle
	Poller      Poller
}

// FromEnv reads every setting from the environment, applying development
// defaults where a value is safe to default.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("MANIFEST_GATEWAY_ADDR", ":8080"),
			JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     envOr("JWT_ISSUER", "manifest-gateway"),
			JWTAudience:   envOr("JWT_AUDIENCE", "manifest-api"),
		},
		Postgres: Postgres{
			URL: os.Getenv("POSTGRES_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     envDuration("CONSULTATION_CACHE_TTL", 5*time.Minute),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("KAFKA_AUDIT_TOPIC", "manifest-audit"),
		},
		Authority: Authority{
			BaseURL:     os.Getenv("AUTHORITY_BASE_URL"),
			Timeout:     envDuration("AUTHORITY_TIMEOUT", 30*time.Second),
			Environment: envInt("AUTHORITY_ENVIRONMENT", 2),
		},
		Certificate: Certificate{
			Path:     os.Getenv("CERTIFICATE_PATH"),
			Password: os.Getenv("CERTIFICATE_PASSWORD"),
		},
		Lifecycle: Lifecycle{
			Series:   envInt("MANIFEST_SERIES", 1),
			MaxPolls: envInt("MANIFEST_MAX_POLLS", 10),
		},
		Poller: Poller{
			Interval:    envDuration("POLLER_INTERVAL", 30*time.Second),
			Parallelism: envInt("POLLER_PARALLELISM", 4),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
