// Package config loads runtime configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	// StrictClaims turns repeat and empty-ID claims into hard failures.
	StrictClaims bool
	// AdminAPIKeyHash is the bcrypt hash guarding the admin endpoints.
	AdminAPIKeyHash string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Cleanup  CleanupConfig
}

// DatabaseConfig holds the PostgreSQL connection settings. An empty URL
// selects the in-memory stores.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds the cache connection settings. An empty URL disables the
// snapshot cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the audit broker settings. Empty brokers select the
// in-memory audit store.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// StorageConfig names the object buckets and the public CDN base URL.
type StorageConfig struct {
	AnonBucket   string
	PublicBucket string
	BaseURL      string
}

// CleanupConfig tunes the trial cleanup sweep.
type CleanupConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

// FromEnv builds the configuration from environment variables, with
// development defaults for everything but secrets.
func FromEnv() Server {
	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtKey == "" {
		// Use a default for development - should be overridden in production
		jwtKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	return Server{
		Addr:            envOr("TAPCARD_ADDR", ":8080"),
		JWTSigningKey:   jwtKey,
		StrictClaims:    os.Getenv("STRICT_CLAIMS") == "true",
		AdminAPIKeyHash: os.Getenv("ADMIN_API_KEY_HASH"),
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   envOr("KAFKA_AUDIT_TOPIC", "tapcard.audit"),
		},
		Storage: StorageConfig{
			AnonBucket:   envOr("STORAGE_ANON_BUCKET", "tapcard-anon"),
			PublicBucket: envOr("STORAGE_PUBLIC_BUCKET", "tapcard-public"),
			BaseURL:      envOr("STORAGE_BASE_URL", "http://localhost:8080/media"),
		},
		Cleanup: CleanupConfig{
			Interval:     durationOr("CLEANUP_INTERVAL", time.Hour),
			InitialDelay: durationOr("CLEANUP_INITIAL_DELAY", time.Minute),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
