package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Contex router.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Webhook   WebhookConfig
	Retention RetentionConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

type DatabaseConfig struct {
	// URL selects the persistent tier. Empty runs the in-memory tier.
	URL            string
	MaxConnections int
}

type RedisConfig struct {
	// URL enables Redis pub/sub, the embedding cache, and snapshots.
	// Empty falls back to the in-process equivalents.
	URL string
}

type EmbeddingConfig struct {
	// Driver is "hash" (zero-config), "ollama", or "openai".
	Driver     string
	Endpoint   string // ollama endpoint
	Model      string
	APIKey     string // openai key
	Dimensions int
	CacheTTL   time.Duration
}

type MatchingConfig struct {
	SimilarityThreshold float64
	MaxMatches          int
	MaxContextSize      int
	HybridEnabled       bool
	RRFK                int
	VectorBoost         float64
}

type WebhookConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	RequestTimeout   time.Duration
	MaxInFlight      int
	BreakerFailures  int
	BreakerSuccesses int
	BreakerTimeout   time.Duration
}

type RetentionConfig struct {
	EventsTTLDays     int
	MaxStreamLength   int
	AgentInactiveDays int
	Interval          time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	// APIKeys lists accepted keys; empty disables authentication.
	APIKeys      []string
	APIKeyHeader string
}

// Load reads configuration from environment variables with sensible
// defaults. Every value can run unset: the result is the zero-config
// in-memory tier with hash embeddings.
func Load() *Config {
	return &Config{
		Port:    envInt("CONTEX_PORT", 8080),
		Version: envStr("CONTEX_VERSION", "0.4.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Redis: RedisConfig{
			URL: envStr("REDIS_URL", ""),
		},
		Embedding: EmbeddingConfig{
			Driver:     envStr("EMBEDDING_DRIVER", "hash"),
			Endpoint:   envStr("EMBEDDING_ENDPOINT", "http://localhost:11434"),
			Model:      envStr("EMBEDDING_MODEL", ""),
			APIKey:     envStr("OPENAI_API_KEY", ""),
			Dimensions: envInt("EMBEDDING_DIMENSIONS", 384),
			CacheTTL:   envDur("EMBEDDING_CACHE_TTL", time.Hour),
		},
		Matching: MatchingConfig{
			SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.5),
			MaxMatches:          envInt("MAX_MATCHES", 5),
			MaxContextSize:      envInt("MAX_CONTEXT_SIZE", 0),
			HybridEnabled:       envBool("HYBRID_SEARCH_ENABLED", false),
			RRFK:                envInt("RRF_K", 60),
			VectorBoost:         envFloat("VECTOR_BOOST", 1.0),
		},
		Webhook: WebhookConfig{
			MaxAttempts:      envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			BaseDelay:        envDur("WEBHOOK_BASE_DELAY", time.Second),
			RequestTimeout:   envDur("WEBHOOK_REQUEST_TIMEOUT", 10*time.Second),
			MaxInFlight:      envInt("WEBHOOK_MAX_IN_FLIGHT", 256),
			BreakerFailures:  envInt("WEBHOOK_BREAKER_FAILURES", 5),
			BreakerSuccesses: envInt("WEBHOOK_BREAKER_SUCCESSES", 2),
			BreakerTimeout:   envDur("WEBHOOK_BREAKER_TIMEOUT", time.Minute),
		},
		Retention: RetentionConfig{
			EventsTTLDays:     envInt("RETENTION_EVENTS_TTL_DAYS", 30),
			MaxStreamLength:   envInt("RETENTION_MAX_STREAM_LENGTH", 10000),
			AgentInactiveDays: envInt("RETENTION_AGENT_INACTIVE_DAYS", 7),
			Interval:          envDur("RETENTION_INTERVAL", time.Hour),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "contex-router"),
		},
		Auth: AuthConfig{
			APIKeys:      envList("CONTEX_API_KEYS"),
			APIKeyHeader: envStr("AUTH_API_KEY_HEADER", "Authorization"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
