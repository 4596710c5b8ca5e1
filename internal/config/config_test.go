package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Embedding.Driver != "hash" {
		t.Errorf("Embedding.Driver = %q, want hash", cfg.Embedding.Driver)
	}
	if cfg.Matching.SimilarityThreshold != 0.5 {
		t.Errorf("SimilarityThreshold = %v, want 0.5", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Matching.HybridEnabled {
		t.Error("HybridEnabled defaults to true, want false")
	}
	if cfg.Webhook.MaxAttempts != 3 {
		t.Errorf("Webhook.MaxAttempts = %d, want 3", cfg.Webhook.MaxAttempts)
	}
	if len(cfg.Auth.APIKeys) != 0 {
		t.Errorf("Auth.APIKeys = %v, want empty", cfg.Auth.APIKeys)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONTEX_PORT", "9090")
	t.Setenv("SIMILARITY_THRESHOLD", "0.35")
	t.Setenv("HYBRID_SEARCH_ENABLED", "true")
	t.Setenv("EMBEDDING_CACHE_TTL", "15m")
	t.Setenv("CONTEX_API_KEYS", "alpha, beta,")
	t.Setenv("RETENTION_MAX_STREAM_LENGTH", "500")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Matching.SimilarityThreshold != 0.35 {
		t.Errorf("SimilarityThreshold = %v, want 0.35", cfg.Matching.SimilarityThreshold)
	}
	if !cfg.Matching.HybridEnabled {
		t.Error("HybridEnabled = false, want true")
	}
	if cfg.Embedding.CacheTTL != 15*time.Minute {
		t.Errorf("CacheTTL = %v, want 15m", cfg.Embedding.CacheTTL)
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[0] != "alpha" || cfg.Auth.APIKeys[1] != "beta" {
		t.Errorf("APIKeys = %v, want [alpha beta]", cfg.Auth.APIKeys)
	}
	if cfg.Retention.MaxStreamLength != 500 {
		t.Errorf("Retention.MaxStreamLength = %d, want 500", cfg.Retention.MaxStreamLength)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("CONTEX_PORT", "not-a-number")
	t.Setenv("SIMILARITY_THRESHOLD", "high")
	t.Setenv("HYBRID_SEARCH_ENABLED", "maybe")

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want fallback 8080", cfg.Port)
	}
	if cfg.Matching.SimilarityThreshold != 0.5 {
		t.Errorf("SimilarityThreshold = %v, want fallback 0.5", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Matching.HybridEnabled {
		t.Error("HybridEnabled = true, want fallback false")
	}
}
