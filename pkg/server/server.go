// Package server is the public entry point for assembling the Contex
// router. It wires the configured tier — the zero-config in-memory
// stack, or Postgres/pgvector and Redis when their URLs are set — into
// a ready http.Handler plus the background workers.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/internal/api"
	"github.com/contex-io/contex/internal/api/handlers"
	"github.com/contex-io/contex/internal/config"
	"github.com/contex-io/contex/internal/dispatch"
	"github.com/contex-io/contex/internal/embeddings"
	"github.com/contex-io/contex/internal/engine"
	"github.com/contex-io/contex/internal/eventlog"
	"github.com/contex-io/contex/internal/lexical"
	"github.com/contex-io/contex/internal/matcher"
	"github.com/contex-io/contex/internal/node"
	"github.com/contex-io/contex/internal/registry"
	"github.com/contex-io/contex/internal/retention"
	"github.com/contex-io/contex/internal/snapshot"
	"github.com/contex-io/contex/internal/telemetry"
	"github.com/contex-io/contex/internal/vectorstore"
	"github.com/contex-io/contex/pkg/contracts"
)

// Server holds the assembled router and its background workers.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Engine is the pipeline orchestrator, exposed for embedding the
	// router into a larger process.
	Engine *engine.Engine

	// Janitor is the retention sweeper; run Janitor.Start in a goroutine.
	Janitor *retention.Janitor

	// Dispatcher delivers subscriber envelopes; call Drain on shutdown.
	Dispatcher *dispatch.Dispatcher

	// Port is the configured listen port.
	Port int

	// Config is the loaded configuration.
	Config *config.Config

	// ShutdownFunc flushes telemetry and closes backends.
	ShutdownFunc func(context.Context) error
}

// New assembles a server from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig assembles a server from an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var closers []func(context.Context) error
	closers = append(closers, telemetryShutdown)

	// Redis backs pub/sub, the embedding cache, and snapshots.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
		log.Info().Msg("Redis connected")
	}

	driver, err := buildDriver(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	var cache contracts.EmbeddingCache
	if redisClient != nil {
		cache = embeddings.NewRedisCache(redisClient, cfg.Embedding.CacheTTL)
	} else {
		cache = embeddings.NewMemoryCache(cfg.Embedding.CacheTTL)
	}
	encoder := embeddings.NewCachedEncoder(driver, cache)
	log.Info().Str("driver", driver.Kind()).Int("dimensions", driver.Dimensions()).Msg("Embedding engine ready")

	// Persistent tier when DATABASE_URL is set, in-memory otherwise.
	var (
		vectors contracts.VectorIndex
		events  contracts.EventLog
	)
	if cfg.Database.URL != "" {
		pg, err := vectorstore.NewPgvectorStore(ctx, cfg.Database.URL, driver.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("init pgvector: %w", err)
		}
		closers = append(closers, func(context.Context) error { pg.Close(); return nil })

		pgLog, err := eventlog.NewPostgresLog(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("init event log: %w", err)
		}
		closers = append(closers, func(context.Context) error { pgLog.Close(); return nil })

		vectors, events = pg, pgLog
		log.Info().Msg("Postgres tier initialized")
	} else {
		vectors = vectorstore.NewEmbeddedStore()
		events = eventlog.NewMemoryLog()
		log.Info().Msg("In-memory tier initialized")
	}

	var lex contracts.LexicalIndex
	if cfg.Matching.HybridEnabled {
		lex = lexical.NewMemoryIndex()
		log.Info().Msg("Hybrid retrieval enabled")
	}

	var pubsub contracts.PubSub
	var snaps contracts.SnapshotStore
	if redisClient != nil {
		pubsub = dispatch.NewRedisPubSub(redisClient)
		snaps = snapshot.NewRedisStore(redisClient)
	} else {
		pubsub = dispatch.NewMemoryBus()
		snaps = snapshot.NewMemoryStore()
	}

	breakers := dispatch.NewBreakers(
		cfg.Webhook.BreakerFailures,
		cfg.Webhook.BreakerSuccesses,
		cfg.Webhook.BreakerTimeout,
	)
	sender := dispatch.NewWebhookSender(breakers, cfg.Version,
		dispatch.WithMaxAttempts(cfg.Webhook.MaxAttempts),
		dispatch.WithBaseDelay(cfg.Webhook.BaseDelay),
		dispatch.WithRequestTimeout(cfg.Webhook.RequestTimeout),
	)
	dispatcher := dispatch.New(sender, pubsub, cfg.Webhook.MaxInFlight)

	reg := registry.New()
	m := matcher.New(encoder, vectors, lex, matcher.Config{
		SimilarityThreshold: cfg.Matching.SimilarityThreshold,
		MaxMatches:          cfg.Matching.MaxMatches,
		Hybrid:              cfg.Matching.HybridEnabled,
		RRFK:                cfg.Matching.RRFK,
		VectorBoost:         cfg.Matching.VectorBoost,
	})
	eng := engine.New(node.NewChain(), encoder, vectors, lex, events, reg, m, dispatcher,
		engine.Config{MaxContextSize: cfg.Matching.MaxContextSize})

	janitor := retention.NewJanitor(events, reg, snaps, retention.Policy{
		EventsTTLDays:     cfg.Retention.EventsTTLDays,
		MaxStreamLength:   cfg.Retention.MaxStreamLength,
		AgentInactiveDays: cfg.Retention.AgentInactiveDays,
	}, cfg.Retention.Interval)

	h := handlers.New(eng, janitor, snaps, cfg.Version)
	router := api.NewRouter(cfg, h)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := dispatcher.Drain(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	return &Server{
		Handler:      router,
		Engine:       eng,
		Janitor:      janitor,
		Dispatcher:   dispatcher,
		Port:         cfg.Port,
		Config:       cfg,
		ShutdownFunc: shutdown,
	}, nil
}

// buildDriver registers the available embedding drivers and selects the
// configured one.
func buildDriver(cfg config.EmbeddingConfig) (contracts.EmbeddingDriver, error) {
	reg := embeddings.NewRegistry()
	reg.Register("hash", embeddings.NewHashDriver(cfg.Dimensions))

	ollamaModel := cfg.Model
	if ollamaModel == "" {
		ollamaModel = "all-minilm"
	}
	reg.Register("ollama", embeddings.NewOllamaDriver(cfg.Endpoint, ollamaModel))

	if cfg.APIKey != "" {
		openaiModel := cfg.Model
		if openaiModel == "" {
			openaiModel = "text-embedding-3-small"
		}
		reg.Register("openai", embeddings.NewOpenAIDriver(cfg.APIKey, openaiModel))
	}

	name := cfg.Driver
	if name == "" {
		name = "hash"
	}
	if name == "openai" && cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedding driver requires OPENAI_API_KEY")
	}
	driver, err := reg.Get(name)
	if err != nil {
		return nil, fmt.Errorf("select embedding driver: %w", err)
	}
	return driver, nil
}
