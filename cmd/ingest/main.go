package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skeetgame-ingest/internal/bsky"
	"github.com/skeetgame-ingest/internal/bus"
	"github.com/skeetgame-ingest/internal/command"
	"github.com/skeetgame-ingest/internal/config"
	"github.com/skeetgame-ingest/internal/flags"
	"github.com/skeetgame-ingest/internal/handler"
	"github.com/skeetgame-ingest/internal/ingest"
	"github.com/skeetgame-ingest/internal/kafka"
	"github.com/skeetgame-ingest/internal/postgres"
	"github.com/skeetgame-ingest/internal/ratelimit"
	"github.com/skeetgame-ingest/internal/redis"
	"github.com/skeetgame-ingest/internal/repo"
	"github.com/skeetgame-ingest/internal/tracker"
	"github.com/skeetgame-ingest/internal/websocket"
	"github.com/skeetgame-ingest/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	store, err := postgres.NewStore(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := store.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize the Redis activity leaderboard
	var leaderboard *redis.Leaderboard
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	leaderboard, err = redis.NewLeaderboard(cfg.Redis, logger)
	if err != nil {
		logger.Warn("failed to connect to Redis, continuing without leaderboard", "error", err)
		leaderboard = nil
	} else {
		defer leaderboard.Close()
		logger.Info("connected to Redis")
	}

	// Directory and repository
	directory := bsky.NewDirectory(cfg.Bsky.PublicAPI, logger)
	repository := repo.New(store, directory, logger)
	if err := repository.Init(ctx); err != nil {
		logger.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}

	// Activity tracking and rate limiting
	activity := tracker.New(cfg.Ingest.ActivityTTL)
	limiter := ratelimit.New(repository, cfg.RateLimit.MaxCommands, cfg.RateLimit.Window, cfg.RateLimit.AbuseThreshold, logger)

	// Command dispatch
	poster := bsky.NewPoster(cfg.Bsky.BotService, cfg.Bsky.BotIdentifier, cfg.Bsky.BotPassword, logger)
	registry := command.NewRegistry(repository, directory, poster, limiter, logger)
	registry.Register("gift", command.GiftHandler{})
	registry.Register("wave", command.WaveHandler{})
	parser := command.NewParser(cfg.Ingest.CommandSigil, cfg.Ingest.TriggerSigil, registry.Names())

	// Event bus
	eventBus := bus.New(256, logger)
	go eventBus.Run()

	if err := eventBus.Subscribe(bus.CommandIssued, func(ev bus.Event) {
		registry.Dispatch(ctx, ev.DID, ev.Text, ev.Source, parser)
	}); err != nil {
		logger.Error("failed to subscribe dispatcher", "error", err)
		os.Exit(1)
	}

	// Observer hub fan-out
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("observer hub initialized")

	// Kafka republisher
	var publisher *kafka.Publisher
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka publisher", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		publisher, err = kafka.NewPublisher(cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, continuing without Kafka", "error", err)
			publisher = nil
		}
	}

	for _, kind := range []bus.Kind{bus.PlayerActive, bus.PlayerInactive, bus.PlayerSetStatus, bus.CommandIssued} {
		kind := kind
		if err := eventBus.Subscribe(kind, func(ev bus.Event) {
			wsHub.BroadcastEvent(ev)
			if publisher != nil {
				publisher.Publish(ev)
			}
		}); err != nil {
			logger.Error("failed to subscribe fan-out", "kind", kind, "error", err)
			os.Exit(1)
		}
	}

	// Summarization worker
	var sink worker.Sink
	if leaderboard != nil {
		sink = leaderboard
	}
	summarizer := worker.NewSummarizer(repository, sink, cfg.Summary, logger)
	summarizer.Start()

	// Connect the event feed; a dead feed at startup is fatal
	feed := bsky.NewFirehose(&cfg.Jetstream, logger)
	if err := feed.Connect(ctx); err != nil {
		logger.Error("failed to connect to event feed", "error", err)
		os.Exit(1)
	}
	logger.Info("event feed connected", "endpoint", cfg.Jetstream.Endpoint)

	flagRegistry := flags.NewRegistry(logger)
	flagRegistry.Register(flags.Pronouns{})

	engine := ingest.New(feed, repository, activity, eventBus, flagRegistry, cfg.Ingest, cfg.Bsky.TriggerHandle, logger)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ingestion stopped", "error", err)
		}
	}()

	// Admin HTTP server
	httpHandler := handler.NewHandler(repository, activity, leaderboard, wsHub, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop ingestion first so nothing appends to the buffer anymore, and
	// wait for the engine to finish its in-flight events and status flips
	cancel()
	<-engineDone

	summarizer.Stop()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}

	wsHub.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	// Final flush of buffered event records, after ingestion has stopped
	if err := repository.FlushEvents(shutdownCtx); err != nil {
		logger.Error("final event flush failed", "error", err)
	}

	eventBus.Stop()
	logger.Info("shutdown complete")
}
