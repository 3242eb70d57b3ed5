package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devmiguelgomez/wow-backend/internal/config"
	"github.com/devmiguelgomez/wow-backend/internal/conversation"
	"github.com/devmiguelgomez/wow-backend/internal/events"
	"github.com/devmiguelgomez/wow-backend/internal/gemini"
	"github.com/devmiguelgomez/wow-backend/internal/httpapi"
	"github.com/devmiguelgomez/wow-backend/internal/identity"
	"github.com/devmiguelgomez/wow-backend/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("postgres ping failed: %v", err)
		}
		defer pool.Close()
		log.Printf("store: postgres")
	} else {
		log.Printf("store: in-memory (DATABASE_URL not set)")
	}

	identityStore, err := identity.NewStore(ctx, pool)
	if err != nil {
		log.Fatalf("identity store init failed: %v", err)
	}
	defer identityStore.Close()

	convStore, err := conversation.NewStore(ctx, pool)
	if err != nil {
		log.Fatalf("conversation store init failed: %v", err)
	}
	defer convStore.Close()

	// A missing key must stop the process here, not fail every request later.
	gateway, err := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, gemini.GenerationConfig{
		Temperature:     cfg.GenTemperature,
		TopK:            cfg.GenTopK,
		TopP:            cfg.GenTopP,
		MaxOutputTokens: cfg.GenMaxOutputTokens,
	})
	if err != nil {
		log.Fatalf("gemini client init failed: %v", err)
	}
	log.Printf("gemini client ready, model %s", gateway.Model())

	var pub *events.Publisher
	if cfg.NatsURL != "" {
		pub, err = events.NewPublisher(cfg.NatsURL, cfg.NatsToken)
		if err != nil {
			log.Fatalf("nats connect failed: %v", err)
		}
		defer pub.Close()
		log.Printf("events: nats connected at %s", cfg.NatsURL)
	} else {
		log.Printf("events: disabled (NATS_URL not set)")
	}

	provider := identity.NewProvider(identityStore, cfg.TokenTTL)
	manager := conversation.NewManager(convStore, gateway, pub, metrics, cfg.DefaultFaction)

	api := httpapi.New(cfg, provider, manager, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
