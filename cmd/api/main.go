package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthsync/internal/api"
	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/credentials"
	"example.com/healthsync/internal/dashboard"
	"example.com/healthsync/internal/goals"
	"example.com/healthsync/internal/ingest"
	"example.com/healthsync/internal/normalize"
	"example.com/healthsync/internal/outbox"
	persistence "example.com/healthsync/internal/persistence/postgres"
	"example.com/healthsync/internal/provider"
	httptransport "example.com/healthsync/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaBatchTimeout)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	go dispatcher.Start(ctx)

	oauthSettings := credentials.OAuthSettings{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
	}

	store := credentials.NewStore(repo, credentials.NewOAuthRefresher(oauthSettings))
	authorizer := credentials.NewAuthorizer(oauthSettings, store)

	client := provider.NewClient(cfg.ProviderBaseURL, store,
		provider.WithCallTimeout(cfg.CallTimeout),
		provider.WithRateLimitMaxRetries(cfg.RateLimitMaxRetries),
	)

	runner := ingest.NewRunner(client, normalize.New(cfg.DropRatioThreshold), repo, ingest.RunnerConfig{
		Concurrency:     cfg.FetchConcurrency,
		CycleTimeout:    cfg.CycleTimeout,
		FetchWindowDays: cfg.FetchWindowDays,
	})

	goalSvc := goals.NewService(repo)
	dash := dashboard.NewService(runner, repo, goalSvc, cfg.AnalysisPeriod, cfg.FetchWindowDays)

	handler := api.NewHandler(store, authorizer, dash, goalSvc)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	// The provider redirects browsers to the callback without a bearer token;
	// health checks are unauthenticated too.
	skipper := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics" || r.URL.Path == "/v1/auth/callback"
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipper)

	// Timeout defaults account for the dashboard's inline cycle refresh.
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address: cfg.HTTPAddress,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("healthsync api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}
