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

	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/credentials"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/ingest"
	"example.com/healthsync/internal/normalize"
	"example.com/healthsync/internal/outbox"
	persistence "example.com/healthsync/internal/persistence/postgres"
	"example.com/healthsync/internal/provider"
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

	client := provider.NewClient(cfg.ProviderBaseURL, store,
		provider.WithCallTimeout(cfg.CallTimeout),
		provider.WithRateLimitMaxRetries(cfg.RateLimitMaxRetries),
	)

	runner := ingest.NewRunner(client, normalize.New(cfg.DropRatioThreshold), repo, ingest.RunnerConfig{
		Concurrency:     cfg.FetchConcurrency,
		CycleTimeout:    cfg.CycleTimeout,
		FetchWindowDays: cfg.FetchWindowDays,
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("sync worker metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	log.Printf("sync worker started (interval=%s)", cfg.SyncInterval)
	sweep(ctx, store, runner)

	for {
		select {
		case <-stop:
			log.Println("sync worker shutdown requested")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics server shutdown error: %v", err)
			}

			dispatcher.Wait()
			return
		case <-ticker.C:
			sweep(ctx, store, runner)
		}
	}
}

// sweep runs one ingestion cycle for every connected owner. Owners whose
// credentials need re-authorization are skipped until they reconnect.
func sweep(ctx context.Context, store *credentials.Store, runner *ingest.Runner) {
	owners, err := store.ListOwners(ctx)
	if err != nil {
		log.Printf("sync sweep: listing owners failed: %v", err)
		return
	}

	for _, owner := range owners {
		if ctx.Err() != nil {
			return
		}

		report, err := runner.RunCycle(ctx, owner)
		switch {
		case err == nil:
			log.Printf("sync cycle=%s owner=%s synced=%d failed=%d", report.CycleID, owner, len(report.Synced), len(report.Failed))
		case domain.IsReauthRequired(err):
			log.Printf("sync owner=%s requires re-authorization; skipping", owner)
		default:
			log.Printf("sync cycle=%s owner=%s failed: %v", report.CycleID, owner, err)
		}
	}
}
