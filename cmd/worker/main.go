// Command worker runs queued recovery jobs.
//
// It consumes JobEvents from the recovery jobs topic, claims each job in
// PostgreSQL, runs the search and stores the outcome. Outcomes go through
// the same Redis result cache as the server, and every finished recovery is
// published to the results topic.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	metricsPort := flag.Int("metrics-port", 0, "override metrics.port (the server usually holds the configured one)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *metricsPort != 0 {
		cfg.Metrics.Port = *metricsPort
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.SetEnabled(cfg.Tracing.Enabled)
	slog.Info("starting recovery worker",
		"topic", cfg.Kafka.Topics.RecoveryJobs,
		"group", cfg.Kafka.ConsumerGroup,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retry := resilience.RetryConfig{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 10 * time.Second, JitterFraction: 0.2}

	var db *postgres.Client
	err = resilience.Retry(ctx, "postgres-connect", retry, func(ctx context.Context) error {
		var err error
		db, err = postgres.New(ctx, cfg.Postgres)
		return err
	})
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := jobs.NewPGStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare job schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	m := metrics.New(nil)

	var cache *resultcache.Cache[recovery.Outcome]
	rdb, err := pkgredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result cache disabled", "addr", cfg.Redis.Addr, "error", err)
	} else {
		defer rdb.Close()
		cache = resultcache.New[recovery.Outcome](rdb, cfg.Redis.CacheTTL, m)
	}

	results := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RecoveryResults)
	defer results.Close()
	collector := events.NewCollector(results, 1000, 50, 2*time.Second)
	collector.Start(ctx)
	defer collector.Close()

	svc, err := recovery.NewService(cfg.Recovery,
		recovery.WithCache(cache),
		recovery.WithMetrics(m),
		recovery.WithEvents(collector),
	)
	if err != nil {
		slog.Error("invalid recovery configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	worker := jobs.NewWorker(store, svc, m)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecoveryJobs, "", worker.HandleMessage)

	slog.Info("recovery worker ready, consuming from kafka")
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("recovery worker stopped")
}
