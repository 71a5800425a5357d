// Command server starts the keyspace recovery service.
//
// It serves the HTTP API (synchronous recoveries, job submission and status,
// cache administration, event statistics), the JSON-over-TCP RPC endpoint
// used by `keyspace -remote`, and the Prometheus metrics endpoint.
//
// Redis, PostgreSQL and Kafka are optional: without Redis outcomes are not
// cached, without PostgreSQL or Kafka the job routes answer 503.
//
// Usage:
//
//	go run ./cmd/server [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/api"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/api/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/proto"
	pkgredis "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/tracing"
)

var connectRetry = resilience.RetryConfig{
	MaxAttempts:    5,
	InitialDelay:   500 * time.Millisecond,
	MaxDelay:       5 * time.Second,
	Multiplier:     2,
	JitterFraction: 0.2,
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.SetEnabled(cfg.Tracing.Enabled)
	slog.Info("starting keyspace server",
		"port", cfg.Server.Port,
		"rpc_addr", cfg.RPC.Addr,
		"alphabet_size", len([]rune(cfg.Recovery.Alphabet)),
		"max_key_length", cfg.Recovery.MaxKeyLength,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	checker := health.NewChecker(3 * time.Second)

	// Redis: result cache, optional.
	var cache *resultcache.Cache[recovery.Outcome]
	var cacheAdmin api.CacheAdmin
	var rdb *pkgredis.Client
	err = resilience.Retry(ctx, "redis-connect", connectRetry, func(ctx context.Context) error {
		var err error
		rdb, err = pkgredis.NewClient(ctx, cfg.Redis)
		return err
	})
	if err != nil {
		slog.Warn("redis unavailable, result cache disabled", "addr", cfg.Redis.Addr, "error", err)
	} else {
		defer rdb.Close()
		cache = resultcache.New[recovery.Outcome](rdb, cfg.Redis.CacheTTL, m)
		cacheAdmin = cache
		checker.Register("redis", health.PingCheck(rdb, health.StatusDegraded))
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// Kafka: recovery events out, aggregated statistics back in.
	var (
		collector  *events.Collector
		aggregator *events.Aggregator
		jobsTopic  *kafka.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		results := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RecoveryResults)
		defer results.Close()
		collector = events.NewCollector(results, 10000, 100, 2*time.Second)
		collector.Start(ctx)
		defer collector.Close()

		aggregator = events.NewAggregator()
		statsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecoveryResults,
			cfg.Kafka.ConsumerGroup+"-stats", aggregator.HandleMessage)
		go func() {
			if err := statsConsumer.Start(ctx); err != nil {
				slog.Error("stats consumer stopped", "error", err)
			}
		}()

		jobsTopic = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RecoveryJobs)
		defer jobsTopic.Close()
	} else {
		slog.Warn("no kafka brokers configured, jobs and event statistics disabled")
	}

	opts := []recovery.Option{recovery.WithCache(cache), recovery.WithMetrics(m)}
	if collector != nil {
		opts = append(opts, recovery.WithEvents(collector))
	}
	svc, err := recovery.NewService(cfg.Recovery, opts...)
	if err != nil {
		slog.Error("invalid recovery configuration", "error", err)
		os.Exit(1)
	}

	// PostgreSQL: job store, optional.
	deps := api.Deps{Recovery: svc, Cache: cacheAdmin, Aggregator: aggregator}
	var db *postgres.Client
	err = resilience.Retry(ctx, "postgres-connect", connectRetry, func(ctx context.Context) error {
		var err error
		db, err = postgres.New(ctx, cfg.Postgres)
		return err
	})
	if err != nil {
		slog.Warn("postgres unavailable, job routes disabled", "host", cfg.Postgres.Host, "error", err)
	} else {
		defer db.Close()
		store := jobs.NewPGStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare job schema", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.PingCheck(db, health.StatusDown))
		deps.Jobs = store
		if jobsTopic != nil {
			deps.Submitter = jobs.NewSubmitter(store, jobsTopic, svc, m)
		}
		slog.Info("connected to postgres")
	}

	// RPC endpoint for the CLI.
	var rpc *grpc.Server
	if cfg.RPC.Enabled {
		rpc = newRPCServer(svc, checker)
		if _, err := rpc.Listen(cfg.RPC.Addr); err != nil {
			slog.Error("failed to start rpc server", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := rpc.Serve(ctx); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, nil)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		go limiter.Run(ctx)
	}

	// Synchronous recoveries may run up to the recovery timeout; the
	// request timeout leaves room to write the response.
	requestTimeout := cfg.Recovery.Timeout
	if requestTimeout > 0 {
		requestTimeout += 5 * time.Second
	}
	handler := api.NewRouter(api.NewHandler(deps), api.RouterConfig{
		Limiter: limiter,
		Metrics: m,
		Health:  checker,
		Timeout: requestTimeout,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Responses of synchronous recoveries are bounded by the timeout
		// middleware instead.
		WriteTimeout: max(cfg.Server.WriteTimeout, requestTimeout),
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			shutdownMetrics(shutdownCtx)
		}
	}()

	slog.Info("keyspace server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	if rpc != nil {
		rpc.Stop()
	}

	slog.Info("keyspace server stopped")
}

// newRPCServer exposes the recovery service over the JSON-over-TCP RPC layer.
func newRPCServer(svc *recovery.Service, checker *health.Checker) *grpc.Server {
	s := grpc.NewServer()
	s.Register(proto.MethodRecover, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.RecoverRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: decoding recover request: %v", apperrors.ErrInvalidArguments, err)
		}
		out, err := svc.Recover(ctx, recovery.FromProto(&req))
		if err != nil {
			return nil, err
		}
		return out.Proto(), nil
	})
	s.Register(proto.MethodAlgorithms, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return &proto.AlgorithmsResponse{Algorithms: svc.Algorithms()}, nil
	})
	s.Register(proto.MethodHealth, func(ctx context.Context, _ json.RawMessage) (any, error) {
		status := "SERVING"
		if checker.Run(ctx).Status == health.StatusDown {
			status = "NOT_SERVING"
		}
		return &proto.HealthCheckResponse{Status: status}, nil
	})
	return s
}
