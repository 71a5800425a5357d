// Package recovery runs brute-force recoveries on behalf of the CLI, the
// HTTP API, the RPC server and the job worker. It applies configured
// defaults, consults the result cache, fans the search out over shards and
// records metrics, spans and events for every attempt.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/oracle"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/search"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/tracing"
)

// EventSink receives one event per finished recovery.
type EventSink interface {
	Track(ev events.RecoveryEvent)
}

type Service struct {
	defaults config.RecoveryConfig
	cache    *resultcache.Cache[Outcome]
	metrics  *metrics.Metrics
	events   EventSink
	logger   *slog.Logger
}

type Option func(*Service)

func WithCache(c *resultcache.Cache[Outcome]) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// NewService validates the defaults used for fields a Request leaves empty.
func NewService(defaults config.RecoveryConfig, opts ...Option) (*Service, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		defaults: defaults,
		logger:   slog.Default().With("component", "recovery"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Algorithms lists the supported hash algorithms.
func (s *Service) Algorithms() []string {
	return oracle.List()
}

// Recover searches for the secret behind req.Hash. Exhausted is a normal
// outcome, not an error. Errors wrap ErrInvalidArguments, ErrOracleFailure,
// ErrTimeout or the context error.
func (s *Service) Recover(ctx context.Context, req Request) (*Outcome, error) {
	began := time.Now()
	log := logger.FromContext(ctx).With("component", "recovery")

	p, err := s.plan(req)
	if err != nil {
		s.record(ctx, req, nil, nil, err, began)
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "recovery.recover", logger.RequestID(ctx))
	span.SetAttr("algorithm", p.alg)
	span.SetAttr("index_bound", p.cfg.Bound())
	span.SetAttr("shards", p.shards)
	defer span.End()

	log.Info("recovery started",
		"algorithm", p.alg,
		"alphabet_size", p.cfg.Alphabet.Len(),
		"max_key_length", p.cfg.MaxKeyLength,
		"index_bound", p.cfg.Bound(),
		"start", p.start,
		"shards", p.shards,
		"strict_order", p.strict,
	)

	var (
		out Outcome
		hit bool
	)
	if p.useCache {
		out, hit, err = s.cache.GetOrCompute(ctx, p.cacheKey(), func(ctx context.Context) (Outcome, error) {
			return s.search(ctx, p)
		}, nil)
	} else {
		out, err = s.search(ctx, p)
	}
	if err != nil {
		span.SetError(err)
		s.record(ctx, req, p, nil, err, began)
		log.Warn("recovery failed", "algorithm", p.alg, "error", err)
		return nil, err
	}
	out.Cached = hit
	if hit {
		out.DurationMs = time.Since(began).Milliseconds()
	}
	span.SetAttr("state", out.State.String())
	span.SetAttr("tried", out.Tried)
	s.record(ctx, req, p, &out, nil, began)

	log.Info("recovery finished",
		"algorithm", out.Algorithm,
		"state", out.State.String(),
		"index", out.Index,
		"tried", out.Tried,
		"cached", hit,
		"duration_ms", out.DurationMs,
	)
	return &out, nil
}

func (s *Service) search(ctx context.Context, p *plan) (Outcome, error) {
	began := time.Now()
	driver, err := search.NewDriver(p.cfg, p.matcher)
	if err != nil {
		return Outcome{}, err
	}
	ctx, span := tracing.Start(ctx, "search.parallel", "")
	defer span.End()

	if s.metrics != nil {
		s.metrics.ActiveShards.Add(float64(p.shards))
		defer s.metrics.ActiveShards.Sub(float64(p.shards))
	}

	log := logger.FromContext(ctx)
	var res *search.Outcome
	err = resilience.WithTimeout(ctx, s.defaults.Timeout, "recovery search", func(ctx context.Context) error {
		var err error
		res, err = driver.Parallel(ctx, search.Options{
			Shards:      p.shards,
			Start:       p.start,
			StrictOrder: p.strict,
			OnShardDone: func(sr search.ShardResult) {
				log.Debug("shard finished",
					"shard", sr.Shard,
					"start", sr.Range.Start,
					"end", sr.Range.End,
					"state", sr.State.String(),
					"tried", sr.Tried,
					"cancelled", sr.Cancelled,
				)
			},
		})
		return err
	})
	if err != nil {
		span.SetError(err)
		return Outcome{}, err
	}
	span.SetAttr("tried", res.Tried)
	return Outcome{
		State:      res.State,
		Secret:     res.Candidate,
		Index:      res.Index,
		Tried:      res.Tried,
		Algorithm:  p.alg,
		Salt:       p.salt,
		Shards:     len(res.Shards),
		IndexBound: p.cfg.Bound(),
		DurationMs: time.Since(began).Milliseconds(),
	}, nil
}

func (s *Service) record(ctx context.Context, req Request, p *plan, out *Outcome, err error, began time.Time) {
	alg := req.Algorithm
	if p != nil {
		alg = p.alg
	}
	if alg == "" {
		alg = "unknown"
	}
	state := events.StateError
	if out != nil {
		state = out.State.String()
	}
	elapsed := time.Since(began)

	if s.metrics != nil {
		s.metrics.RecoveriesTotal.WithLabelValues(alg, state).Inc()
		s.metrics.RecoveryDuration.WithLabelValues(alg).Observe(elapsed.Seconds())
		if out != nil && !out.Cached {
			s.metrics.CandidatesTried.WithLabelValues(alg).Add(float64(out.Tried))
		}
	}
	if s.events == nil {
		return
	}
	source := req.Source
	if source == "" {
		source = events.SourceSync
	}
	ev := events.RecoveryEvent{
		Source:    source,
		RequestID: logger.RequestID(ctx),
		JobID:     logger.JobID(ctx),
		Algorithm: alg,
		State:     state,
		LatencyMs: elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if out != nil {
		ev.Index = out.Index
		ev.Tried = out.Tried
		ev.Shards = out.Shards
		ev.CacheHit = out.Cached
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.events.Track(ev)
}

// Validate checks req against the service limits without searching.
func (s *Service) Validate(req Request) error {
	_, err := s.plan(req)
	return err
}
