package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/kafka"
)

const maxLatencySamples = 10000

type Stats struct {
	TotalRecoveries  int64            `json:"total_recoveries"`
	Found            int64            `json:"found"`
	Exhausted        int64            `json:"exhausted"`
	Errors           int64            `json:"errors"`
	CacheHits        int64            `json:"cache_hits"`
	CandidatesTried  uint64           `json:"candidates_tried"`
	ByAlgorithm      map[string]int64 `json:"by_algorithm"`
	BySource         map[Source]int64 `json:"by_source"`
	AvgLatencyMs     float64          `json:"avg_latency_ms"`
	P50LatencyMs     int64            `json:"p50_latency_ms"`
	P95LatencyMs     int64            `json:"p95_latency_ms"`
	P99LatencyMs     int64            `json:"p99_latency_ms"`
	RecoveriesPerMin float64          `json:"recoveries_per_minute"`
}

// Aggregator folds RecoveryEvents into running statistics. Latency
// percentiles are computed over the most recent samples only.
type Aggregator struct {
	mu        sync.Mutex
	stats     Stats
	latencies []int64
	next      int
	startTime time.Time
	logger    *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		stats: Stats{
			ByAlgorithm: make(map[string]int64),
			BySource:    make(map[Source]int64),
		},
		latencies: make([]int64, 0, 1024),
		startTime: time.Now(),
		logger:    slog.Default().With("component", "event-aggregator"),
	}
}

func (a *Aggregator) Record(ev RecoveryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TotalRecoveries++
	switch ev.State {
	case "found":
		a.stats.Found++
	case "exhausted":
		a.stats.Exhausted++
	default:
		a.stats.Errors++
	}
	if ev.CacheHit {
		a.stats.CacheHits++
	}
	a.stats.CandidatesTried += ev.Tried
	a.stats.ByAlgorithm[ev.Algorithm]++
	a.stats.BySource[ev.Source]++

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, ev.LatencyMs)
	} else {
		a.latencies[a.next] = ev.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

// HandleMessage decodes a RecoveryEvent from Kafka and records it. Malformed
// messages are logged and skipped so they do not block the partition.
func (a *Aggregator) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ev, err := kafka.DecodeJSON[RecoveryEvent](msg.Value)
	if err != nil {
		a.logger.Error("failed to decode recovery event", "key", string(msg.Key), "error", err)
		return nil
	}
	a.Record(ev)
	return nil
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	out := a.stats
	out.ByAlgorithm = make(map[string]int64, len(a.stats.ByAlgorithm))
	for k, v := range a.stats.ByAlgorithm {
		out.ByAlgorithm[k] = v
	}
	out.BySource = make(map[Source]int64, len(a.stats.BySource))
	for k, v := range a.stats.BySource {
		out.BySource[k] = v
	}
	sorted := append([]int64(nil), a.latencies...)
	a.mu.Unlock()

	if len(sorted) > 0 {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		out.AvgLatencyMs = float64(sum) / float64(len(sorted))
		out.P50LatencyMs = percentile(sorted, 50)
		out.P95LatencyMs = percentile(sorted, 95)
		out.P99LatencyMs = percentile(sorted, 99)
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		out.RecoveriesPerMin = float64(out.TotalRecoveries) / elapsed
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
