package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/keyspace"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/search"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/redis"
)

func defaults() config.RecoveryConfig {
	return config.RecoveryConfig{
		Alphabet:     keyspace.Lower,
		MaxKeyLength: 3,
		Shards:       4,
		Timeout:      time.Minute,
	}
}

func saltedSHA256(salt, secret string) string {
	sum := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(sum[:])
}

func intp(n int) *int { return &n }

type sink struct {
	mu     sync.Mutex
	events []events.RecoveryEvent
}

func (s *sink) Track(ev events.RecoveryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func newService(t *testing.T, cfg config.RecoveryConfig, opts ...Option) *Service {
	t.Helper()
	s, err := NewService(cfg, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestRecoverDES(t *testing.T) {
	s := newService(t, defaults())
	out, err := s.Recover(context.Background(), Request{
		Hash:         "50.jPgLzVirkc",
		MaxKeyLength: intp(2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != search.Found || out.Secret != "hi" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Algorithm != "des" || out.Salt != "50" {
		t.Errorf("algorithm/salt = %s/%s", out.Algorithm, out.Salt)
	}
	want, _ := keyspace.Encode("hi", keyspace.MustAlphabet(keyspace.Lower))
	if out.Index != want {
		t.Errorf("index = %d, want %d", out.Index, want)
	}
}

func TestRecoverSaltedSHA(t *testing.T) {
	s := newService(t, defaults())
	out, err := s.Recover(context.Background(), Request{
		Hash:      saltedSHA256("pepper", "cab"),
		Algorithm: "sha256",
		Salt:      "pepper",
		Alphabet:  "abc",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != search.Found || out.Secret != "cab" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.IndexBound != keyspace.Bound(3, 3) {
		t.Errorf("index bound = %d", out.IndexBound)
	}
}

func TestRecoverExhausted(t *testing.T) {
	s := newService(t, defaults())
	out, err := s.Recover(context.Background(), Request{
		Hash:         saltedSHA256("", "zzzz"),
		Alphabet:     "abc",
		MaxKeyLength: intp(2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != search.Exhausted || out.Secret != "" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Tried != 12 {
		t.Errorf("tried = %d, want 12", out.Tried)
	}
}

func TestRecoverResumeFromCandidate(t *testing.T) {
	s := newService(t, defaults())
	hash := saltedSHA256("", "a")
	out, err := s.Recover(context.Background(), Request{Hash: hash, Alphabet: "abc", StartCandidate: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != search.Exhausted {
		t.Fatalf("searching after the secret should exhaust, got %+v", out)
	}
	out, err = s.Recover(context.Background(), Request{Hash: saltedSHA256("", "ba"), Alphabet: "abc", StartCandidate: "b"})
	if err != nil || out.Secret != "ba" {
		t.Fatalf("outcome = %+v, err = %v", out, err)
	}
}

func TestRecoverInvalidRequests(t *testing.T) {
	limited := defaults()
	limited.MaxIndexBound = 100
	capped := defaults()
	capped.MaxShards = 8
	capped.MaxKeyLengthLimit = 5
	tests := []struct {
		name string
		cfg  config.RecoveryConfig
		req  Request
	}{
		{"empty hash", defaults(), Request{Hash: "  "}},
		{"duplicate alphabet", defaults(), Request{Hash: saltedSHA256("", "a"), Alphabet: "aa"}},
		{"negative length", defaults(), Request{Hash: saltedSHA256("", "a"), MaxKeyLength: intp(-1)}},
		{"negative shards", defaults(), Request{Hash: saltedSHA256("", "a"), Shards: -2}},
		{"unknown algorithm", defaults(), Request{Hash: "abc", Algorithm: "md4"}},
		{"undetectable", defaults(), Request{Hash: "not-a-hash"}},
		{"bound over limit", limited, Request{Hash: saltedSHA256("", "a")}},
		{"shards over limit", capped, Request{Hash: saltedSHA256("", "a"), Shards: 9}},
		{"key length over limit", capped, Request{Hash: saltedSHA256("", "a"), MaxKeyLength: intp(6)}},
		{"both starts", defaults(), Request{Hash: saltedSHA256("", "a"), Start: 3, StartCandidate: "b"}},
		{"start outside alphabet", defaults(), Request{Hash: saltedSHA256("", "a"), StartCandidate: "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(t, tt.cfg)
			_, err := s.Recover(context.Background(), tt.req)
			if !errors.Is(err, apperrors.ErrInvalidArguments) {
				t.Fatalf("err = %v, want ErrInvalidArguments", err)
			}
			if apperrors.ExitCode(err) != apperrors.ExitUsage {
				t.Errorf("exit code = %d", apperrors.ExitCode(err))
			}
		})
	}
}

func TestShardLimitAppliesToEveryRequest(t *testing.T) {
	s := newService(t, config.Default().Recovery)
	err := s.Validate(Request{Hash: saltedSHA256("", "a"), Shards: 50_000_000})
	if !errors.Is(err, apperrors.ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
	if err := s.Validate(Request{Hash: saltedSHA256("", "a"), Shards: 1024}); err != nil {
		t.Errorf("shards at the limit rejected: %v", err)
	}
}

func TestConfiguredShardsAreClamped(t *testing.T) {
	cfg := defaults()
	cfg.Shards = 64
	cfg.MaxShards = 4
	s := newService(t, cfg)
	out, err := s.Recover(context.Background(), Request{Hash: saltedSHA256("", "zzz"), NoCache: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Shards > 4 {
		t.Errorf("shards = %d, want at most 4", out.Shards)
	}
}

func TestRecoverMaxKeyLengthZero(t *testing.T) {
	s := newService(t, defaults())
	out, err := s.Recover(context.Background(), Request{Hash: saltedSHA256("", "a"), MaxKeyLength: intp(0)})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != search.Exhausted || out.Tried != 0 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRecoverMalformedDESSaltIsOracleFailure(t *testing.T) {
	s := newService(t, defaults())
	_, err := s.Recover(context.Background(), Request{Hash: "50.jPgLzVirkc", Salt: "!!"})
	if !errors.Is(err, apperrors.ErrOracleFailure) {
		t.Fatalf("err = %v, want ErrOracleFailure", err)
	}
	if apperrors.ExitCode(err) != apperrors.ExitOracle {
		t.Errorf("exit code = %d", apperrors.ExitCode(err))
	}
}

func TestRecoverTimeout(t *testing.T) {
	cfg := defaults()
	cfg.Alphabet = keyspace.Alphanumeric
	cfg.MaxKeyLength = 8
	cfg.Timeout = 20 * time.Millisecond
	s := newService(t, cfg)
	_, err := s.Recover(context.Background(), Request{Hash: saltedSHA256("", "~")})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if apperrors.ExitCode(err) != apperrors.ExitAborted {
		t.Errorf("exit code = %d", apperrors.ExitCode(err))
	}
}

func TestRecoverCancelled(t *testing.T) {
	cfg := defaults()
	cfg.Alphabet = keyspace.Alphanumeric
	cfg.MaxKeyLength = 8
	s := newService(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Recover(ctx, Request{Hash: saltedSHA256("", "~")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, pkgredis.Nil
}

func (m *memStore) Set(_ context.Context, key string, v []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	return nil
}

func (m *memStore) FlushByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = map[string][]byte{}
	return n, nil
}

func TestRecoverUsesCacheMetricsAndEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cache := resultcache.New[Outcome](&memStore{data: map[string][]byte{}}, time.Hour, m)
	evs := &sink{}
	s := newService(t, defaults(), WithCache(cache), WithMetrics(m), WithEvents(evs))

	req := Request{Hash: saltedSHA256("", "ab"), Alphabet: "abc"}
	first, err := s.Recover(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Recover(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached || !second.Cached {
		t.Errorf("cached flags = %v, %v", first.Cached, second.Cached)
	}
	if second.Secret != "ab" || second.Index != first.Index {
		t.Errorf("cached outcome = %+v", second)
	}

	noCache := req
	noCache.NoCache = true
	third, err := s.Recover(context.Background(), noCache)
	if err != nil || third.Cached {
		t.Fatalf("no_cache outcome = %+v, err = %v", third, err)
	}

	if got := testutil.ToFloat64(m.RecoveriesTotal.WithLabelValues("sha256", "found")); got != 3 {
		t.Errorf("recoveries_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.CandidatesTried.WithLabelValues("sha256")); got != float64(first.Tried+third.Tried) {
		t.Errorf("candidates_tried = %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveShards); got != 0 {
		t.Errorf("active shards = %v after completion", got)
	}

	if _, err := s.Recover(context.Background(), Request{Hash: ""}); err == nil {
		t.Fatal("want error")
	}
	if len(evs.events) != 4 {
		t.Fatalf("events = %d, want 4", len(evs.events))
	}
	if !evs.events[1].CacheHit || evs.events[3].State != events.StateError || evs.events[0].Source != events.SourceSync {
		t.Errorf("events = %+v", evs.events)
	}
}

func TestOutcomeJSONAndProto(t *testing.T) {
	out := &Outcome{State: search.Found, Secret: "hi", Index: 242, Tried: 300, Algorithm: "des", Shards: 2}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	json.Unmarshal(raw, &decoded)
	if decoded["state"] != "found" || decoded["secret"] != "hi" {
		t.Errorf("json = %s", raw)
	}
	back, err := OutcomeFromProto(out.Proto())
	if err != nil {
		t.Fatal(err)
	}
	if back.State != search.Found || back.Secret != "hi" || back.Tried != 300 {
		t.Errorf("round trip = %+v", back)
	}
	req := Request{Hash: "h", MaxKeyLength: intp(0), Shards: 2}
	if got := FromProto(req.ToProto()); got.MaxKeyLength == nil || *got.MaxKeyLength != 0 || got.Source != events.SourceRPC {
		t.Errorf("request round trip = %+v", got)
	}
}
