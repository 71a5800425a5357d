package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/api/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/keyspace"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/kafka"
)

func newRecovery(t *testing.T) *recovery.Service {
	t.Helper()
	svc, err := recovery.NewService(config.RecoveryConfig{
		Alphabet:      keyspace.Lower,
		MaxKeyLength:  3,
		Shards:        2,
		Timeout:       time.Minute,
		MaxIndexBound: 1 << 20,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func sha(salt, secret string) string {
	sum := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(sum[:])
}

type stubStore struct {
	jobs.Store
	job *jobs.Job
}

func (s *stubStore) Get(_ context.Context, id string) (*jobs.Job, error) {
	if s.job == nil || s.job.ID != id {
		return nil, apperrors.ErrJobNotFound
	}
	return s.job, nil
}

func (s *stubStore) List(_ context.Context, f jobs.ListFilter) ([]*jobs.Job, error) {
	if s.job == nil || (f.Status != "" && f.Status != s.job.Status) {
		return nil, nil
	}
	return []*jobs.Job{s.job}, nil
}

func (s *stubStore) Create(_ context.Context, req jobs.SubmitRequest) (*jobs.Job, bool, error) {
	if s.job != nil && req.IdempotencyKey != "" && s.job.IdempotencyKey == req.IdempotencyKey {
		return s.job, true, nil
	}
	s.job = &jobs.Job{ID: "job-1", Status: jobs.StatusPending, Request: req.Request, IdempotencyKey: req.IdempotencyKey}
	return s.job, false, nil
}

func (s *stubStore) Fail(_ context.Context, _ string, reason string) error {
	s.job.Status = jobs.StatusFailed
	s.job.Error = reason
	return nil
}

type nopProducer struct{ published int }

func (p *nopProducer) Publish(context.Context, kafka.Event) error { p.published++; return nil }
func (p *nopProducer) PublishBatch(_ context.Context, evs []kafka.Event) error {
	p.published += len(evs)
	return nil
}

type stubCache struct{ flushed bool }

func (c *stubCache) Stats() resultcache.Stats { return resultcache.Stats{Hits: 3, Misses: 1, Circuit: "closed"} }
func (c *stubCache) Invalidate(context.Context) (int64, error) {
	c.flushed = true
	return 7, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestRecoverFoundAndExhausted(t *testing.T) {
	h := NewRouter(NewHandler(Deps{Recovery: newRecovery(t)}), RouterConfig{})

	rec, body := do(t, h, http.MethodPost, "/api/v1/recover",
		`{"hash":"`+sha("pepper", "dog")+`","algorithm":"sha256","salt":"pepper"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if body["state"] != "found" || body["secret"] != "dog" {
		t.Errorf("body = %v, want found dog", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	rec, body = do(t, h, http.MethodPost, "/api/v1/recover",
		`{"hash":"`+sha("pepper", "zzzz")+`","algorithm":"sha256","salt":"pepper","max_key_length":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if body["state"] != "exhausted" {
		t.Errorf("state = %v, want exhausted", body["state"])
	}
	if _, ok := body["secret"]; ok {
		t.Error("exhausted outcome must not carry a secret")
	}
}

func TestRecoverRejectsBadRequests(t *testing.T) {
	h := NewRouter(NewHandler(Deps{Recovery: newRecovery(t)}), RouterConfig{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"hash":`, http.StatusBadRequest},
		{"unknown field", `{"hash":"x","colour":"red"}`, http.StatusBadRequest},
		{"missing hash", `{}`, http.StatusBadRequest},
		{"duplicate alphabet", `{"hash":"` + sha("", "a") + `","algorithm":"sha256","alphabet":"aa"}`, http.StatusBadRequest},
		{"bound over limit", `{"hash":"` + sha("", "a") + `","algorithm":"sha256","index_bound":99999999}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/api/v1/recover", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %v)", rec.Code, tt.want, body)
			}
			if body["code"] != "invalid_arguments" {
				t.Errorf("code = %v, want invalid_arguments", body["code"])
			}
		})
	}
}

func TestAlgorithms(t *testing.T) {
	h := NewRouter(NewHandler(Deps{Recovery: newRecovery(t)}), RouterConfig{})
	rec, body := do(t, h, http.MethodGet, "/api/v1/algorithms", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	algs, _ := body["algorithms"].([]any)
	if len(algs) < 4 {
		t.Errorf("algorithms = %v, want at least des, sha256, sha512, bcrypt", algs)
	}
}

func TestJobsRoutes(t *testing.T) {
	svc := newRecovery(t)
	store := &stubStore{}
	producer := &nopProducer{}
	h := NewRouter(NewHandler(Deps{
		Recovery:  svc,
		Submitter: jobs.NewSubmitter(store, producer, svc, nil),
		Jobs:      store,
	}), RouterConfig{})

	body := `{"hash":"` + sha("", "cab") + `","algorithm":"sha256","idempotency_key":"k1"}`
	rec, resp := do(t, h, http.MethodPost, "/api/v1/jobs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body %v", rec.Code, resp)
	}
	if resp["job_id"] != "job-1" || resp["status"] != string(jobs.StatusPending) {
		t.Errorf("submit body = %v", resp)
	}
	if producer.published != 1 {
		t.Errorf("published = %d, want 1", producer.published)
	}

	rec, resp = do(t, h, http.MethodPost, "/api/v1/jobs", body)
	if rec.Code != http.StatusOK || resp["duplicate"] != true {
		t.Errorf("duplicate submit: status = %d, body %v", rec.Code, resp)
	}

	rec, resp = do(t, h, http.MethodGet, "/api/v1/jobs/job-1", "")
	if rec.Code != http.StatusOK || resp["id"] != "job-1" {
		t.Errorf("get: status = %d, body %v", rec.Code, resp)
	}

	rec, resp = do(t, h, http.MethodGet, "/api/v1/jobs/nope", "")
	if rec.Code != http.StatusNotFound || resp["code"] != "job_not_found" {
		t.Errorf("get missing: status = %d, body %v", rec.Code, resp)
	}

	rec, resp = do(t, h, http.MethodGet, "/api/v1/jobs?status=PENDING&limit=5", "")
	if rec.Code != http.StatusOK || resp["count"] != float64(1) {
		t.Errorf("list: status = %d, body %v", rec.Code, resp)
	}

	for _, q := range []string{"?status=BOGUS", "?limit=-1", "?offset=x"} {
		rec, _ = do(t, h, http.MethodGet, "/api/v1/jobs"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("list %s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestSubmitValidationFields(t *testing.T) {
	svc := newRecovery(t)
	store := &stubStore{}
	h := NewRouter(NewHandler(Deps{
		Recovery:  svc,
		Submitter: jobs.NewSubmitter(store, &nopProducer{}, svc, nil),
		Jobs:      store,
	}), RouterConfig{})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/jobs", `{"shards":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %v", rec.Code, resp)
	}
	if _, ok := resp["fields"]; !ok {
		t.Errorf("validation response without fields: %v", resp)
	}
}

func TestUnconfiguredDependencies(t *testing.T) {
	h := NewRouter(NewHandler(Deps{Recovery: newRecovery(t)}), RouterConfig{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/jobs"},
		{http.MethodGet, "/api/v1/jobs"},
		{http.MethodGet, "/api/v1/jobs/abc"},
		{http.MethodGet, "/api/v1/stats"},
	} {
		rec, resp := do(t, h, tc.method, tc.path, `{}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status = %d, want 503 (body %v)", tc.method, tc.path, rec.Code, resp)
		}
	}

	rec, resp := do(t, h, http.MethodGet, "/api/v1/cache/stats", "")
	if rec.Code != http.StatusOK || resp["circuit"] != "disabled" {
		t.Errorf("cache stats without cache: status = %d, body %v", rec.Code, resp)
	}
}

func TestCacheRoutes(t *testing.T) {
	cache := &stubCache{}
	h := NewRouter(NewHandler(Deps{Recovery: newRecovery(t), Cache: cache}), RouterConfig{})

	rec, resp := do(t, h, http.MethodGet, "/api/v1/cache/stats", "")
	if rec.Code != http.StatusOK || resp["hits"] != float64(3) {
		t.Errorf("stats: status = %d, body %v", rec.Code, resp)
	}

	rec, resp = do(t, h, http.MethodPost, "/api/v1/cache/invalidate", "")
	if rec.Code != http.StatusOK || resp["keys_deleted"] != float64(7) || !cache.flushed {
		t.Errorf("invalidate: status = %d, body %v", rec.Code, resp)
	}
}

func TestStatsRoute(t *testing.T) {
	agg := events.NewAggregator()
	agg.Record(events.RecoveryEvent{Source: events.SourceSync, Algorithm: "des", State: "found", LatencyMs: 5, Timestamp: time.Now()})
	h := NewRouter(NewHandler(Deps{Recovery: newRecovery(t), Aggregator: agg}), RouterConfig{})

	rec, resp := do(t, h, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["total_recoveries"] != float64(1) {
		t.Errorf("total_recoveries = %v, want 1", resp["total_recoveries"])
	}
}

func TestRateLimitAppliesToRecover(t *testing.T) {
	limiter := ratelimit.New(1, time.Minute)
	h := NewRouter(NewHandler(Deps{Recovery: newRecovery(t)}), RouterConfig{Limiter: limiter})

	body := `{"hash":"` + sha("", "a") + `","algorithm":"sha256"}`
	if rec, _ := do(t, h, http.MethodPost, "/api/v1/recover", body); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	rec, _ := do(t, h, http.MethodPost, "/api/v1/recover", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	// read-only routes are not limited
	if rec, _ := do(t, h, http.MethodGet, "/api/v1/algorithms", ""); rec.Code != http.StatusOK {
		t.Errorf("algorithms: status = %d, want 200", rec.Code)
	}
}

func TestHealthRoutes(t *testing.T) {
	checker := health.NewChecker(time.Second)
	checker.Register("redis", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusDegraded, Message: "down"}
	})
	h := NewRouter(NewHandler(Deps{Recovery: newRecovery(t)}), RouterConfig{Health: checker})

	if rec, _ := do(t, h, http.MethodGet, "/health/live", ""); rec.Code != http.StatusOK {
		t.Errorf("live: status = %d", rec.Code)
	}
	rec, resp := do(t, h, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusOK || resp["status"] != string(health.StatusDegraded) {
		t.Errorf("ready: status = %d, body %v", rec.Code, resp)
	}
}
