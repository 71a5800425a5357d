package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/postgres"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *jobs.PGStore {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	db, err := postgres.New(context.Background(), config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "keyspace_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "keyspace"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := jobs.NewPGStore(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return store
}

// queue stands in for the jobs topic: it keeps published events as the
// messages a consumer would fetch.
type queue struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (q *queue) Publish(_ context.Context, ev kafka.Event) error {
	value, err := json.Marshal(ev.Value)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, kafka.Message{Key: []byte(ev.Key), Value: value, Headers: ev.Headers})
	return nil
}

func (q *queue) PublishBatch(ctx context.Context, evs []kafka.Event) error {
	for _, ev := range evs {
		if err := q.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (q *queue) drain() []kafka.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.msgs
	q.msgs = nil
	return msgs
}

func TestJobLifecycleAgainstPostgres(t *testing.T) {
	store := skipIfNoPostgres(t)
	svc := newRecovery(t)
	q := &queue{}

	srv := httptest.NewServer(NewRouter(NewHandler(Deps{
		Recovery:  svc,
		Submitter: jobs.NewSubmitter(store, q, svc, nil),
		Jobs:      store,
	}), RouterConfig{}))
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"hash": sha("it", "owl"), "algorithm": "sha256", "salt": "it"})
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var submitted jobs.SubmitResponse
	json.NewDecoder(resp.Body).Decode(&submitted)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || submitted.JobID == "" {
		t.Fatalf("submit: status %d, body %+v", resp.StatusCode, submitted)
	}

	worker := jobs.NewWorker(store, svc, nil)
	msgs := q.drain()
	if len(msgs) != 1 {
		t.Fatalf("queued %d messages, want 1", len(msgs))
	}
	if err := worker.HandleMessage(context.Background(), msgs[0]); err != nil {
		t.Fatalf("worker: %v", err)
	}
	// redelivery of a finished job is a no-op
	if err := worker.HandleMessage(context.Background(), msgs[0]); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + submitted.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var job jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != jobs.StatusFound || job.Outcome == nil || job.Outcome.Secret != "owl" {
		t.Fatalf("job = %+v", job)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
}
