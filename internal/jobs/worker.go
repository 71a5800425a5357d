package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/metrics"
)

// Recoverer runs one recovery; *recovery.Service implements it.
type Recoverer interface {
	Recover(ctx context.Context, req recovery.Request) (*recovery.Outcome, error)
}

type Worker struct {
	store     Store
	recoverer Recoverer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewWorker(store Store, r Recoverer, m *metrics.Metrics) *Worker {
	return &Worker{
		store:     store,
		recoverer: r,
		metrics:   m,
		logger:    slog.Default().With("component", "job-worker"),
	}
}

// HandleMessage is the kafka.MessageHandler for the jobs topic. Undecodable
// messages and unknown jobs are dropped. Store errors and shutdown cancellation are returned
// so the message is redelivered; recovery errors fail the job.
func (w *Worker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ev, err := kafka.DecodeJSON[JobEvent](msg.Value)
	if err != nil || ev.JobID == "" {
		w.logger.Error("dropping undecodable job event", "key", string(msg.Key), "error", err)
		return nil
	}
	ctx = logger.WithJobID(ctx, ev.JobID)
	if id := msg.Headers["request_id"]; id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}
	log := logger.FromContext(ctx)

	claimed, err := w.store.MarkRunning(ctx, ev.JobID)
	if errors.Is(err, apperrors.ErrJobNotFound) {
		log.Error("dropping event for unknown job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claiming job %s: %w", ev.JobID, err)
	}
	if !claimed {
		log.Info("job already finished, skipping redelivery")
		return nil
	}

	req := ev.Request
	req.Source = events.SourceJob
	out, err := w.recoverer.Recover(ctx, req)
	if err != nil {
		// A cancellation is never the job's own result, even when it came
		// from a computation shared with another caller.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			log.Warn("job interrupted, leaving for redelivery", "error", err)
			return err
		}
		log.Warn("job failed", "error", err)
		w.count(StatusFailed)
		return w.store.Fail(ctx, ev.JobID, err.Error())
	}

	if err := w.store.Complete(ctx, ev.JobID, out); err != nil {
		return fmt.Errorf("completing job %s: %w", ev.JobID, err)
	}
	status := statusOf(out.State)
	w.count(status)
	log.Info("job finished", "status", status, "tried", out.Tried, "cached", out.Cached)
	return nil
}

func (w *Worker) count(status Status) {
	if w.metrics != nil {
		w.metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	}
}
