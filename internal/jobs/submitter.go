package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/metrics"
)

// RequestValidator checks a recovery request against the service limits.
type RequestValidator interface {
	Validate(req recovery.Request) error
}

// Submitter persists jobs and queues them for the workers.
type Submitter struct {
	store     Store
	producer  kafka.Publisher
	validator RequestValidator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSubmitter wires the job store and the jobs topic producer. validator
// and m may be nil.
func NewSubmitter(store Store, producer kafka.Publisher, validator RequestValidator, m *metrics.Metrics) *Submitter {
	return &Submitter{
		store:     store,
		producer:  producer,
		validator: validator,
		metrics:   m,
		logger:    slog.Default().With("component", "job-submitter"),
	}
}

// Submit validates req, stores a PENDING job and publishes a JobEvent. A
// repeated idempotency key returns the original job with Duplicate set. If
// the queue rejects the event the job is marked FAILED and ErrUnavailable is
// returned.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if err := ValidateSubmit(&req); err != nil {
		return nil, err
	}
	if s.validator != nil {
		if err := s.validator.Validate(req.Request); err != nil {
			return nil, err
		}
	}

	job, duplicate, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("job_id", job.ID)
	if duplicate {
		log.Info("duplicate job submission", "idempotency_key", req.IdempotencyKey, "status", job.Status)
		return &SubmitResponse{JobID: job.ID, Status: job.Status, Duplicate: true}, nil
	}

	event := kafka.Event{
		Key: job.ID,
		Value: JobEvent{
			JobID:       job.ID,
			Request:     job.Request,
			SubmittedAt: time.Now().UTC(),
		},
	}
	if id := logger.RequestID(ctx); id != "" {
		event.Headers = map[string]string{"request_id": id}
	}
	if err := s.producer.Publish(ctx, event); err != nil {
		log.Error("failed to queue job", "error", err)
		if ferr := s.store.Fail(ctx, job.ID, "queue unavailable"); ferr != nil {
			log.Error("failed to mark unqueued job", "error", ferr)
		}
		s.count(StatusFailed)
		return nil, fmt.Errorf("%w: queueing job %s: %v", apperrors.ErrUnavailable, job.ID, err)
	}
	s.count(StatusPending)
	log.Info("job queued", "algorithm", req.Algorithm)
	return &SubmitResponse{JobID: job.ID, Status: StatusPending}, nil
}

func (s *Submitter) count(status Status) {
	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	}
}
