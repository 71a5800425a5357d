// Package jobs runs recoveries asynchronously: submissions are persisted to
// PostgreSQL as PENDING and queued on Kafka, and workers consume the queue,
// run the search and record the outcome.
package jobs

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/search"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusFound     Status = "FOUND"
	StatusExhausted Status = "EXHAUSTED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no worker will touch the job again.
func (s Status) Terminal() bool {
	return s == StatusFound || s == StatusExhausted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusFound, StatusExhausted, StatusFailed:
		return true
	}
	return false
}

func statusOf(state search.State) Status {
	if state == search.Found {
		return StatusFound
	}
	return StatusExhausted
}

type Job struct {
	ID             string            `json:"id"`
	Status         Status            `json:"status"`
	Request        recovery.Request  `json:"request"`
	Outcome        *recovery.Outcome `json:"outcome,omitempty"`
	Error          string            `json:"error,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Attempts       int               `json:"attempts"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
}

// SubmitRequest is the body of POST /api/v1/jobs.
type SubmitRequest struct {
	recovery.Request
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SubmitResponse is returned once a job is accepted.
type SubmitResponse struct {
	JobID     string `json:"job_id"`
	Status    Status `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// JobEvent is the payload queued on the recovery jobs topic.
type JobEvent struct {
	JobID       string           `json:"job_id"`
	Request     recovery.Request `json:"request"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// ListFilter selects jobs for GET /api/v1/jobs. An empty Status matches all.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
