package jobs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/postgres"
)

// Store persists jobs.
type Store interface {
	// Create inserts job as PENDING. When the idempotency key is already
	// taken it returns the existing job and true.
	Create(ctx context.Context, req SubmitRequest) (*Job, bool, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, f ListFilter) ([]*Job, error)
	// MarkRunning claims a job for a worker. It returns false when the job
	// is already terminal, so a redelivered message is skipped. A RUNNING
	// job may be claimed again after a worker crash.
	MarkRunning(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, out *recovery.Outcome) error
	Fail(ctx context.Context, id string, reason string) error
}

const schema = `
CREATE TABLE IF NOT EXISTS recovery_jobs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	request         JSONB NOT NULL,
	outcome         JSONB,
	error           TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT UNIQUE,
	attempts        INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS recovery_jobs_status_created_idx ON recovery_jobs (status, created_at DESC);
`

const jobColumns = `id, status, request, outcome, error, idempotency_key, attempts, created_at, started_at, finished_at`

// PGStore is the PostgreSQL Store.
type PGStore struct {
	db *postgres.Client
}

func NewPGStore(db *postgres.Client) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the jobs table when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	return s.db.Exec(ctx, schema)
}

func (s *PGStore) Create(ctx context.Context, req SubmitRequest) (*Job, bool, error) {
	raw, err := json.Marshal(req.Request)
	if err != nil {
		return nil, false, fmt.Errorf("encoding request: %w", err)
	}
	job := &Job{
		ID:             newJobID(),
		Status:         StatusPending,
		Request:        req.Request,
		IdempotencyKey: req.IdempotencyKey,
	}

	var existing *Job
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if req.IdempotencyKey != "" {
			row := tx.QueryRowContext(ctx,
				`SELECT `+jobColumns+` FROM recovery_jobs WHERE idempotency_key = $1`, req.IdempotencyKey)
			j, err := scanJob(row)
			if err == nil {
				existing = j
				return nil
			}
			if !errors.Is(err, apperrors.ErrJobNotFound) {
				return err
			}
		}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO recovery_jobs (id, status, request, idempotency_key)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING created_at`,
			job.ID, job.Status, string(raw), nullableString(req.IdempotencyKey),
		).Scan(&job.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrJobExists, 409, "idempotency key already in use")
		}
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("inserting job: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}
	return job, false, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM recovery_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return job, nil
}

func (s *PGStore) List(ctx context.Context, f ListFilter) ([]*Job, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM recovery_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		string(f.Status), limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PGStore) MarkRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE recovery_jobs
		SET status = $2, attempts = attempts + 1, started_at = NOW()
		WHERE id = $1 AND status IN ($2, $3)`,
		id, StatusRunning, StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claiming job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (s *PGStore) Complete(ctx context.Context, id string, out *recovery.Outcome) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	return s.finish(ctx, id, statusOf(out.State), nullableString(string(raw)), "")
}

func (s *PGStore) Fail(ctx context.Context, id string, reason string) error {
	return s.finish(ctx, id, StatusFailed, sql.NullString{}, reason)
}

// finish passes JSON as text: lib/pq sends []byte as bytea, which jsonb
// columns reject.
func (s *PGStore) finish(ctx context.Context, id string, status Status, outcome sql.NullString, reason string) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE recovery_jobs SET status = $2, outcome = $3, error = $4, finished_at = NOW() WHERE id = $1`,
		id, status, outcome, reason,
	)
	if err != nil {
		return fmt.Errorf("updating job %s to %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, apperrors.ErrJobNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job        Job
		request    []byte
		outcome    []byte
		idemKey    sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Status, &request, &outcome, &job.Error, &idemKey,
		&job.Attempts, &job.CreatedAt, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	if err := json.Unmarshal(request, &job.Request); err != nil {
		return nil, fmt.Errorf("decoding job request: %w", err)
	}
	if len(outcome) > 0 {
		job.Outcome = new(recovery.Outcome)
		if err := json.Unmarshal(outcome, job.Outcome); err != nil {
			return nil, fmt.Errorf("decoding job outcome: %w", err)
		}
	}
	job.IdempotencyKey = idemKey.String
	if startedAt.Valid {
		job.StartedAt = timePtr(startedAt.Time)
	}
	if finishedAt.Valid {
		job.FinishedAt = timePtr(finishedAt.Time)
	}
	return &job, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func newJobID() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
