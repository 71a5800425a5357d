// Package api serves the recovery HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/resultcache"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Recoverer runs a synchronous recovery.
type Recoverer interface {
	Recover(ctx context.Context, req recovery.Request) (*recovery.Outcome, error)
	Algorithms() []string
}

// CacheAdmin exposes the result cache counters and invalidation.
type CacheAdmin interface {
	Stats() resultcache.Stats
	Invalidate(ctx context.Context) (int64, error)
}

// Deps are the collaborators of the handlers. Only Recovery is required;
// routes whose dependency is nil answer 503.
type Deps struct {
	Recovery   Recoverer
	Submitter  *jobs.Submitter
	Jobs       jobs.Store
	Cache      CacheAdmin
	Aggregator *events.Aggregator
}

type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:   deps,
		logger: slog.Default().With("component", "api"),
	}
}

// Recover handles POST /api/v1/recover. Found and Exhausted both answer 200.
func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	var req recovery.Request
	if !h.decode(w, r, &req) {
		return
	}
	req.Source = events.SourceSync
	out, err := h.deps.Recovery.Recover(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// Algorithms handles GET /api/v1/algorithms.
func (h *Handler) Algorithms(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"algorithms": h.deps.Recovery.Algorithms()})
}

// SubmitJob handles POST /api/v1/jobs.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Submitter == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "job queue is not configured"))
		return
	}
	var req jobs.SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.deps.Submitter.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if resp.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

// ListJobs handles GET /api/v1/jobs?status=&limit=&offset=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "job store is not configured"))
		return
	}
	q := r.URL.Query()
	filter := jobs.ListFilter{Status: jobs.Status(q.Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidArguments, http.StatusBadRequest, "unknown status %q", filter.Status))
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 20); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.deps.Jobs.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "job store is not configured"))
		return
	}
	job, err := h.deps.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeJSON(w, http.StatusOK, resultcache.Stats{Circuit: "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.deps.Cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]int64{"keys_deleted": 0})
		return
	}
	n, err := h.deps.Cache.Invalidate(r.Context())
	if err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, err.Error()))
		return
	}
	logger.FromContext(r.Context()).Info("result cache invalidated", "keys_deleted", n)
	h.writeJSON(w, http.StatusOK, map[string]int64{"keys_deleted": n})
}

// Stats handles GET /api/v1/stats with the aggregated recovery events.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Aggregator == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "event aggregation is not configured"))
		return
	}
	h.writeJSON(w, http.StatusOK, h.deps.Aggregator.Stats())
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidArguments, http.StatusBadRequest, "invalid integer %q", raw)
	}
	return n, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidArguments, http.StatusBadRequest, "invalid JSON body: %v", err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", "path", r.URL.Path, "status_code", status, "error", err)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "status_code", status, "error", err)
	}

	body := map[string]any{"error": err.Error(), "code": apperrors.Code(err)}
	var verr *jobs.ValidationError
	if errors.As(err, &verr) {
		body["error"] = "validation failed"
		body["fields"] = verr.Fields
	}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
	}
	h.writeJSON(w, status, body)
}
