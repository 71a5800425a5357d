// Package tracing records span trees in the request context and logs them
// through slog when the root span ends.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type contextKey struct{}

var enabled atomic.Bool

// SetEnabled turns span logging on or off process-wide. Spans are still
// created while disabled so callers need no nil checks.
func SetEnabled(on bool) { enabled.Store(on) }

// Span is a timed operation. Children are appended concurrently by shard
// goroutines, so all mutation goes through the mutex.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration

	mu       sync.Mutex
	parent   *Span
	children []*Span
	attrs    []any
	err      error
}

// Start opens a span. Without a span in ctx it becomes a root with traceID,
// or a fresh random id when traceID is empty.
func Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	span := &Span{Name: name, StartTime: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		span.parent = parent
		span.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, span)
		parent.mu.Unlock()
	} else {
		if traceID == "" {
			traceID = newTraceID()
		}
		span.TraceID = traceID
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// SetError records the error reported when the span is logged.
func (s *Span) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// End stops the clock. Ending a root span logs the whole tree.
func (s *Span) End() {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
	if s.parent == nil && enabled.Load() {
		s.log(slog.Default(), 0)
	}
}

// Children returns a snapshot of the direct children.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := append([]any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}, s.attrs...)
	if s.err != nil {
		attrs = append(attrs, "error", s.err)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	logger.Info("span", attrs...)
	for _, child := range children {
		child.log(logger, depth+1)
	}
}

func newTraceID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
