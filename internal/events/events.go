// Package events publishes recovery events to Kafka and aggregates them back
// into service statistics.
package events

import "time"

type Source string

const (
	SourceSync  Source = "sync"
	SourceJob   Source = "job"
	SourceRPC   Source = "rpc"
	SourceLocal Source = "cli"
)

// RecoveryEvent is emitted once per finished recovery, successful or not.
// The secret itself is never part of an event.
type RecoveryEvent struct {
	Source    Source    `json:"source"`
	RequestID string    `json:"request_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Algorithm string    `json:"algorithm"`
	State     string    `json:"state"`
	Index     uint64    `json:"index,omitempty"`
	Tried     uint64    `json:"tried"`
	Shards    int       `json:"shards"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateError is the State of an event whose recovery failed.
const StateError = "error"
