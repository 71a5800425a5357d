// Package proto defines the messages exchanged over the JSON-over-TCP RPC
// layer (see pkg/grpc). They are plain structs with JSON tags so the CLI and
// the server share one wire format without code generation.
package proto

// Method names served by cmd/server.
const (
	MethodRecover    = "Recovery.Recover"
	MethodAlgorithms = "Recovery.Algorithms"
	MethodHealth     = "Health.Check"
)

// RecoverRequest asks the server to search for the secret behind Hash.
// Empty fields fall back to the server's configured defaults.
type RecoverRequest struct {
	Hash         string `json:"hash"`
	Algorithm    string `json:"algorithm,omitempty"`
	Salt         string `json:"salt,omitempty"`
	Alphabet     string `json:"alphabet,omitempty"`
	MaxKeyLength *int   `json:"max_key_length,omitempty"`
	IndexBound   uint64 `json:"index_bound,omitempty"`
	Start        uint64 `json:"start,omitempty"`
	Shards       int    `json:"shards,omitempty"`
	StrictOrder  bool   `json:"strict_order,omitempty"`
}

// RecoverResponse carries the search outcome. State is "found" or
// "exhausted"; Secret is set only when found.
type RecoverResponse struct {
	State      string `json:"state"`
	Secret     string `json:"secret,omitempty"`
	Index      uint64 `json:"index,omitempty"`
	Tried      uint64 `json:"tried"`
	Algorithm  string `json:"algorithm"`
	Shards     int    `json:"shards"`
	DurationMs int64  `json:"duration_ms"`
	Cached     bool   `json:"cached,omitempty"`
}

// AlgorithmsResponse lists the oracle names the server supports.
type AlgorithmsResponse struct {
	Algorithms []string `json:"algorithms"`
}

// HealthCheckResponse mirrors the gRPC health check convention.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING
}
