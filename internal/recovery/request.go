package recovery

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/keyspace"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/oracle"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/proto"
)

// Request describes one recovery. Zero-valued fields take the service
// defaults; MaxKeyLength is a pointer because 0 is a meaningful length.
type Request struct {
	Hash         string `json:"hash"`
	Algorithm    string `json:"algorithm,omitempty"`
	Salt         string `json:"salt,omitempty"`
	Alphabet     string `json:"alphabet,omitempty"`
	MaxKeyLength *int   `json:"max_key_length,omitempty"`
	IndexBound   uint64 `json:"index_bound,omitempty"`
	// Start resumes the search at an index; StartCandidate resumes at the
	// index of a candidate. At most one may be set.
	Start          uint64 `json:"start,omitempty"`
	StartCandidate string `json:"start_candidate,omitempty"`
	Shards         int    `json:"shards,omitempty"`
	StrictOrder    bool   `json:"strict_order,omitempty"`
	NoCache        bool   `json:"no_cache,omitempty"`

	Source events.Source `json:"-"`
}

// Outcome is the JSON result of a recovery. Secret is set only when State is
// Found.
type Outcome struct {
	State      search.State `json:"state"`
	Secret     string       `json:"secret,omitempty"`
	Index      uint64       `json:"index,omitempty"`
	Tried      uint64       `json:"tried"`
	Algorithm  string       `json:"algorithm"`
	Salt       string       `json:"salt,omitempty"`
	Shards     int          `json:"shards"`
	IndexBound uint64       `json:"index_bound"`
	DurationMs int64        `json:"duration_ms"`
	Cached     bool         `json:"cached,omitempty"`
}

// plan is a validated request with every default applied.
type plan struct {
	hash     string
	alg      string
	salt     string
	cfg      search.Config
	start    uint64
	shards   int
	strict   bool
	matcher  search.Matcher
	useCache bool
}

func (s *Service) plan(req Request) (*plan, error) {
	hash := strings.TrimSpace(req.Hash)
	if hash == "" {
		return nil, fmt.Errorf("%w: hash is required", apperrors.ErrInvalidArguments)
	}

	symbols := req.Alphabet
	if symbols == "" {
		symbols = s.defaults.Alphabet
	}
	alphabet, err := keyspace.NewAlphabet(symbols)
	if err != nil {
		return nil, err
	}
	maxLen := s.defaults.MaxKeyLength
	if req.MaxKeyLength != nil {
		maxLen = *req.MaxKeyLength
		if limit := s.defaults.MaxKeyLengthLimit; limit > 0 && maxLen > limit {
			return nil, fmt.Errorf("%w: max_key_length %d exceeds the limit of %d", apperrors.ErrInvalidArguments, maxLen, limit)
		}
	}
	bound := req.IndexBound
	if bound == 0 {
		bound = s.defaults.IndexBound
	}
	cfg := search.Config{Alphabet: alphabet, MaxKeyLength: maxLen, IndexBound: bound}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limit := s.defaults.MaxIndexBound; limit > 0 && cfg.Bound() > limit {
		return nil, fmt.Errorf("%w: keyspace of %d indices exceeds the limit of %d; lower max_key_length or set index_bound",
			apperrors.ErrInvalidArguments, cfg.Bound(), limit)
	}

	alg := req.Algorithm
	if alg == "" {
		alg = s.defaults.Algorithm
	}
	salt := req.Salt
	if salt == "" {
		salt = s.defaults.Salt
	}
	alg, salt, err = oracle.Resolve(alg, hash, salt)
	if err != nil {
		return nil, err
	}
	matcher, err := oracle.NewMatcher(alg, hash, salt)
	if err != nil {
		return nil, err
	}

	start := req.Start
	if req.StartCandidate != "" {
		if start != 0 {
			return nil, fmt.Errorf("%w: start and start_candidate are mutually exclusive", apperrors.ErrInvalidArguments)
		}
		if start, err = keyspace.Encode(req.StartCandidate, alphabet); err != nil {
			return nil, err
		}
	}
	if start == 0 {
		start = 1
	}

	limit := s.defaults.MaxShards
	shards := req.Shards
	switch {
	case shards < 0:
		return nil, fmt.Errorf("%w: shards must not be negative", apperrors.ErrInvalidArguments)
	case limit > 0 && shards > limit:
		return nil, fmt.Errorf("%w: %d shards exceeds the limit of %d", apperrors.ErrInvalidArguments, shards, limit)
	case shards == 0:
		shards = s.defaults.Shards
		if shards == 0 {
			shards = runtime.NumCPU()
		}
		if limit > 0 {
			shards = min(shards, limit)
		}
	}

	return &plan{
		hash:     hash,
		alg:      alg,
		salt:     salt,
		cfg:      cfg,
		start:    start,
		shards:   shards,
		strict:   req.StrictOrder || s.defaults.StrictOrder,
		matcher:  matcher,
		useCache: !req.NoCache,
	}, nil
}

// cacheKey covers every input that can change the outcome. The shard count
// is left out: it only changes which of several colliding secrets wins when
// strict ordering is off.
func (p *plan) cacheKey() string {
	return resultcache.Key(
		p.alg, p.salt, p.hash,
		p.cfg.Alphabet.String(),
		strconv.Itoa(p.cfg.MaxKeyLength),
		strconv.FormatUint(p.cfg.Bound(), 10),
		strconv.FormatUint(p.start, 10),
		strconv.FormatBool(p.strict),
	)
}

// FromProto converts an RPC request.
func FromProto(r *proto.RecoverRequest) Request {
	return Request{
		Hash:         r.Hash,
		Algorithm:    r.Algorithm,
		Salt:         r.Salt,
		Alphabet:     r.Alphabet,
		MaxKeyLength: r.MaxKeyLength,
		IndexBound:   r.IndexBound,
		Start:        r.Start,
		Shards:       r.Shards,
		StrictOrder:  r.StrictOrder,
		Source:       events.SourceRPC,
	}
}

// ToProto converts a request for sending over RPC.
func (r Request) ToProto() *proto.RecoverRequest {
	return &proto.RecoverRequest{
		Hash:         r.Hash,
		Algorithm:    r.Algorithm,
		Salt:         r.Salt,
		Alphabet:     r.Alphabet,
		MaxKeyLength: r.MaxKeyLength,
		IndexBound:   r.IndexBound,
		Start:        r.Start,
		Shards:       r.Shards,
		StrictOrder:  r.StrictOrder,
	}
}

func (o *Outcome) Proto() *proto.RecoverResponse {
	return &proto.RecoverResponse{
		State:      o.State.String(),
		Secret:     o.Secret,
		Index:      o.Index,
		Tried:      o.Tried,
		Algorithm:  o.Algorithm,
		Shards:     o.Shards,
		DurationMs: o.DurationMs,
		Cached:     o.Cached,
	}
}

// OutcomeFromProto converts an RPC response. An unknown state is an error.
func OutcomeFromProto(r *proto.RecoverResponse) (*Outcome, error) {
	var st search.State
	if err := st.UnmarshalText([]byte(r.State)); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
	}
	return &Outcome{
		State:      st,
		Secret:     r.Secret,
		Index:      r.Index,
		Tried:      r.Tried,
		Algorithm:  r.Algorithm,
		Shards:     r.Shards,
		DurationMs: r.DurationMs,
		Cached:     r.Cached,
	}, nil
}
