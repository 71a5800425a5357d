// Package search drives the brute-force enumeration: it walks the index
// space in order, decodes each index into a candidate and asks a Matcher
// whether the candidate reproduces the target hash. A Driver is a pure
// state machine; Parallel fans the index space out over disjoint shards.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/keyspace"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

// State is the phase of a search. Found and Exhausted are terminal.
type State int

const (
	Running State = iota
	Found
	Exhausted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Found:
		return "found"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "running":
		*s = Running
	case "found":
		*s = Found
	case "exhausted":
		*s = Exhausted
	default:
		return fmt.Errorf("unknown search state %q", b)
	}
	return nil
}

// Matcher reports whether a candidate reproduces the target hash. It must be
// a pure function of the candidate and safe for concurrent use.
type Matcher interface {
	Match(candidate string) (bool, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(candidate string) (bool, error)

func (f MatcherFunc) Match(candidate string) (bool, error) {
	return f(candidate)
}

// Config is the read-only search configuration shared by all shards.
type Config struct {
	Alphabet     keyspace.Alphabet
	MaxKeyLength int
	// IndexBound is the exclusive upper bound of the index space. Zero means
	// the bound that covers every candidate up to MaxKeyLength.
	IndexBound uint64
}

// Bound returns the effective exclusive index bound.
func (c Config) Bound() uint64 {
	if c.IndexBound == 0 {
		return keyspace.Bound(c.Alphabet.Len(), c.MaxKeyLength)
	}
	return c.IndexBound
}

func (c Config) Validate() error {
	if c.Alphabet.Len() == 0 {
		return fmt.Errorf("%w: alphabet must contain at least one symbol", apperrors.ErrInvalidArguments)
	}
	if c.MaxKeyLength < 0 {
		return fmt.Errorf("%w: max key length must not be negative", apperrors.ErrInvalidArguments)
	}
	return nil
}

// Result is the terminal outcome of a search over one range.
type Result struct {
	State     State  `json:"state"`
	Candidate string `json:"candidate,omitempty"`
	Index     uint64 `json:"index,omitempty"`
	// Tried counts the candidates submitted to the matcher.
	Tried uint64 `json:"tried"`
	// Cancelled is set when the search stopped early because another shard
	// found the secret.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Range is a half-open interval [Start, End) of indices.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Driver runs the sequential search state machine.
type Driver struct {
	cfg     Config
	matcher Matcher
}

// NewDriver validates cfg and returns a Driver using m as the hash oracle.
func NewDriver(cfg Config, m Matcher) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: nil matcher", apperrors.ErrInvalidArguments)
	}
	return &Driver{cfg: cfg, matcher: m}, nil
}

// Config returns the driver configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Search scans the whole index space [1, bound) in order and returns the
// first (shortest) match, or Exhausted.
func (d *Driver) Search(ctx context.Context) (Result, error) {
	return d.Run(ctx, Range{Start: 1, End: d.cfg.Bound()}, nil)
}

// Run scans r in increasing index order. stop, if non-nil, is consulted
// before every step; when it returns true the search ends Exhausted with
// Cancelled set. Errors are returned only for oracle failures and context
// cancellation; running past the maximum key length is Exhausted.
func (d *Driver) Run(ctx context.Context, r Range, stop func(index uint64) bool) (Result, error) {
	if r.Start == 0 {
		return Result{}, fmt.Errorf("%w: index space starts at 1", apperrors.ErrInvalidArguments)
	}

	res := Result{State: Running}
	index := r.Start
	for res.State == Running {
		if index >= r.End {
			res.State = Exhausted
			break
		}
		if stop != nil && stop(index) {
			res.State = Exhausted
			res.Cancelled = true
			break
		}
		select {
		case <-ctx.Done():
			return res, fmt.Errorf("search aborted at index %d: %w", index, ctx.Err())
		default:
		}

		candidate, err := keyspace.Decode(index, d.cfg.Alphabet, d.cfg.MaxKeyLength)
		if errors.Is(err, apperrors.ErrKeyTooLong) {
			// every later index is longer still
			res.State = Exhausted
			break
		}
		if err != nil {
			return res, err
		}

		res.Tried++
		ok, err := d.matcher.Match(candidate)
		if err != nil {
			if !errors.Is(err, apperrors.ErrOracleFailure) {
				err = fmt.Errorf("%w: %v", apperrors.ErrOracleFailure, err)
			}
			return res, fmt.Errorf("candidate at index %d: %w", index, err)
		}
		if ok {
			res.State = Found
			res.Candidate = candidate
			res.Index = index
			break
		}
		index++
	}
	return res, nil
}
