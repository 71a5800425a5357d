package search

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Options controls a parallel search.
type Options struct {
	// Shards is the number of disjoint ranges searched concurrently.
	Shards int
	// Start is the first index searched. Zero means 1.
	Start uint64
	// StrictOrder keeps shards below the best match running, so the reported
	// secret is always the lowest-index one even when several candidates
	// share the target hash. Without it the first match cancels every shard.
	StrictOrder bool
	// OnShardDone is called from the shard goroutine once it is terminal.
	OnShardDone func(ShardResult)
}

// ShardResult is the terminal result of one shard.
type ShardResult struct {
	Shard int   `json:"shard"`
	Range Range `json:"range"`
	Result
}

// Outcome merges the shard results. Result.Tried is the sum over shards.
type Outcome struct {
	Result
	Shards []ShardResult `json:"shards"`
}

// cancellation is the only state shared between shards. found is written
// once per matching shard; best holds the lowest matching index.
type cancellation struct {
	strict  bool
	stopped atomic.Bool
	best    atomic.Uint64
}

func newCancellation(strict bool) *cancellation {
	c := &cancellation{strict: strict}
	c.best.Store(math.MaxUint64)
	return c
}

func (c *cancellation) stop(index uint64) bool {
	if c.strict {
		return index >= c.best.Load()
	}
	return c.stopped.Load()
}

func (c *cancellation) found(index uint64) {
	c.stopped.Store(true)
	for {
		cur := c.best.Load()
		if index >= cur || c.best.CompareAndSwap(cur, index) {
			return
		}
	}
}

// Partition splits r into at most n contiguous, disjoint, non-empty ranges
// covering r in order.
func Partition(r Range, n int) []Range {
	size := r.Len()
	if size == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if uint64(n) > size {
		n = int(size)
	}
	chunk, extra := size/uint64(n), size%uint64(n)
	out := make([]Range, 0, n)
	start := r.Start
	for i := 0; i < n; i++ {
		length := chunk
		if uint64(i) < extra {
			length++
		}
		out = append(out, Range{Start: start, End: start + length})
		start += length
	}
	return out
}

// Parallel partitions [opts.Start, bound) into opts.Shards ranges and searches
// them concurrently.
func (d *Driver) Parallel(ctx context.Context, opts Options) (*Outcome, error) {
	start := opts.Start
	if start == 0 {
		start = 1
	}
	return d.ParallelRanges(ctx, Partition(Range{Start: start, End: d.cfg.Bound()}, opts.Shards), opts)
}

// ParallelRanges searches the given ranges concurrently, one goroutine each.
// The first match broadcasts cancellation to the other shards. An oracle
// failure in any shard aborts all of them and is returned.
func (d *Driver) ParallelRanges(ctx context.Context, ranges []Range, opts Options) (*Outcome, error) {
	flag := newCancellation(opts.StrictOrder)
	results := make([]ShardResult, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		g.Go(func() error {
			res, err := d.Run(gctx, r, flag.stop)
			if err != nil {
				return fmt.Errorf("shard %d [%d,%d): %w", i, r.Start, r.End, err)
			}
			if res.State == Found {
				flag.found(res.Index)
			}
			results[i] = ShardResult{Shard: i, Range: r, Result: res}
			if opts.OnShardDone != nil {
				opts.OnShardDone(results[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merge(results), nil
}

// merge picks the lowest-index match across shards, or Exhausted.
func merge(shards []ShardResult) *Outcome {
	out := &Outcome{
		Result: Result{State: Exhausted},
		Shards: shards,
	}
	for _, sr := range shards {
		out.Tried += sr.Tried
		if sr.State != Found {
			continue
		}
		if out.State != Found || sr.Index < out.Index {
			out.State = Found
			out.Candidate = sr.Candidate
			out.Index = sr.Index
		}
	}
	return out
}
