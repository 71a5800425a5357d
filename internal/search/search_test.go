package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/keyspace"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/oracle"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

const testSalt = "50"

func sha256Matcher(t *testing.T, secret string) Matcher {
	t.Helper()
	alg, err := oracle.Get(oracle.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	target, err := alg.Hasher.Hash(secret, testSalt)
	if err != nil {
		t.Fatal(err)
	}
	m, err := oracle.NewMatcher(oracle.SHA256, target, testSalt)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func lowerConfig(maxLen int) Config {
	return Config{Alphabet: keyspace.MustAlphabet(keyspace.Lower), MaxKeyLength: maxLen}
}

func TestSearchFindsTwoLetterSecret(t *testing.T) {
	d, err := NewDriver(lowerConfig(2), sha256Matcher(t, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Search(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Found || res.Candidate != "hi" {
		t.Fatalf("got %+v, want Found(hi)", res)
	}
	want, _ := keyspace.Encode("hi", keyspace.MustAlphabet(keyspace.Lower))
	if res.Index != want || res.Tried != want {
		t.Errorf("index=%d tried=%d, want %d", res.Index, res.Tried, want)
	}
}

func TestSearchUnreachableSecretIsExhausted(t *testing.T) {
	d, err := NewDriver(lowerConfig(2), sha256Matcher(t, "zzz"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Search(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Exhausted {
		t.Fatalf("got %s, want exhausted", res.State)
	}
	if res.Tried != 26+676 {
		t.Errorf("tried %d candidates, want %d", res.Tried, 26+676)
	}
}

func TestSearchKeyTooLongShortCircuits(t *testing.T) {
	var calls atomic.Int64
	m := MatcherFunc(func(c string) (bool, error) {
		calls.Add(1)
		if len(c) > 1 {
			t.Errorf("matcher saw %q, longer than max key length", c)
		}
		return false, nil
	})
	cfg := Config{Alphabet: keyspace.MustAlphabet("ab"), MaxKeyLength: 1, IndexBound: 1000}
	d, err := NewDriver(cfg, m)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Search(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Exhausted || calls.Load() != 2 {
		t.Errorf("state=%s calls=%d, want exhausted after 2", res.State, calls.Load())
	}
}

func TestSearchStopsAtIndexBound(t *testing.T) {
	cfg := Config{Alphabet: keyspace.MustAlphabet(keyspace.Lower), MaxKeyLength: 4, IndexBound: 10}
	d, err := NewDriver(cfg, MatcherFunc(func(string) (bool, error) { return false, nil }))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Search(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Exhausted || res.Tried != 9 {
		t.Errorf("state=%s tried=%d, want exhausted after 9", res.State, res.Tried)
	}
}

func TestSearchShortestFirst(t *testing.T) {
	// "b" and "aa" collide; the shorter one must win
	m := MatcherFunc(func(c string) (bool, error) { return c == "aa" || c == "b", nil })
	d, err := NewDriver(Config{Alphabet: keyspace.MustAlphabet("ab"), MaxKeyLength: 3}, m)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Search(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Candidate != "b" {
		t.Errorf("got %q, want the shorter secret b", res.Candidate)
	}
}

func TestSearchOracleFailureIsFatal(t *testing.T) {
	boom := errors.New("bad salt")
	var calls int
	m := MatcherFunc(func(string) (bool, error) {
		calls++
		return false, boom
	})
	d, err := NewDriver(lowerConfig(2), m)
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Search(context.Background())
	if !errors.Is(err, apperrors.ErrOracleFailure) {
		t.Fatalf("want ErrOracleFailure, got %v", err)
	}
	if calls != 1 {
		t.Errorf("oracle called %d times, failures must not be retried", calls)
	}
}

func TestSearchHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := MatcherFunc(func(c string) (bool, error) {
		if c == "c" {
			cancel()
		}
		return false, nil
	})
	d, err := NewDriver(lowerConfig(3), m)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Search(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if res.Tried != 3 {
		t.Errorf("tried %d, want 3", res.Tried)
	}
}

func TestNewDriverValidates(t *testing.T) {
	if _, err := NewDriver(Config{MaxKeyLength: 2}, MatcherFunc(func(string) (bool, error) { return false, nil })); !errors.Is(err, apperrors.ErrInvalidArguments) {
		t.Errorf("empty alphabet: want ErrInvalidArguments, got %v", err)
	}
	if _, err := NewDriver(lowerConfig(2), nil); !errors.Is(err, apperrors.ErrInvalidArguments) {
		t.Errorf("nil matcher: want ErrInvalidArguments, got %v", err)
	}
}

func TestMaxKeyLengthZeroExhaustsImmediately(t *testing.T) {
	d, err := NewDriver(Config{Alphabet: keyspace.MustAlphabet("ab"), MaxKeyLength: 0, IndexBound: 50},
		MatcherFunc(func(string) (bool, error) { return true, nil }))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Search(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Exhausted || res.Tried != 0 {
		t.Errorf("got %+v, want exhausted without oracle calls", res)
	}
}

func TestPartition(t *testing.T) {
	got := Partition(Range{Start: 1, End: 11}, 3)
	want := []Range{{1, 5}, {5, 8}, {8, 11}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("shard %d: got %v, want %v", i, got[i], want[i])
		}
	}

	if got := Partition(Range{Start: 1, End: 3}, 8); len(got) != 2 {
		t.Errorf("more shards than indices: got %v", got)
	}
	if got := Partition(Range{Start: 5, End: 5}, 4); got != nil {
		t.Errorf("empty range: got %v", got)
	}
	if got := Partition(Range{Start: 1, End: 4}, 0); len(got) != 1 || got[0] != (Range{1, 4}) {
		t.Errorf("zero shards: got %v", got)
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	for _, secret := range []string{"a", "hi", "zz", "qq"} {
		d, err := NewDriver(lowerConfig(2), sha256Matcher(t, secret))
		if err != nil {
			t.Fatal(err)
		}
		out, err := d.Parallel(context.Background(), Options{Shards: 4})
		if err != nil {
			t.Fatal(err)
		}
		if out.State != Found || out.Candidate != secret {
			t.Errorf("secret %q: got %+v", secret, out.Result)
		}
		if len(out.Shards) != 4 {
			t.Errorf("got %d shard results, want 4", len(out.Shards))
		}
	}
}

func TestParallelExhausted(t *testing.T) {
	d, err := NewDriver(lowerConfig(2), sha256Matcher(t, "zzz"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Parallel(context.Background(), Options{Shards: 3})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != Exhausted || out.Tried != 702 {
		t.Errorf("got %+v, want exhausted after 702", out.Result)
	}
}

// Two shards [1,100) and [100,200); the secret sits at index 150. The first
// shard blocks inside the oracle until the second has reported, so it must
// observe the cancellation before finishing its range.
func TestParallelCancelsSiblingShards(t *testing.T) {
	alphabet := keyspace.MustAlphabet(keyspace.Lower)
	secret, err := keyspace.Decode(150, alphabet, 2)
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	var once sync.Once
	m := MatcherFunc(func(c string) (bool, error) {
		idx, err := keyspace.Encode(c, alphabet)
		if err != nil {
			return false, err
		}
		if idx < 100 {
			<-release
		}
		return c == secret, nil
	})

	d, err := NewDriver(Config{Alphabet: alphabet, MaxKeyLength: 2, IndexBound: 200}, m)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.ParallelRanges(context.Background(), []Range{{1, 100}, {100, 200}}, Options{
		OnShardDone: func(sr ShardResult) {
			if sr.State == Found {
				once.Do(func() { close(release) })
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if out.State != Found || out.Index != 150 || out.Candidate != secret {
		t.Fatalf("overall: got %+v", out.Result)
	}
	first, second := out.Shards[0], out.Shards[1]
	if first.State != Exhausted || !first.Cancelled {
		t.Errorf("first shard: got %+v, want cancelled exhaustion", first.Result)
	}
	if first.Tried >= 99 {
		t.Errorf("first shard tried %d candidates, it should have stopped early", first.Tried)
	}
	if second.State != Found || second.Index != 150 {
		t.Errorf("second shard: got %+v", second.Result)
	}
}

func TestParallelStrictOrderReportsLowestIndex(t *testing.T) {
	alphabet := keyspace.MustAlphabet(keyspace.Lower)
	// both "e" (index 5) and "et" (index 150) match; the later shard is fast
	release := make(chan struct{})
	var once sync.Once
	m := MatcherFunc(func(c string) (bool, error) {
		idx, _ := keyspace.Encode(c, alphabet)
		if idx < 100 {
			<-release
		}
		return c == "e" || c == "et", nil
	})
	d, err := NewDriver(Config{Alphabet: alphabet, MaxKeyLength: 2, IndexBound: 200}, m)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.ParallelRanges(context.Background(), []Range{{1, 100}, {100, 200}}, Options{
		StrictOrder: true,
		OnShardDone: func(ShardResult) { once.Do(func() { close(release) }) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Candidate != "e" || out.Index != 5 {
		t.Errorf("got %+v, want the lowest-index match e", out.Result)
	}
	if out.Shards[0].Cancelled {
		t.Error("strict order must not cancel shards below the match")
	}
}

func TestParallelOracleFailureAbortsAll(t *testing.T) {
	m := MatcherFunc(func(c string) (bool, error) {
		if c == "zz" {
			return false, errors.New("salt rejected")
		}
		return false, nil
	})
	d, err := NewDriver(lowerConfig(2), m)
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Parallel(context.Background(), Options{Shards: 4})
	if !errors.Is(err, apperrors.ErrOracleFailure) {
		t.Fatalf("want ErrOracleFailure, got %v", err)
	}
}

func TestParallelEmptySpace(t *testing.T) {
	d, err := NewDriver(Config{Alphabet: keyspace.MustAlphabet("ab"), MaxKeyLength: 2, IndexBound: 1},
		MatcherFunc(func(string) (bool, error) { return true, nil }))
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Parallel(context.Background(), Options{Shards: 2})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != Exhausted || len(out.Shards) != 0 {
		t.Errorf("got %+v", out)
	}
}

func BenchmarkSearchSequential(b *testing.B) {
	m := MatcherFunc(func(string) (bool, error) { return false, nil })
	d, _ := NewDriver(lowerConfig(3), m)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := d.Search(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	m := MatcherFunc(func(string) (bool, error) { return false, nil })
	d, _ := NewDriver(lowerConfig(3), m)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := d.Parallel(context.Background(), Options{Shards: 8}); err != nil {
			b.Fatal(err)
		}
	}
}
