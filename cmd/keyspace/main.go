// Command keyspace recovers the secret behind a salted hash by enumerating
// every candidate over an alphabet, shortest first.
//
// Usage:
//
//	keyspace [flags] <hash>
//
// Shards search in parallel; the reported secret is the shortest (lowest
// index) match unless -strict=false is given.
//
// The secret is printed on stdout. Exit status: 0 found, 1 exhausted,
// 2 invalid arguments, 3 hash oracle failure, 4 aborted.
//
// With -remote host:port the search runs on a keyspace server over RPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/events"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/keyspace"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/search"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/proto"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath string
	algorithm  string
	salt       string
	alphabet   string
	maxLen     int
	bound      uint64
	shards     int
	strict     bool
	start      string
	startIndex uint64
	remote     string
	timeout    time.Duration
	logLevel   string
	verbose    bool
	set        map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, string, error) {
	fs := flag.NewFlagSet("keyspace", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: keyspace [flags] <hash>\n\n")
		fs.PrintDefaults()
	}

	o := &options{set: make(map[string]bool)}
	fs.StringVar(&o.configPath, "config", "", "optional YAML config file")
	fs.StringVar(&o.algorithm, "alg", "", "hash algorithm (des, sha256, sha512, bcrypt); detected from the hash when empty")
	fs.StringVar(&o.salt, "salt", "", "salt passed to the hash; derived from the hash when empty")
	fs.StringVar(&o.alphabet, "alphabet", "", "ordered candidate symbols (default a-zA-Z)")
	fs.IntVar(&o.maxLen, "max", 0, "maximum key length (default 4)")
	fs.Uint64Var(&o.bound, "bound", 0, "exclusive upper bound of the index space; 0 covers every key up to -max")
	fs.IntVar(&o.shards, "shards", 0, "concurrent index ranges; 0 means one per CPU")
	fs.BoolVar(&o.strict, "strict", true, "report the lowest-index (shortest) match even when several candidates collide; -strict=false stops at the first match any shard finds")
	fs.StringVar(&o.start, "start", "", "resume the search at this candidate")
	fs.Uint64Var(&o.startIndex, "start-index", 0, "resume the search at this index")
	fs.StringVar(&o.remote, "remote", "", "run the search on a keyspace server (host:port)")
	fs.DurationVar(&o.timeout, "timeout", 0, "abort the search after this long (0 = config default)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level on stderr (debug, info, warn, error)")
	fs.BoolVar(&o.verbose, "v", false, "print search statistics on stderr")

	if err := fs.Parse(args); err != nil {
		return nil, "", fmt.Errorf("%w: %w", apperrors.ErrInvalidArguments, err)
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, "", fmt.Errorf("%w: expected exactly one hash argument, got %d", apperrors.ErrInvalidArguments, fs.NArg())
	}
	if o.start != "" && o.set["start-index"] {
		return nil, "", fmt.Errorf("%w: -start and -start-index are mutually exclusive", apperrors.ErrInvalidArguments)
	}
	return o, fs.Arg(0), nil
}

func (o *options) request(hash string) recovery.Request {
	req := recovery.Request{
		Hash:           hash,
		Algorithm:      o.algorithm,
		Salt:           o.salt,
		Alphabet:       o.alphabet,
		IndexBound:     o.bound,
		Start:          o.startIndex,
		StartCandidate: o.start,
		Shards:         o.shards,
		StrictOrder:    o.strict,
		NoCache:        true,
		Source:         events.SourceLocal,
	}
	if o.set["max"] {
		n := o.maxLen
		req.MaxKeyLength = &n
	}
	return req
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, hash, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return apperrors.ExitUsage
	}
	if err != nil {
		fmt.Fprintf(stderr, "keyspace: %v\n", err)
		return apperrors.ExitUsage
	}
	logger.SetupWriter(stderr, opts.logLevel, "text")

	var out *recovery.Outcome
	if opts.remote != "" {
		out, err = recoverRemote(ctx, opts, hash)
	} else {
		out, err = recoverLocal(ctx, opts, hash)
	}
	if err != nil {
		fmt.Fprintf(stderr, "keyspace: %v\n", err)
		return apperrors.ExitCode(err)
	}

	if opts.verbose {
		fmt.Fprintf(stderr, "algorithm=%s tried=%d shards=%d duration=%dms\n",
			out.Algorithm, out.Tried, out.Shards, out.DurationMs)
	}
	if out.State != search.Found {
		fmt.Fprintln(stdout, "No match found.")
		return apperrors.ExitExhausted
	}
	fmt.Fprintln(stdout, out.Secret)
	return apperrors.ExitFound
}

func recoverLocal(ctx context.Context, opts *options, hash string) (*recovery.Outcome, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidArguments, err)
		}
		cfg = loaded
	}
	defaults := cfg.Recovery
	// The request cap protects the HTTP API; a local search may be as large
	// as the operator asks for.
	defaults.MaxIndexBound = 0
	if opts.set["timeout"] {
		defaults.Timeout = opts.timeout
	}

	svc, err := recovery.NewService(defaults)
	if err != nil {
		return nil, err
	}
	slog.Debug("starting local search", "hash", hash)
	return svc.Recover(ctx, opts.request(hash))
}

func recoverRemote(ctx context.Context, opts *options, hash string) (*recovery.Outcome, error) {
	req := opts.request(hash)
	if req.StartCandidate != "" {
		// The RPC carries indices only, so the candidate is encoded here.
		if req.Alphabet == "" {
			return nil, fmt.Errorf("%w: -start with -remote needs an explicit -alphabet", apperrors.ErrInvalidArguments)
		}
		alphabet, err := keyspace.NewAlphabet(req.Alphabet)
		if err != nil {
			return nil, err
		}
		if req.Start, err = keyspace.Encode(req.StartCandidate, alphabet); err != nil {
			return nil, err
		}
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	client, err := grpc.Dial(ctx, opts.remote)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var resp proto.RecoverResponse
	if err := client.Call(ctx, proto.MethodRecover, req.ToProto(), &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && opts.timeout > 0 {
			return nil, fmt.Errorf("%w: remote search exceeded %v", apperrors.ErrTimeout, opts.timeout)
		}
		return nil, err
	}
	return recovery.OutcomeFromProto(&resp)
}
