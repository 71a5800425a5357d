// Command loadtest drives POST /api/v1/recover with a fixed set of salted
// SHA-256 targets and reports throughput, latency percentiles, cache hits
// and status codes.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:8080] [-concurrency 10] [-duration 30s]
package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Bodies      [][]byte
}

type Stats struct {
	totalRequests atomic.Int64
	found         atomic.Int64
	exhausted     atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

type outcome struct {
	State  string `json:"state"`
	Cached bool   `json:"cached"`
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, out *outcome, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}

	switch {
	case statusCode != http.StatusOK || out == nil:
		s.errorCount.Add(1)
	case out.State == "found":
		s.found.Add(1)
	default:
		s.exhausted.Add(1)
	}
	if out != nil && out.Cached {
		s.cacheHits.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

// targets builds request bodies over a small lowercase keyspace. The last
// secret lies outside it, so every run also measures a full exhaustion.
func targets(salt string, maxLen int) [][]byte {
	secrets := []string{"a", "go", "key", "zzz", "abc", "hash", "pass", "salt", "q", "toolong"}
	bodies := make([][]byte, 0, len(secrets))
	for _, secret := range secrets {
		sum := sha256.Sum256([]byte(salt + secret))
		body, _ := json.Marshal(map[string]any{
			"hash":           hex.EncodeToString(sum[:]),
			"algorithm":      "sha256",
			"salt":           salt,
			"alphabet":       "abcdefghijklmnopqrstuvwxyz",
			"max_key_length": maxLen,
		})
		bodies = append(bodies, body)
	}
	return bodies
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the keyspace server")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	salt := flag.String("salt", "loadtest", "salt of the generated hashes")
	maxLen := flag.Int("max", 4, "max_key_length sent with every request")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Bodies:      targets(*salt, *maxLen),
	}

	fmt.Println("=== Keyspace Recovery Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Hashes:      %d unique\n", len(cfg.Bodies))
	fmt.Println()

	stats := runLoadTest(cfg)
	if !printReport(stats, cfg.Duration) {
		os.Exit(1)
	}
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := workerID; ctx.Err() == nil; i++ {
				body := cfg.Bodies[i%len(cfg.Bodies)]
				start := time.Now()
				status, out, err := recoverOnce(ctx, client, cfg.BaseURL, body)
				if ctx.Err() != nil {
					return
				}
				stats.RecordRequest(time.Since(start), status, out, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func recoverOnce(ctx context.Context, client *http.Client, baseURL string, body []byte) (int, *outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/recover", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil, nil
	}
	var out outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, &out, nil
}

func printReport(stats *Stats, duration time.Duration) bool {
	total := stats.totalRequests.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Found:           %d\n", stats.found.Load())
	fmt.Printf("Exhausted:       %d\n", stats.exhausted.Load())
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Cache Hits:      %d\n", stats.cacheHits.Load())

	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := slices.Clone(stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the server running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
