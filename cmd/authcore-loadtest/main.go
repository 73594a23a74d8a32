// Command authcore-loadtest measures session store throughput. It seeds
// a corpus of sessions, then drives two phases against them from a
// worker pool: plain reads (the validate path) and refresh-hash
// rotations (the rotate CAS), reporting latency quantiles per phase.
//
// Point it at a real Redis with -redis-addr or REDIS_ADDR; otherwise it
// runs against an embedded miniredis, which measures client and script
// overhead rather than network round-trips.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oddsvault/authcore/session"
)

func main() {
	sessions := flag.Int("sessions", 100000, "number of sessions to seed")
	workers := flag.Int("concurrency", 256, "number of concurrent workers")
	ops := flag.Int("ops", 200000, "operations per phase")
	redisAddr := flag.String("redis-addr", "", "redis address; falls back to REDIS_ADDR, then embedded miniredis")
	flag.Parse()

	if *sessions <= 0 || *workers <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	ctx := context.Background()
	store := session.NewStore(client)

	fmt.Printf("seeding %d sessions...\n", *sessions)
	seedStart := time.Now()
	targets, err := seed(ctx, store, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(seedStart).Round(time.Millisecond))

	validate := runPhase(*ops, *workers, func(r *rand.Rand) error {
		_, err := store.Get(ctx, targets[r.Intn(len(targets))].sid)
		return err
	})
	rotate := runPhase(*ops, *workers, func(r *rand.Rand) error {
		return targets[r.Intn(len(targets))].rotate(ctx, store)
	})

	fmt.Println("---- results ----")
	fmt.Println("validate:", validate)
	fmt.Println("rotate:  ", rotate)
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("starting miniredis: %v", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using embedded miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// target is one seeded session plus its current refresh hash. The
// mutex serializes rotations so the local hash always matches Redis.
type target struct {
	sid  string
	mu   sync.Mutex
	hash string
	gen  int
}

func (t *target) rotate(ctx context.Context, store *session.Store) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	next := digest(fmt.Sprintf("%s:%d", t.sid, t.gen))
	if _, err := store.RotateRefreshHash(ctx, t.sid, t.hash, next); err != nil {
		return err
	}
	t.hash = next
	return nil
}

func seed(ctx context.Context, store *session.Store, n int) ([]*target, error) {
	now := time.Now()
	targets := make([]*target, n)
	for i := range targets {
		tg := &target{
			sid:  fmt.Sprintf("sid-%d", i),
			hash: digest(fmt.Sprintf("seed-%d", i)),
		}
		sess := &session.Session{
			ID:               tg.sid,
			AccountID:        "acct-loadtest",
			RefreshTokenHash: tg.hash,
			ClientIP:         "127.0.0.1",
			UserAgent:        "authcore-loadtest",
			CreatedAt:        now,
			LastSeenAt:       now,
			ExpiresAt:        now.Add(24 * time.Hour),
		}
		if err := store.Save(ctx, sess); err != nil {
			return nil, err
		}
		targets[i] = tg
	}
	return targets, nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// summary holds one phase's timing results.
type summary struct {
	total    time.Duration
	samples  []time.Duration
	failures int
}

func (s summary) quantile(q float64) time.Duration {
	if len(s.samples) == 0 {
		return 0
	}
	idx := int(q * float64(len(s.samples)-1))
	return s.samples[idx]
}

func (s summary) String() string {
	rate := float64(len(s.samples)) / s.total.Seconds()
	return fmt.Sprintf("ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s",
		len(s.samples), s.failures, s.total.Round(time.Millisecond), rate,
		s.quantile(0.50).Round(time.Microsecond),
		s.quantile(0.95).Round(time.Microsecond),
		s.quantile(0.99).Round(time.Microsecond))
}

type opResult struct {
	elapsed time.Duration
	failed  bool
}

// runPhase fans ops out over a worker pool, timing each op.
func runPhase(ops, workers int, op func(*rand.Rand) error) summary {
	jobs := make(chan struct{}, workers)
	results := make(chan opResult, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for range jobs {
				t0 := time.Now()
				err := op(r)
				results <- opResult{elapsed: time.Since(t0), failed: err != nil}
			}
		}(time.Now().UnixNano() + int64(w))
	}

	done := make(chan summary)
	go func() {
		var s summary
		s.samples = make([]time.Duration, 0, ops)
		for i := 0; i < ops; i++ {
			res := <-results
			s.samples = append(s.samples, res.elapsed)
			if res.failed {
				s.failures++
			}
		}
		done <- s
	}()

	start := time.Now()
	for i := 0; i < ops; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()

	s := <-done
	s.total = time.Since(start)
	sort.Slice(s.samples, func(i, j int) bool { return s.samples[i] < s.samples[j] })
	return s
}
