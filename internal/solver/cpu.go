// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package solver

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/crypto/blake2s"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stats"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

var log = btclog.Disabled

// UseLogger installs the package-wide logger.
func UseLogger(logger btclog.Logger) { log = logger }

const (
	// cancelCheckBatch is the number of hashes a worker computes between
	// cancellation checks, per spec.md's 10^5 bound on preemption latency.
	cancelCheckBatch = 100_000
	// yieldBatch is the number of hashes between cooperative yields, so a
	// GOMAXPROCS-starved scheduler still gets to run other goroutines.
	yieldBatch = 1_000_000
	// threadIDShift places the worker's thread id in the upper 16 bits of
	// its starting nonce, guaranteeing disjoint per-thread nonce ranges.
	threadIDShift = 48
)

// CPU is the reference software solver: a fixed pool of worker goroutines,
// each searching a disjoint slice of the 64-bit nonce space by thread id in
// the upper 16 bits of its starting nonce.
type CPU struct {
	threads int

	mu      sync.Mutex
	cancel  context.CancelFunc
	counter *stats.Counters
}

// NewCPU returns a CPU solver with the given worker count. threads <= 0
// defaults to runtime.NumCPU(), capped at 2^16-1 so thread ids fit the
// reserved upper 16 bits of the nonce.
func NewCPU(threads int) *CPU {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if threads > 0xFFFF {
		threads = 0xFFFF
	}
	return &CPU{threads: threads, counter: stats.New(time.Now())}
}

// Mine searches for a solving nonce across c.threads worker goroutines. The
// first worker to find a solution wins; the others are cancelled.
func (c *CPU) Mine(ctx context.Context, req MineRequest) (work.Work, error) {
	c.counter.Reset(time.Now())

	mineCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	type result struct {
		w   work.Work
		err error
	}
	results := make(chan result, c.threads)

	var wg sync.WaitGroup
	for id := 0; id < c.threads; id++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			w, err := c.searchThread(mineCtx, req, uint16(threadID))
			select {
			case results <- result{w: w, err: err}:
			default:
			}
		}(id)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case r := <-results:
		cancel()
		<-done
		if r.err != nil {
			return work.Work{}, r.err
		}
		c.counter.AddSolution()
		return r.w, nil
	case <-mineCtx.Done():
		<-done
		return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "cpu solver: mining cancelled")
	}
}

// searchThread is one worker's inner loop: increment local nonce, write it
// into the header, hash, compare. It checks ctx every cancelCheckBatch
// hashes and yields every yieldBatch hashes.
func (c *CPU) searchThread(ctx context.Context, req MineRequest, threadID uint16) (work.Work, error) {
	w := req.Work
	nonce := work.Nonce(uint64(threadID) << threadIDShift)

	hashesSinceCheck := 0
	hashesSinceYield := 0

	for {
		w.SetNonce(nonce)
		digest := blake2s.Sum256(w.Bytes()[:])

		if req.Target.MeetsDigest(digest) {
			c.counter.AddHashes(uint64(hashesSinceCheck) + 1)
			return w, nil
		}

		nonce = nonce.Increment()
		hashesSinceCheck++
		hashesSinceYield++

		if hashesSinceCheck >= cancelCheckBatch {
			c.counter.AddHashes(uint64(hashesSinceCheck))
			hashesSinceCheck = 0
			select {
			case <-ctx.Done():
				return work.Work{}, mcerr.Wrap(mcerr.Cancelled, ctx.Err(), "cpu solver: mining cancelled")
			default:
			}
		}

		if hashesSinceYield >= yieldBatch {
			hashesSinceYield = 0
			runtime.Gosched()
		}
	}
}

// Stop cancels any in-flight Mine call. Safe to call with no Mine running.
func (c *CPU) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stats returns the current hash-rate snapshot.
func (c *CPU) Stats() Stats {
	return c.counter.Snapshot(time.Now(), minStatsWindow)
}
