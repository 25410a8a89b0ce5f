// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package solver

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stats"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// ConstDelay waits a fixed, non-random interval and then searches random
// nonces until one meets the target. Unlike Simulation's exponential wait,
// the wait is always delay, so with an easy target each call takes close to
// delay; useful for integration tests and demos where the timing of "work
// found" events must be predictable.
type ConstDelay struct {
	delay time.Duration
	rng   *rand.Rand

	mu      sync.Mutex
	cancel  context.CancelFunc
	counter *stats.Counters
}

// NewConstDelay returns a ConstDelay backend that always takes delay to
// solve.
func NewConstDelay(delay time.Duration) *ConstDelay {
	return &ConstDelay{
		delay:   delay,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		counter: stats.New(time.Now()),
	}
}

func (c *ConstDelay) Mine(ctx context.Context, req MineRequest) (work.Work, error) {
	c.counter.Reset(time.Now())

	mineCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	select {
	case <-time.After(c.delay):
	case <-mineCtx.Done():
		return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "constant-delay solver: mining cancelled")
	}

	w := req.Work
	for {
		c.mu.Lock()
		nonce := work.Nonce(c.rng.Uint64())
		c.mu.Unlock()
		w.SetNonce(nonce)
		digest := blake2s.Sum256(w.Bytes()[:])
		c.counter.AddHashes(1)
		if req.Target.MeetsDigest(digest) {
			c.counter.AddSolution()
			return w, nil
		}
		select {
		case <-mineCtx.Done():
			return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "constant-delay solver: mining cancelled")
		default:
		}
	}
}

func (c *ConstDelay) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *ConstDelay) Stats() Stats {
	return c.counter.Snapshot(time.Now(), minStatsWindow)
}
