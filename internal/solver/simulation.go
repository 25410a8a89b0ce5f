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

// Simulation models a miner whose attempt rate is not limited by the
// calling machine's actual hash speed: it waits an interval drawn from an
// exponential distribution (memoryless, matching the real PoW search
// process) with the given mean, then performs one real Blake2s attempt
// against a fresh random nonce. If that attempt happens not to meet
// target, it waits again. This makes the simulated solve time statistically
// match what a solver hashing at meanInterval's implied rate would see,
// while every returned header is a genuinely valid solution.
type Simulation struct {
	meanInterval time.Duration
	rng          *rand.Rand

	mu      sync.Mutex
	cancel  context.CancelFunc
	counter *stats.Counters
}

// NewSimulation returns a Simulation backend that attempts roughly once
// every meanInterval on average.
func NewSimulation(meanInterval time.Duration) *Simulation {
	return &Simulation{
		meanInterval: meanInterval,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		counter:      stats.New(time.Now()),
	}
}

func (s *Simulation) Mine(ctx context.Context, req MineRequest) (work.Work, error) {
	s.counter.Reset(time.Now())

	mineCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	w := req.Work
	for {
		wait := s.nextInterval()
		select {
		case <-time.After(wait):
		case <-mineCtx.Done():
			return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "simulation solver: mining cancelled")
		}

		s.mu.Lock()
		nonce := work.Nonce(s.rng.Uint64())
		s.mu.Unlock()
		w.SetNonce(nonce)
		digest := blake2s.Sum256(w.Bytes()[:])
		s.counter.AddHashes(1)

		if req.Target.MeetsDigest(digest) {
			s.counter.AddSolution()
			return w, nil
		}
	}
}

// nextInterval draws from Exp(1/meanInterval), the interarrival distribution
// of a Poisson process — the standard model for "time until next success"
// when each independent trial has a fixed small success probability.
func (s *Simulation) nextInterval() time.Duration {
	if s.meanInterval <= 0 {
		return 0
	}
	s.mu.Lock()
	u := s.rng.ExpFloat64()
	s.mu.Unlock()
	return time.Duration(u * float64(s.meanInterval))
}

func (s *Simulation) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Simulation) Stats() Stats {
	return s.counter.Snapshot(time.Now(), minStatsWindow)
}
