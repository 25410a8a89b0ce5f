// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package solver

import (
	"context"
	"sync"
	"time"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/pow"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stats"
	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// KernelRunner abstracts a single GPU compute dispatch: search startNonce
// and above for a nonce meeting target, attempting up to batchSize hashes
// before returning. A real implementation wraps a vendor compute API
// (CUDA, OpenCL, Metal); none is specified here, only the contract, per the
// spec's GPU backend being out of scope beyond its trait.
type KernelRunner interface {
	// RunBatch dispatches one kernel invocation. found indicates a solving
	// nonce was located within the batch; hashesRun is always reported even
	// on a miss, for stats purposes.
	RunBatch(ctx context.Context, w work.Work, t target.Target, startNonce work.Nonce, batchSize uint64) (solved work.Work, found bool, hashesRun uint64, err error)
}

// GPU is the Solver wrapper around a KernelRunner: it owns the
// cancellation/stats/batching bookkeeping common to any batch-dispatch
// backend, and defers the actual hashing to whatever compute kernel is
// plugged in.
type GPU struct {
	kernel    KernelRunner
	batchSize uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	counter *stats.Counters
}

// NewGPU returns a GPU solver driving kernel in batches of batchSize
// hashes per dispatch.
func NewGPU(kernel KernelRunner, batchSize uint64) *GPU {
	if batchSize == 0 {
		batchSize = cancelCheckBatch
	}
	return &GPU{kernel: kernel, batchSize: batchSize, counter: stats.New(time.Now())}
}

func (g *GPU) Mine(ctx context.Context, req MineRequest) (work.Work, error) {
	g.counter.Reset(time.Now())

	mineCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()
	defer cancel()

	nonce := work.Nonce(0)
	for {
		select {
		case <-mineCtx.Done():
			return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "gpu solver: mining cancelled")
		default:
		}

		solved, found, hashesRun, err := g.kernel.RunBatch(mineCtx, req.Work, req.Target, nonce, g.batchSize)
		g.counter.AddHashes(hashesRun)
		if err != nil {
			return work.Work{}, mcerr.Wrap(mcerr.Worker, err, "gpu solver: kernel batch failed")
		}
		if found {
			if !pow.MeetsTarget(&solved, req.Target) {
				return work.Work{}, mcerr.New(mcerr.Validation, "gpu solver: kernel reported a solution that does not meet target")
			}
			g.counter.AddSolution()
			return solved, nil
		}

		nonce = work.Nonce(uint64(nonce) + g.batchSize)
	}
}

func (g *GPU) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (g *GPU) Stats() Stats {
	return g.counter.Snapshot(time.Now(), minStatsWindow)
}
