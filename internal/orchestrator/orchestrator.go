// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package orchestrator drives the work/mine/submit cycle: fetch a job from
// the node, hand it to a solver, race the solver's completion against
// update-stream preemption pulses and a per-cycle timeout, submit whatever
// is solved, and repeat. It is the Idle/HaveWork/Mining/Submitting state
// machine described by the node-client and solver packages' contracts.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/time/rate"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/nodeclient"
	"github.com/kadena-community/chainweb-mining-client-go/internal/solver"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

var log = btclog.Disabled

// UseLogger installs the package-wide logger.
func UseLogger(logger btclog.Logger) { log = logger }

// NodeClient is the subset of nodeclient.Client the orchestrator depends
// on, narrowed to an interface so tests can substitute a fake node.
type NodeClient interface {
	Work(ctx context.Context, miner nodeclient.Miner) (nodeclient.MiningJob, error)
	Solved(ctx context.Context, w work.Work) error
	Updates(ctx context.Context, chainID work.ChainID) (<-chan nodeclient.UpdateEvent, error)
}

// Config tunes preemption and timeout behavior. The zero value is not
// valid; use DefaultConfig.
type Config struct {
	// MinPreemptInterval rate-limits update-stream pulses; a pulse arriving
	// sooner than this after the last one taken is ignored.
	MinPreemptInterval time.Duration
	// UpdateTimeout bounds how long a single mine cycle runs, measured from
	// the cycle's start, before it is cancelled and restarted.
	UpdateTimeout time.Duration
	// SkipIdenticalWork suppresses a preemption whose refetched work is
	// byte-identical (modulo the nonce slot) to the work already being
	// mined for the same chain.
	SkipIdenticalWork bool
}

// DefaultConfig returns the spec-mandated defaults: 100ms minimum
// preemption interval, 150s update timeout, preempt on every pulse.
func DefaultConfig() Config {
	return Config{
		MinPreemptInterval: 100 * time.Millisecond,
		UpdateTimeout:      150 * time.Second,
		SkipIdenticalWork:  false,
	}
}

// templateStaleAfter bounds how long a Work fetch may take before its
// embedded timestamp is assumed stale. A /work round trip blocked this
// long by the retry layer has likely sat in flight long enough that the
// template's own timestamp field no longer reflects "now". A var, not a
// const, so tests can shrink it rather than waiting out a real 2s fetch.
var templateStaleAfter = 2 * time.Second

// refreshIfStale stamps job.Work's fixed-offset timestamp field with the
// current time when fetchStart is more than templateStaleAfter in the
// past, per spec.md section 3: the timestamp field is "updated by the
// orchestrator when it believes the template has aged, before giving it
// to the solver".
func refreshIfStale(job *nodeclient.MiningJob, fetchStart time.Time) {
	if time.Since(fetchStart) > templateStaleAfter {
		job.Work.SetTimestamp(uint64(time.Now().Unix()))
	}
}

// Stats are the orchestrator's own cross-cutting preemption counters,
// distinct from a solver's hash-rate stats.
type Stats struct {
	PreemptionsTaken   uint64
	PreemptionsSkipped uint64
	IdenticalWorkSkips uint64
	CyclesCompleted    uint64
	SubmitFailures     uint64
}

// Orchestrator runs the fetch/mine/submit loop for one chain against one
// solver. Construct one per mined chain.
type Orchestrator struct {
	client  NodeClient
	solver  solver.Solver
	miner   nodeclient.Miner
	chainID work.ChainID
	cfg     Config

	limiter *rate.Limiter

	preemptionsTaken   uint64
	preemptionsSkipped uint64
	identicalSkips     uint64
	cyclesCompleted    uint64
	submitFailures     uint64
}

// New constructs an Orchestrator for chainID, fetching work for miner
// through client and solving it with s.
func New(client NodeClient, s solver.Solver, miner nodeclient.Miner, chainID work.ChainID, cfg Config) *Orchestrator {
	if cfg.MinPreemptInterval <= 0 {
		cfg.MinPreemptInterval = DefaultConfig().MinPreemptInterval
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = DefaultConfig().UpdateTimeout
	}
	return &Orchestrator{
		client:  client,
		solver:  s,
		miner:   miner,
		chainID: chainID,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinPreemptInterval), 1),
	}
}

// Stats returns a snapshot of the preemption/submission counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		PreemptionsTaken:   atomic.LoadUint64(&o.preemptionsTaken),
		PreemptionsSkipped: atomic.LoadUint64(&o.preemptionsSkipped),
		IdenticalWorkSkips: atomic.LoadUint64(&o.identicalSkips),
		CyclesCompleted:    atomic.LoadUint64(&o.cyclesCompleted),
		SubmitFailures:     atomic.LoadUint64(&o.submitFailures),
	}
}

// Run drives the loop until ctx is cancelled. It never returns a non-nil
// error for ordinary operational failures (network errors, submit
// failures) — those are logged and the loop continues from Idle, per
// spec.md's "does not crash" requirement. It returns an error if the
// update stream cannot be opened at startup; otherwise it returns only
// when ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	updates, err := o.client.Updates(ctx, o.chainID)
	if err != nil {
		return mcerr.Wrap(mcerr.Network, err, "orchestrator: opening update stream for chain %d", o.chainID)
	}

	var pending *nodeclient.MiningJob
	for {
		if ctx.Err() != nil {
			return nil
		}

		var job nodeclient.MiningJob
		if pending != nil {
			job, pending = *pending, nil
		} else {
			fetchStart := time.Now()
			fetched, err := o.client.Work(ctx, o.miner)
			if err != nil {
				if mcerr.IsKind(err, mcerr.Cancelled) {
					return nil
				}
				log.Warnf("orchestrator: chain %d: get_work failed: %v", o.chainID, err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
				continue
			}
			refreshIfStale(&fetched, fetchStart)
			job = fetched
		}

		solved, ok, next := o.mineCycle(ctx, job, updates)
		if ctx.Err() != nil {
			return nil
		}
		if !ok {
			pending = next
			continue
		}

		if err := o.client.Solved(ctx, solved); err != nil {
			atomic.AddUint64(&o.submitFailures, 1)
			log.Warnf("orchestrator: chain %d: submit failed: %v", o.chainID, err)
		} else {
			log.Infof("orchestrator: chain %d: solved work submitted", o.chainID)
		}
		atomic.AddUint64(&o.cyclesCompleted, 1)
	}
}

// mineCycle runs one HaveWork->Mining transition, racing the solver
// against update-stream preemption and the per-cycle timeout. It returns
// (solvedWork, true, nil) on success, or (zero, false, next) if the cycle
// ended without a solution; next is a pre-fetched job to use for the
// following cycle without an extra round-trip when preemption already
// fetched one, or nil if the outer loop must fetch fresh.
func (o *Orchestrator) mineCycle(ctx context.Context, job nodeclient.MiningJob, updates <-chan nodeclient.UpdateEvent) (work.Work, bool, *nodeclient.MiningJob) {
	mineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	currentJob := job
	solvedCh := make(chan mineResult, 1)
	go func() {
		w, err := o.solver.Mine(mineCtx, solver.MineRequest{ChainID: currentJob.ChainID, Target: currentJob.Target, Work: currentJob.Work})
		solvedCh <- mineResult{w: w, err: err}
	}()

	timeout := time.NewTimer(o.cfg.UpdateTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			o.solver.Stop()
			<-solvedCh
			return work.Work{}, false, nil

		case r := <-solvedCh:
			if r.err != nil {
				return work.Work{}, false, nil
			}
			return r.w, true, nil

		case <-timeout.C:
			log.Debugf("orchestrator: chain %d: update timeout, restarting cycle", o.chainID)
			o.solver.Stop()
			<-solvedCh
			return work.Work{}, false, nil

		case ev := <-updates:
			if ev.ChainID != o.chainID {
				continue
			}
			if ev.Kind != nodeclient.UpdateNewWork {
				continue
			}

			if !o.limiter.Allow() {
				atomic.AddUint64(&o.preemptionsSkipped, 1)
				continue
			}

			fetchStart := time.Now()
			newJob, err := o.client.Work(ctx, o.miner)
			if err != nil {
				log.Warnf("orchestrator: chain %d: preemption refetch failed: %v", o.chainID, err)
				continue
			}
			refreshIfStale(&newJob, fetchStart)

			if o.cfg.SkipIdenticalWork && newJob.ChainID == currentJob.ChainID && newJob.Work.EqualModuloNonce(currentJob.Work) {
				atomic.AddUint64(&o.identicalSkips, 1)
				continue
			}

			atomic.AddUint64(&o.preemptionsTaken, 1)
			o.solver.Stop()
			<-solvedCh
			return work.Work{}, false, &newJob
		}
	}
}

type mineResult struct {
	w   work.Work
	err error
}
