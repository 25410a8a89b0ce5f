// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package solver defines the pluggable proof-of-work backend interface and
// the shared request/stats types every backend (cpu, external, simulation,
// constdelay, ondemand, gpu, stratum-front) is built against.
package solver

import (
	"context"
	"time"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stats"
	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// MineRequest is one unit of solving work handed to a Solver.
type MineRequest struct {
	ChainID work.ChainID
	Target  target.Target
	Work    work.Work
}

// Stats is a point-in-time snapshot of a solver's progress.
type Stats = stats.Snapshot

// Solver searches for a nonce that satisfies MineRequest.Target. Mine blocks
// until it finds a solution, ctx is cancelled, or Stop is called, whichever
// happens first; a cancelled/stopped Mine returns mcerr.Cancelled.
//
// Implementations must be safe for one Mine call at a time; Stop and Stats
// may be called concurrently with an in-flight Mine.
type Solver interface {
	Mine(ctx context.Context, req MineRequest) (work.Work, error)
	Stop()
	Stats() Stats
}

// ErrStopped is a Cancelled-kind error. The backends return their own
// mcerr.Cancelled errors; since mcerr.Error.Is compares kinds,
// errors.Is(err, ErrStopped) matches any of them.
var ErrStopped = mcerr.New(mcerr.Cancelled, "solver: stopped")

// minStatsWindow is the minimum interval between hash-rate window rolls,
// shared by every backend's Counters.Snapshot call.
const minStatsWindow = time.Second
