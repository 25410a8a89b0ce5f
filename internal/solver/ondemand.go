// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package solver

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stats"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// OnDemand is the deliberately non-compliant "make blocks on demand"
// backend: each HTTP trigger produces a header with a random nonce that is
// returned without ever checking it against the target. It only makes
// sense against node deployments that run with PoW validation disabled
// (devnets), and is fenced off behind AllowNonCompliant so it cannot be
// reached by accident; anything it produces must still be independently
// re-validated by any Stratum share-validation path it feeds, since this
// backend provides no proof of work at all.
type OnDemand struct {
	// AllowNonCompliant must be true or every Mine call fails closed. This
	// mirrors the config flag the CLI surface exposes; the backend itself
	// carries the gate so misuse fails even if the CLI wiring is bypassed.
	AllowNonCompliant bool

	trigger chan struct{}
	rng     *rand.Rand

	mu      sync.Mutex
	cancel  context.CancelFunc
	counter *stats.Counters
}

// NewOnDemand returns an OnDemand backend. allowNonCompliant must be set
// explicitly by the caller's configuration; there is no default-allow.
func NewOnDemand(allowNonCompliant bool) *OnDemand {
	return &OnDemand{
		AllowNonCompliant: allowNonCompliant,
		trigger:           make(chan struct{}, 1),
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		counter:           stats.New(time.Now()),
	}
}

// Trigger signals one pending Mine call to produce a block immediately.
// Non-blocking: a trigger received while no Mine call is outstanding is
// buffered for the next call.
func (o *OnDemand) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// ServeHTTP exposes Trigger as the "make blocks on demand" HTTP endpoint
// the CLI surface binds on the worker's local admin port.
func (o *OnDemand) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	o.Trigger()
	w.WriteHeader(http.StatusAccepted)
}

func (o *OnDemand) Mine(ctx context.Context, req MineRequest) (work.Work, error) {
	if !o.AllowNonCompliant {
		return work.Work{}, mcerr.New(mcerr.Config, "on-demand solver: disabled; set AllowNonCompliant to enable")
	}
	o.counter.Reset(time.Now())

	mineCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	select {
	case <-o.trigger:
	case <-mineCtx.Done():
		return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "on-demand solver: mining cancelled")
	}

	w := req.Work
	o.mu.Lock()
	nonce := work.Nonce(o.rng.Uint64())
	o.mu.Unlock()
	w.SetNonce(nonce)

	o.counter.AddHashes(1)
	o.counter.AddSolution()
	return w, nil
}

func (o *OnDemand) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *OnDemand) Stats() Stats {
	return o.counter.Snapshot(time.Now(), minStatsWindow)
}
