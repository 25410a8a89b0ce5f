// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/nodeclient"
	"github.com/kadena-community/chainweb-mining-client-go/internal/solver"
	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// fakeClient is an in-memory NodeClient double. Work returns the next
// queued job (or blocks briefly returning the last one repeatedly),
// Updates replays a scripted sequence of events, and Solved records every
// submission.
type fakeClient struct {
	mu        sync.Mutex
	workQueue []nodeclient.MiningJob
	workErr   error
	workCalls int
	workDelay time.Duration

	events chan nodeclient.UpdateEvent

	solvedMu  sync.Mutex
	solved    []work.Work
	solvedErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan nodeclient.UpdateEvent, 16)}
}

func (f *fakeClient) Work(ctx context.Context, miner nodeclient.Miner) (nodeclient.MiningJob, error) {
	f.mu.Lock()
	delay := f.workDelay
	f.workCalls++
	if f.workErr != nil {
		err := f.workErr
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		return nodeclient.MiningJob{}, err
	}
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.workQueue) == 0 {
		return nodeclient.MiningJob{}, mcerr.New(mcerr.Network, "fakeClient: no work queued")
	}
	job := f.workQueue[0]
	if len(f.workQueue) > 1 {
		f.workQueue = f.workQueue[1:]
	}
	return job, nil
}

func (f *fakeClient) Solved(ctx context.Context, w work.Work) error {
	f.solvedMu.Lock()
	defer f.solvedMu.Unlock()
	if f.solvedErr != nil {
		return f.solvedErr
	}
	f.solved = append(f.solved, w)
	return nil
}

func (f *fakeClient) Updates(ctx context.Context, chainID work.ChainID) (<-chan nodeclient.UpdateEvent, error) {
	return f.events, nil
}

func (f *fakeClient) solvedCount() int {
	f.solvedMu.Lock()
	defer f.solvedMu.Unlock()
	return len(f.solved)
}

func maxTargetJob(chainID work.ChainID, fill byte) nodeclient.MiningJob {
	var raw [work.Size]byte
	for i := range raw {
		raw[i] = fill
	}
	return nodeclient.MiningJob{ChainID: chainID, Target: target.Max(), Work: work.FromBytes(raw)}
}

func TestWorkRoundTripSolvesImmediatelyOnMaxTarget(t *testing.T) {
	client := newFakeClient()
	client.workQueue = []nodeclient.MiningJob{maxTargetJob(5, 0x42)}

	s := solver.NewCPU(2)
	o := New(client, s, nodeclient.Miner{Account: "k:abc"}, work.ChainID(5), DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return client.solvedCount() >= 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	client.solvedMu.Lock()
	solved := client.solved[0]
	client.solvedMu.Unlock()
	for i := 0; i < work.NonceOffset; i++ {
		require.Equal(t, byte(0x42), solved.Bytes()[i])
	}
}

// hangingSolver never returns until cancelled, recording how long Mine took
// to observe cancellation.
type hangingSolver struct {
	mu        sync.Mutex
	cancelled chan struct{}
	cancelAt  time.Time
}

func newHangingSolver() *hangingSolver {
	return &hangingSolver{cancelled: make(chan struct{}, 8)}
}

func (h *hangingSolver) Mine(ctx context.Context, req solver.MineRequest) (work.Work, error) {
	<-ctx.Done()
	h.mu.Lock()
	h.cancelAt = time.Now()
	h.mu.Unlock()
	select {
	case h.cancelled <- struct{}{}:
	default:
	}
	return work.Work{}, mcerr.Wrap(mcerr.Cancelled, ctx.Err(), "hangingSolver: cancelled")
}

func (h *hangingSolver) Stop()               {}
func (h *hangingSolver) Stats() solver.Stats { return solver.Stats{} }

func TestPreemptionStopsSolverPromptlyAndRefetches(t *testing.T) {
	client := newFakeClient()
	client.workQueue = []nodeclient.MiningJob{
		maxTargetJob(1, 0x01),
		maxTargetJob(1, 0x02),
	}

	s := newHangingSolver()
	cfg := DefaultConfig()
	cfg.MinPreemptInterval = time.Millisecond
	o := New(client, s, nodeclient.Miner{Account: "k:abc"}, work.ChainID(1), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go func() { _ = o.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	pulseTime := time.Now()
	client.events <- nodeclient.UpdateEvent{Kind: nodeclient.UpdateNewWork, ChainID: work.ChainID(1)}

	select {
	case <-s.cancelled:
	case <-time.After(time.Second):
		t.Fatal("solver was never cancelled by preemption")
	}

	s.mu.Lock()
	latency := s.cancelAt.Sub(pulseTime)
	s.mu.Unlock()
	require.Less(t, latency, 200*time.Millisecond)

	require.Equal(t, 0, client.solvedCount(), "no work should be submitted on a preempted cycle")
	require.Eventually(t, func() bool {
		return atomic.LoadUint64(&o.preemptionsTaken) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestPreemptionRateLimitsRapidPulses(t *testing.T) {
	client := newFakeClient()
	client.workQueue = []nodeclient.MiningJob{maxTargetJob(1, 0x01)}

	s := newHangingSolver()
	cfg := DefaultConfig()
	cfg.MinPreemptInterval = time.Hour // effectively never allow a second pulse
	o := New(client, s, nodeclient.Miner{Account: "k:abc"}, work.ChainID(1), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	go func() { _ = o.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	client.events <- nodeclient.UpdateEvent{Kind: nodeclient.UpdateNewWork, ChainID: work.ChainID(1)}
	<-s.cancelled

	// Second pulse immediately after should be rate-limited away.
	client.events <- nodeclient.UpdateEvent{Kind: nodeclient.UpdateNewWork, ChainID: work.ChainID(1)}
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, uint64(1), atomic.LoadUint64(&o.preemptionsTaken))
	require.GreaterOrEqual(t, atomic.LoadUint64(&o.preemptionsSkipped), uint64(1))
}

func TestRetryExhaustionLogsAndStaysAlive(t *testing.T) {
	client := newFakeClient()
	client.workErr = mcerr.New(mcerr.Network, "503 service unavailable")

	s := solver.NewCPU(1)
	o := New(client, s, nodeclient.Miner{Account: "k:abc"}, work.ChainID(1), DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, client.solvedCount())
}

func TestRefreshIfStaleUpdatesAgedTimestamp(t *testing.T) {
	var raw [work.Size]byte
	job := nodeclient.MiningJob{Work: work.FromBytes(raw)}
	require.Zero(t, job.Work.Timestamp())

	fetchStart := time.Now().Add(-3 * time.Second) // older than templateStaleAfter
	refreshIfStale(&job, fetchStart)

	got := time.Unix(int64(job.Work.Timestamp()), 0)
	require.WithinDuration(t, time.Now(), got, 2*time.Second)
}

func TestRefreshIfStaleLeavesFreshTimestampUnchanged(t *testing.T) {
	var raw [work.Size]byte
	job := nodeclient.MiningJob{Work: work.FromBytes(raw)}

	fetchStart := time.Now() // well within templateStaleAfter
	refreshIfStale(&job, fetchStart)

	require.Zero(t, job.Work.Timestamp())
}

func TestRunRefreshesTimestampAfterSlowFetch(t *testing.T) {
	prevStale := templateStaleAfter
	templateStaleAfter = 10 * time.Millisecond
	defer func() { templateStaleAfter = prevStale }()

	client := newFakeClient()
	client.workDelay = 30 * time.Millisecond
	client.workQueue = []nodeclient.MiningJob{maxTargetJob(1, 0x01)}

	s := solver.NewCPU(1)
	o := New(client, s, nodeclient.Miner{Account: "k:abc"}, work.ChainID(1), DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return client.solvedCount() >= 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	client.solvedMu.Lock()
	solved := client.solved[0]
	client.solvedMu.Unlock()
	require.NotZero(t, solved.Timestamp(), "slow fetch should have stamped the work's timestamp")
	require.WithinDuration(t, time.Now(), time.Unix(int64(solved.Timestamp()), 0), 5*time.Second)
}

func TestDifferentChainUpdateDoesNotPreempt(t *testing.T) {
	client := newFakeClient()
	client.workQueue = []nodeclient.MiningJob{maxTargetJob(1, 0x01)}

	s := newHangingSolver()
	o := New(client, s, nodeclient.Miner{Account: "k:abc"}, work.ChainID(1), DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go func() { _ = o.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	client.events <- nodeclient.UpdateEvent{Kind: nodeclient.UpdateNewWork, ChainID: work.ChainID(99)}

	select {
	case <-s.cancelled:
		t.Fatal("preemption fired for a different chain")
	case <-time.After(150 * time.Millisecond):
	}
}
