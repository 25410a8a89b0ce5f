// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/lru"

	"github.com/kadena-community/chainweb-mining-client-go/internal/pow"
	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// sessionState is the per-connection Stratum state machine, per spec.md
// section 4.5: Connected -> Subscribed -> Authorized -> Working, with any
// state able to transition to Closed on disconnect.
type sessionState int32

const (
	stateConnected sessionState = iota
	stateSubscribed
	stateAuthorized
	stateWorking
	stateClosed
)

// duplicateCacheSize bounds the per-session recent-share dedup set.
const duplicateCacheSize = 8192

// ntimeWindow bounds how far a submitted ntime may drift from now before a
// share is rejected as stale.
const ntimeWindow = 5 * time.Minute

// Session holds everything the server needs to validate shares from one
// downstream connection. It carries no reference back to the Server,
// per spec.md's cyclic-reference design note; the Server calls its
// methods directly, and they are guarded by the Session's own mutex.
type Session struct {
	ID uint64

	mu       sync.Mutex
	state    sessionState
	identity string // raw username, parsed as publicKey[.workerID]
	workerID string

	n1     uint64
	n1Size uint8

	target target.Target

	hashEstimator *hashRateEstimator
	difficulty    float64

	dup *lru.Cache // recent (job_id, nonce) pairs

	accepted uint64
	rejected uint64
	stale    uint64
}

// NewSession returns a fresh session in the Connected state.
func NewSession(id uint64, n1Size uint8) *Session {
	return &Session{
		ID:            id,
		state:         stateConnected,
		n1Size:        n1Size,
		dup:           lru.New(duplicateCacheSize),
		hashEstimator: newHashRateEstimator(time.Now()),
	}
}

// Subscribe derives the session's n1 from its connection identity and the
// server salt, and advances it to Subscribed.
func (s *Session) Subscribe(connIdentity, serverSalt string) (n1 uint64, n1Size uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n1 = deriveN1(connIdentity, serverSalt, s.n1Size)
	s.state = stateSubscribed
	return s.n1, s.n1Size
}

// Authorize parses username as publicKey[.workerID] and advances the
// session to Authorized. Later calls on the same connection with a
// different username overwrite the identity (latest wins), per spec.md.
func (s *Session) Authorize(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, worker, _ := strings.Cut(username, ".")
	s.identity = identity
	s.workerID = worker
	if s.state < stateAuthorized {
		s.state = stateAuthorized
	}
}

// IsAuthorized reports whether Authorize has been called.
func (s *Session) IsAuthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state >= stateAuthorized
}

// SetTarget installs a new session target and marks the session Working.
func (s *Session) SetTarget(t target.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
	if s.state < stateWorking {
		s.state = stateWorking
	}
}

func (s *Session) currentTarget() target.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Close marks the session Closed. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}

// Counters returns the session's share accounting.
func (s *Session) Counters() (accepted, rejected, stale uint64) {
	return atomic.LoadUint64(&s.accepted), atomic.LoadUint64(&s.rejected), atomic.LoadUint64(&s.stale)
}

// SubmitParams is one mining.submit request, already split into fields.
// Nonce is never sent over the wire: the full 64-bit nonce is recomposed
// from the session's assigned n1 and the miner-chosen Extranonce2.
type SubmitParams struct {
	Username    string
	JobID       string
	Extranonce2 string
	Ntime       string
}

// SubmitOutcome is the result of validating one share.
type SubmitOutcome struct {
	Accepted      bool
	MeetsUpstream bool
	Solved        work.Work
	Err           *RPCError
}

// dupKey is the duplicate-detection key: a share is a repeat submission
// only if it names the same job and the same miner-chosen extranonce2.
func dupKey(jobID, extranonce2 string) string {
	return jobID + ":" + extranonce2
}

// ValidateSubmit runs the share-validation ordering from spec.md section
// 4.5: structural checks, duplicate check, job lookup, ntime window,
// recompute hash, compare to session target then job target.
func (s *Session) ValidateSubmit(params SubmitParams, jobs *JobManager, now time.Time) SubmitOutcome {
	if !s.IsAuthorized() {
		atomic.AddUint64(&s.rejected, 1)
		return SubmitOutcome{Err: errUnauthorized}
	}

	n2, err := parseHexUint(params.Extranonce2)
	if err != nil {
		atomic.AddUint64(&s.rejected, 1)
		return SubmitOutcome{Err: errBadNonce}
	}
	ntime, err := parseHexUint(params.Ntime)
	if err != nil {
		atomic.AddUint64(&s.rejected, 1)
		return SubmitOutcome{Err: errBadNonce}
	}

	key := dupKey(params.JobID, params.Extranonce2)
	if s.dup.Contains(key) {
		atomic.AddUint64(&s.rejected, 1)
		return SubmitOutcome{Err: errDuplicate}
	}

	job, ok := jobs.Get(params.JobID)
	if !ok {
		atomic.AddUint64(&s.rejected, 1)
		return SubmitOutcome{Err: errStale}
	}

	submitTime := time.Unix(int64(ntime), 0)
	if submitTime.Before(now.Add(-ntimeWindow)) || submitTime.After(now.Add(ntimeWindow)) {
		atomic.AddUint64(&s.stale, 1)
		return SubmitOutcome{Err: errStale}
	}

	s.mu.Lock()
	n1 := s.n1
	n1Size := s.n1Size
	sessionTarget := s.target
	s.mu.Unlock()

	fullNonce := work.ComposeNonce(n1, n2, n1Size)
	w := job.Work
	w.SetNonce(fullNonce)

	s.dup.Add(key)

	if !pow.MeetsTarget(&w, sessionTarget) {
		atomic.AddUint64(&s.rejected, 1)
		return SubmitOutcome{Err: errLowDifficulty}
	}

	atomic.AddUint64(&s.accepted, 1)
	s.hashEstimator.recordShare(now, s.difficultyLocked())

	meetsUpstream := pow.MeetsTarget(&w, job.Target)
	return SubmitOutcome{Accepted: true, MeetsUpstream: meetsUpstream, Solved: w}
}

func (s *Session) difficultyLocked() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.difficulty
}

// SetDifficulty records the Stratum-style difficulty figure backing the
// current target, used by the adaptive hash-rate estimator.
func (s *Session) SetDifficulty(d float64) {
	s.mu.Lock()
	s.difficulty = d
	s.mu.Unlock()
}

func (s *Session) estimatedHashRate() float64 {
	return s.hashEstimator.estimate()
}

func parseHexUint(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%x", &v)
	return v, err
}
