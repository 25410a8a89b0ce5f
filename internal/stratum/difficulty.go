// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"sync"
	"time"

	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
)

// DifficultyMode selects how a session's acceptance target is computed.
type DifficultyMode int

const (
	// ModeBlock sets the session target equal to the job's upstream
	// target: every accepted share is also a block share.
	ModeBlock DifficultyMode = iota
	// ModeFixedLevel sets every session's target to max_target >> Level.
	ModeFixedLevel
	// ModeAdaptive tracks each session's share rate and retargets toward
	// TargetPeriod.
	ModeAdaptive
)

// DifficultyConfig configures the three modes; only the fields relevant to
// the selected Mode are read.
type DifficultyConfig struct {
	Mode DifficultyMode

	FixedLevel uint

	AdaptiveTargetPeriod time.Duration
	AdaptiveTolerance    float64 // fraction, e.g. 0.2 for +/-20%
	AdaptiveWindow       time.Duration
}

const (
	minAdaptiveDifficulty = 1.0
	maxAdaptiveDifficulty = 1e15
)

// hashRateEstimator tracks a session's recent hashing speed with the same
// exponential moving average Eacred-eacrpool's Client.setHashRate uses:
// each sample is averaged 50/50 against the running estimate, so recent
// activity dominates without a single noisy sample swinging the estimate.
type hashRateEstimator struct {
	mu           sync.Mutex
	hashesPerSec float64
	windowStart  time.Time
	windowHashes uint64
}

func newHashRateEstimator(now time.Time) *hashRateEstimator {
	return &hashRateEstimator{windowStart: now}
}

// recordShare folds in one accepted share at the given difficulty, treating
// it as evidence of roughly `difficulty` hash attempts since the last
// share.
func (h *hashRateEstimator) recordShare(now time.Time, difficulty float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	elapsed := now.Sub(h.windowStart).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}
	sample := difficulty / elapsed

	if h.hashesPerSec == 0 {
		h.hashesPerSec = sample
	} else {
		h.hashesPerSec = (h.hashesPerSec + sample) / 2
	}
	h.windowStart = now
}

func (h *hashRateEstimator) estimate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hashesPerSec
}

// adjustDifficulty implements the spec's adaptive retarget rule: if the
// observed period is within tolerance of the target period, the difficulty
// is unchanged; otherwise it moves toward the target period, clamped to
// [1, 1e15].
func adjustDifficulty(currentDifficulty, hashRate float64, targetPeriod time.Duration, tolerance float64) (newDifficulty float64, changed bool) {
	if hashRate <= 0 || targetPeriod <= 0 {
		return currentDifficulty, false
	}

	currentPeriod := currentDifficulty / hashRate
	targetSecs := targetPeriod.Seconds()

	deviation := (currentPeriod - targetSecs) / targetSecs
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation <= tolerance {
		return currentDifficulty, false
	}

	next := currentDifficulty * targetSecs / currentPeriod
	if next < minAdaptiveDifficulty {
		next = minAdaptiveDifficulty
	}
	if next > maxAdaptiveDifficulty {
		next = maxAdaptiveDifficulty
	}
	return next, true
}

// targetForDifficulty converts a Stratum-style difficulty figure into a
// Target, saturating at target.Max() for difficulty <= 1.
func targetForDifficulty(difficulty float64) (target.Target, error) {
	return target.FromDifficulty(difficulty)
}
