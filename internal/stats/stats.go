// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package stats implements the shared atomic mining counters every solver
// backend reports through: total hashes attempted, solutions found, and a
// windowed hash rate, the same three numbers the teacher's RandomX speed
// monitor tracks through its updateHashes channel, reimplemented here as a
// lock-free counter set so any number of worker goroutines can update it
// without a central dispatcher goroutine.
package stats

import (
	"math"
	"sync/atomic"
	"time"
)

func float64bits(f float64) uint64     { return math.Float64bits(f) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }

// Counters is a mining backend's live statistics. The zero value is ready
// to use. Safe for concurrent use by multiple worker goroutines.
type Counters struct {
	totalHashes    uint64
	solutionsFound uint64

	windowStart   int64 // unix nanos, atomically swapped
	windowHashes  uint64
	lastHashRate  uint64 // math.Float64bits of the last computed rate
}

// New returns a ready-to-use Counters, with the rate window anchored at now.
func New(now time.Time) *Counters {
	c := &Counters{}
	atomic.StoreInt64(&c.windowStart, now.UnixNano())
	return c
}

// AddHashes records n completed hash attempts.
func (c *Counters) AddHashes(n uint64) {
	atomic.AddUint64(&c.totalHashes, n)
	atomic.AddUint64(&c.windowHashes, n)
}

// AddSolution records one solved header.
func (c *Counters) AddSolution() {
	atomic.AddUint64(&c.solutionsFound, 1)
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	TotalHashes    uint64
	SolutionsFound uint64
	HashRate       float64 // hashes/sec over the current window
}

// Snapshot reads the current counters and, if at least minWindow has
// elapsed since the last window boundary, rolls the hash-rate window
// forward. Concurrent callers may race on the roll; the result is the same
// either way since windowHashes only grows between rolls.
func (c *Counters) Snapshot(now time.Time, minWindow time.Duration) Snapshot {
	start := atomic.LoadInt64(&c.windowStart)
	elapsed := now.Sub(time.Unix(0, start))

	if elapsed >= minWindow && elapsed > 0 {
		hashes := atomic.SwapUint64(&c.windowHashes, 0)
		rate := float64(hashes) / elapsed.Seconds()
		atomic.StoreUint64(&c.lastHashRate, float64bits(rate))
		atomic.StoreInt64(&c.windowStart, now.UnixNano())
	}

	return Snapshot{
		TotalHashes:    atomic.LoadUint64(&c.totalHashes),
		SolutionsFound: atomic.LoadUint64(&c.solutionsFound),
		HashRate:       float64frombits(atomic.LoadUint64(&c.lastHashRate)),
	}
}

// Reset zeroes every counter and re-anchors the rate window at now. Called
// at the start of each Mine invocation per spec.md's per-job stats reset.
func (c *Counters) Reset(now time.Time) {
	atomic.StoreUint64(&c.totalHashes, 0)
	atomic.StoreUint64(&c.solutionsFound, 0)
	atomic.StoreUint64(&c.windowHashes, 0)
	atomic.StoreUint64(&c.lastHashRate, 0)
	atomic.StoreInt64(&c.windowStart, now.UnixNano())
}
