// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"container/list"
	"sync"
	"time"
)

// JobManager is the per-server registry of in-flight jobs, shared across
// every session. Jobs are addressable by id in O(1), evicted by LRU once
// the manager exceeds its configured size, and independently expired by
// age. It needs value storage alongside eviction, which the set-only
// decred/dcrd/lru.Cache contract does not provide (see the duplicate-share
// cache in session.go for where that library is used instead); this is a
// direct container/list-backed LRU, the same structure that library builds
// internally.
type JobManager struct {
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration

	order   *list.List               // front = most recently used
	entries map[string]*list.Element // job id -> list element
	counter jobIDCounter
}

type jobEntry struct {
	job *Job
}

// NewJobManager returns a JobManager bounded to maxSize jobs with the
// given time-to-live.
func NewJobManager(maxSize int, ttl time.Duration) *JobManager {
	if maxSize <= 0 {
		maxSize = 64
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &JobManager{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Add assigns job a fresh id, inserts it, and returns the stored copy. If
// cleanJobs is set, every existing job is purged first.
func (jm *JobManager) Add(job Job, cleanJobs bool) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if cleanJobs {
		jm.order.Init()
		jm.entries = make(map[string]*list.Element)
	}

	job.ID = jm.counter.nextID()
	job.CreatedAt = time.Now()
	job.CleanJobs = cleanJobs

	stored := job
	elem := jm.order.PushFront(&jobEntry{job: &stored})
	jm.entries[stored.ID] = elem

	jm.evictLocked()
	return &stored
}

// Get looks up a job by id. Expired jobs are treated as absent but are not
// evicted synchronously; Cleanup handles that.
func (jm *JobManager) Get(id string) (*Job, bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	elem, ok := jm.entries[id]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*jobEntry)
	if time.Since(entry.job.CreatedAt) > jm.ttl {
		return nil, false
	}
	jm.order.MoveToFront(elem)
	return entry.job, true
}

// Cleanup removes every job older than the configured TTL. Intended to be
// called periodically (see internal/stratum/scheduler.go).
func (jm *JobManager) Cleanup() int {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	removed := 0
	for id, elem := range jm.entries {
		entry := elem.Value.(*jobEntry)
		if time.Since(entry.job.CreatedAt) > jm.ttl {
			jm.order.Remove(elem)
			delete(jm.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the current number of tracked jobs (including any not yet
// swept by Cleanup).
func (jm *JobManager) Len() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return len(jm.entries)
}

// Front returns the most recently added job, if any.
func (jm *JobManager) Front() (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	elem := jm.order.Front()
	if elem == nil {
		return nil, false
	}
	return elem.Value.(*jobEntry).job, true
}

// evictLocked drops the least-recently-used job until the manager is back
// within maxSize. Caller must hold jm.mu.
func (jm *JobManager) evictLocked() {
	for jm.order.Len() > jm.maxSize {
		oldest := jm.order.Back()
		if oldest == nil {
			return
		}
		entry := oldest.Value.(*jobEntry)
		jm.order.Remove(oldest)
		delete(jm.entries, entry.job.ID)
	}
}
