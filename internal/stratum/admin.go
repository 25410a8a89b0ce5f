// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// SessionStats is one connected miner's accounting, as reported by the
// admin endpoint.
type SessionStats struct {
	ID         uint64 `json:"id"`
	Identity   string `json:"identity"`
	WorkerID   string `json:"worker_id,omitempty"`
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Stale      uint64 `json:"stale"`
	Authorized bool   `json:"authorized"`
}

// PoolStats is the admin endpoint's top-level response.
type PoolStats struct {
	ConnectedSessions int            `json:"connected_sessions"`
	JobsCached        int            `json:"jobs_cached"`
	AcceptedShares    uint64         `json:"accepted_shares_total"`
	HashRate          float64        `json:"hash_rate"`
	Sessions          []SessionStats `json:"sessions"`
}

// Snapshot gathers a point-in-time view of every connected session.
func (s *Server) Snapshot() PoolStats {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.sessions))
	for _, c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	out := PoolStats{
		ConnectedSessions: len(conns),
		JobsCached:        s.jobs.Len(),
	}
	snap := s.counter.Snapshot(time.Now(), 0)
	out.AcceptedShares = snap.SolutionsFound
	out.HashRate = snap.HashRate

	for _, c := range conns {
		accepted, rejected, stale := c.session.Counters()
		c.session.mu.Lock()
		identity, worker := c.session.identity, c.session.workerID
		authorized := c.session.state >= stateAuthorized
		c.session.mu.Unlock()
		out.Sessions = append(out.Sessions, SessionStats{
			ID:         c.id,
			Identity:   identity,
			WorkerID:   worker,
			Accepted:   accepted,
			Rejected:   rejected,
			Stale:      stale,
			Authorized: authorized,
		})
	}
	return out
}

// AdminRouter returns a gorilla/mux router exposing /stats as JSON, for
// embedding in the main process's HTTP mux alongside other admin surfaces.
func (s *Server) AdminRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		log.Warnf("stratum: admin: encoding stats: %v", err)
	}
}
