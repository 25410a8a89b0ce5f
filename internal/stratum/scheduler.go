// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"github.com/robfig/cron"
)

// Scheduler runs periodic maintenance against a Server: expiring stale
// jobs from the JobManager and logging a stats snapshot.
type Scheduler struct {
	server *Server
	cron   *cron.Cron
}

// NewScheduler builds a Scheduler bound to server. Call Start to begin
// running its jobs and Stop to halt them.
func NewScheduler(server *Server) *Scheduler {
	return &Scheduler{
		server: server,
		cron:   cron.New(),
	}
}

// Start registers the maintenance jobs and starts the cron scheduler.
// cleanupSpec and statsSpec are robfig/cron v1 specs: a descriptor such as
// "@every 1m", or a cron expression whose first field is seconds; an empty
// spec disables that job.
func (sch *Scheduler) Start(cleanupSpec, statsSpec string) error {
	if cleanupSpec != "" {
		if err := sch.cron.AddFunc(cleanupSpec, sch.runCleanup); err != nil {
			return err
		}
	}
	if statsSpec != "" {
		if err := sch.cron.AddFunc(statsSpec, sch.runStatsLog); err != nil {
			return err
		}
	}
	sch.cron.Start()
	return nil
}

// Stop halts the scheduler. Any job already running completes in the
// background; robfig/cron v1 does not expose a wait-for-completion hook.
func (sch *Scheduler) Stop() {
	sch.cron.Stop()
}

func (sch *Scheduler) runCleanup() {
	removed := sch.server.jobs.Cleanup()
	if removed > 0 {
		log.Debugf("stratum: scheduler: expired %d stale jobs", removed)
	}
}

func (sch *Scheduler) runStatsLog() {
	snap := sch.server.Snapshot()
	log.Infof("stratum: %d sessions, %d jobs cached, %.2f shares/s, %d accepted total",
		snap.ConnectedSessions, snap.JobsCached, snap.HashRate, snap.AcceptedShares)
}
