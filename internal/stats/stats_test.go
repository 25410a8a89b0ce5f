// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddHashesAndSolutionAccumulate(t *testing.T) {
	c := New(time.Unix(0, 0))
	c.AddHashes(100)
	c.AddHashes(50)
	c.AddSolution()

	snap := c.Snapshot(time.Unix(0, 0), time.Hour)
	require.Equal(t, uint64(150), snap.TotalHashes)
	require.Equal(t, uint64(1), snap.SolutionsFound)
}

func TestSnapshotRollsWindowAndComputesRate(t *testing.T) {
	start := time.Unix(1000, 0)
	c := New(start)
	c.AddHashes(1000)

	snap := c.Snapshot(start.Add(time.Second), time.Second)
	require.InDelta(t, 1000.0, snap.HashRate, 0.001)
}

func TestSnapshotDoesNotRollBeforeMinWindow(t *testing.T) {
	start := time.Unix(2000, 0)
	c := New(start)
	c.AddHashes(500)

	snap := c.Snapshot(start.Add(10*time.Millisecond), time.Second)
	require.Equal(t, 0.0, snap.HashRate)
	require.Equal(t, uint64(500), snap.TotalHashes)
}

func TestResetZeroesEverything(t *testing.T) {
	start := time.Unix(3000, 0)
	c := New(start)
	c.AddHashes(777)
	c.AddSolution()

	c.Reset(start.Add(time.Minute))
	snap := c.Snapshot(start.Add(time.Minute), time.Hour)
	require.Equal(t, uint64(0), snap.TotalHashes)
	require.Equal(t, uint64(0), snap.SolutionsFound)
	require.Equal(t, 0.0, snap.HashRate)
}

func TestConcurrentAddHashesIsRaceFree(t *testing.T) {
	c := New(time.Unix(4000, 0))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.AddHashes(1)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot(time.Unix(4000, 0), time.Hour)
	require.Equal(t, uint64(50000), snap.TotalHashes)
}
