// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// TestExternalRoundTripsViaCat uses the `cat` coreutil as a stand-in
// external process: it echoes the hex line straight back, so feeding it a
// work header that already meets target.Max() exercises the full
// pipe-write/pipe-read/kill lifecycle without needing a fake miner binary.
func TestExternalRoundTripsViaCat(t *testing.T) {
	e := NewExternal("cat")
	var raw [work.Size]byte
	req := MineRequest{ChainID: 1, Target: target.Max(), Work: work.FromBytes(raw)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	solved, err := e.Mine(ctx, req)
	require.NoError(t, err)
	require.True(t, solved.Equal(req.Work))

	snap := e.Stats()
	require.Equal(t, uint64(1), snap.SolutionsFound)
}

func TestExternalRejectsNonSolvingHeader(t *testing.T) {
	e := NewExternal("cat")
	var raw [work.Size]byte
	req := MineRequest{ChainID: 1, Target: target.Zero(), Work: work.FromBytes(raw)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := e.Mine(ctx, req)
	require.Error(t, err)
}

func TestExternalMissingBinaryFails(t *testing.T) {
	e := NewExternal("definitely-not-a-real-binary-xyz")
	var raw [work.Size]byte
	req := MineRequest{ChainID: 1, Target: target.Max(), Work: work.FromBytes(raw)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := e.Mine(ctx, req)
	require.Error(t, err)
}
