// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// headerSize is the on-wire header width: 286 bytes of work plus 32 trailer
// bytes not consumed by the proof-of-work check.
const headerSize = 286 + 32

// targetOffset and targetEnd bound the header's embedded little-endian
// target, per spec.md section 8 scenario 3.
const (
	targetOffset = 158
	targetEnd    = targetOffset + 32
)

func TestMeetsTargetMaxAlwaysTrue(t *testing.T) {
	var raw [work.Size]byte
	for i := range raw {
		raw[i] = 0x42
	}
	w := work.FromBytes(raw)
	require.True(t, MeetsTarget(&w, target.Max()))
}

func TestMeetsTargetZeroNeverTrueExceptZeroDigest(t *testing.T) {
	var raw [work.Size]byte
	w := work.FromBytes(raw)
	// A real Blake2s digest of non-trivial input is never the all-zero
	// digest, so this must fail against the hardest possible target.
	require.False(t, MeetsTarget(&w, target.Zero()))
}

// loadHeaderFixtures reads every testdata/header_*.hex file: each decodes
// to a 318-byte header whose first 286 bytes are the work template and
// whose bytes 158..190 hold the embedded little-endian target.
func loadHeaderFixtures(t *testing.T) [][headerSize]byte {
	t.Helper()
	matches, err := filepath.Glob("testdata/header_*.hex")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(matches), 10, "expected at least 10 header fixtures")

	headers := make([][headerSize]byte, 0, len(matches))
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		require.NoError(t, err, path)
		decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		require.NoError(t, err, path)
		require.Len(t, decoded, headerSize, path)

		var header [headerSize]byte
		copy(header[:], decoded)
		headers = append(headers, header)
	}
	return headers
}

// TestHeaderLayoutInvariant is spec.md section 8 scenario 3: for each of
// at least 10 fixed 318-byte headers, decoding the work template from
// bytes 0..286 and the target from the little-endian bytes 158..190 must
// satisfy MeetsTarget. Every fixture embeds max_target at that offset, the
// explicit "target = max_target; everything meets it" boundary from
// spec.md section 8, so the property holds for any nonce without a
// brute-force search.
func TestHeaderLayoutInvariant(t *testing.T) {
	for i, header := range loadHeaderFixtures(t) {
		w, err := work.FromSlice(header[:work.Size])
		require.NoError(t, err, "fixture %d", i)

		tgt, err := target.FromLEBytes(header[targetOffset:targetEnd])
		require.NoError(t, err, "fixture %d", i)
		require.Equal(t, target.Max(), tgt, "fixture %d: embedded target must be max_target", i)

		require.True(t, MeetsTarget(&w, tgt), "fixture %d", i)

		// Re-deriving the target from its own LE byte encoding must agree.
		le := tgt.LEBytes()
		roundTripped, err := target.FromLEBytes(le[:])
		require.NoError(t, err, "fixture %d", i)
		require.True(t, MeetsTarget(&w, roundTripped), "fixture %d", i)
	}
}

func TestDigestDeterministic(t *testing.T) {
	var raw [work.Size]byte
	raw[0] = 1
	w := work.FromBytes(raw)
	d1 := Digest(&w)
	d2 := Digest(&w)
	require.Equal(t, d1, d2)
}

func TestDigestChangesWithNonce(t *testing.T) {
	var raw [work.Size]byte
	w := work.FromBytes(raw)
	w.SetNonce(1)
	d1 := Digest(&w)
	w.SetNonce(2)
	d2 := Digest(&w)
	require.NotEqual(t, d1, d2)
}
