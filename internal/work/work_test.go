// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package work

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFromSliceRejectsWrongSize(t *testing.T) {
	_, err := FromSlice(make([]byte, Size-1))
	require.Error(t, err)
	_, err = FromSlice(make([]byte, Size))
	require.NoError(t, err)
}

func TestNonceRoundTrip(t *testing.T) {
	var raw [Size]byte
	for i := range raw {
		raw[i] = 0x42
	}
	w := FromBytes(raw)
	w.SetNonce(Nonce(12345))
	require.Equal(t, Nonce(12345), w.Nonce())

	// Only the nonce slot should have changed.
	for i := 0; i < NonceOffset; i++ {
		require.Equal(t, byte(0x42), w.bytes[i])
	}
}

func TestNonceWrapAround(t *testing.T) {
	var n Nonce = ^Nonce(0)
	require.Equal(t, Nonce(0), n.Increment())
}

func TestNonceSplitComposeAllSizes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := Nonce(rapid.Uint64().Draw(rt, "nonce"))
		size := uint8(rapid.IntRange(0, 8).Draw(rt, "n1size"))
		n1, n2 := n.Split(size)
		got := ComposeNonce(n1, n2, size)
		require.Equal(rt, n, got)
	})
}

func TestNonceSplitDegenerateSizes(t *testing.T) {
	n := Nonce(0xdeadbeefcafebabe)

	n1, n2 := n.Split(0)
	require.Equal(t, uint64(0), n1)
	require.Equal(t, uint64(n), n2)
	require.Equal(t, n, ComposeNonce(n1, n2, 0))

	n1, n2 = n.Split(8)
	require.Equal(t, uint64(n), n1)
	require.Equal(t, uint64(0), n2)
	require.Equal(t, n, ComposeNonce(n1, n2, 8))
}

func TestHexRoundTrip(t *testing.T) {
	var raw [Size]byte
	raw[0] = 0xff
	raw[Size-1] = 0xaa
	w := FromBytes(raw)
	hexStr := w.Hex()

	w2, err := FromHex(hexStr)
	require.NoError(t, err)
	require.True(t, w.Equal(w2))
}

func TestEqualModuloNonce(t *testing.T) {
	var raw [Size]byte
	w1 := FromBytes(raw)
	w2 := FromBytes(raw)
	w1.SetNonce(Nonce(1))
	w2.SetNonce(Nonce(2))
	require.True(t, w1.EqualModuloNonce(w2))
	require.False(t, w1.Equal(w2))
}

func TestTimestampRoundTrip(t *testing.T) {
	var raw [Size]byte
	w := FromBytes(raw)
	w.SetTimestamp(1700000000)
	require.Equal(t, uint64(1700000000), w.Timestamp())
}

func TestChainIDRoundTrip(t *testing.T) {
	c := ChainID(5)
	b := c.ToLEBytes()
	got, err := ChainIDFromLEBytes(b[:])
	require.NoError(t, err)
	require.Equal(t, c, got)
}
