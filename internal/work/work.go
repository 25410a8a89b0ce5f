// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package work represents the opaque 286-byte block-header template that
// solvers search over, and the nonce/chain-id wire conventions layered on
// top of it.
package work

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
)

const (
	// Size is the fixed length of a work header in bytes.
	Size = 286

	// NonceOffset is the offset of the 8-byte little-endian nonce slot: the
	// last 8 bytes of the header.
	NonceOffset = Size - 8

	// TimestampOffset is the fixed offset of the header's timestamp field.
	// This is a constant of the wire format shared with the node (see
	// spec.md section 9, "Open question: timestamp offset in the header").
	// Fixed here at byte 8, matching the convention used throughout the
	// reference implementation this client was modeled on.
	TimestampOffset = 8

	// ChainIDSize is the width of the little-endian chain-id prefix that
	// accompanies a work header on the wire (outside the 286-byte buffer
	// itself, per the /work response framing in spec.md section 6).
	ChainIDSize = 4
)

// ChainID identifies which chain a Work belongs to.
type ChainID uint32

// Nonce is the 64-bit value written into a Work's nonce slot.
type Nonce uint64

// Increment returns n+1 with 64-bit wrap-around (u64::MAX wraps to 0).
func (n Nonce) Increment() Nonce { return n + 1 }

// ToLEBytes encodes the nonce as 8 little-endian bytes.
func (n Nonce) ToLEBytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return b
}

// NonceFromLEBytes decodes 8 little-endian bytes into a Nonce.
func NonceFromLEBytes(b []byte) Nonce {
	return Nonce(binary.LittleEndian.Uint64(b))
}

// Split divides n into a pool-controlled n1 (n1Size bytes, 0..8) and a
// miner-controlled n2 (8-n1Size bytes), both little-endian conceptually:
// the full nonce is (n2 << (n1Size*8)) | n1.
func (n Nonce) Split(n1Size uint8) (n1, n2 uint64) {
	if n1Size == 0 {
		return 0, uint64(n)
	}
	if n1Size >= 8 {
		return uint64(n), 0
	}
	mask := uint64(1)<<(n1Size*8) - 1
	n1 = uint64(n) & mask
	n2 = uint64(n) >> (n1Size * 8)
	return n1, n2
}

// ComposeNonce reassembles a full nonce from its pool/miner halves:
// full = (n2 << (n1Size*8)) | n1.
func ComposeNonce(n1, n2 uint64, n1Size uint8) Nonce {
	if n1Size == 0 {
		return Nonce(n2)
	}
	if n1Size >= 8 {
		return Nonce(n1)
	}
	return Nonce((n2 << (n1Size * 8)) | n1)
}

// Work is a 286-byte opaque block-header template.
type Work struct {
	bytes [Size]byte
}

// FromBytes wraps an existing 286-byte array.
func FromBytes(b [Size]byte) Work { return Work{bytes: b} }

// FromSlice copies a byte slice of exactly Size bytes into a new Work.
func FromSlice(b []byte) (Work, error) {
	if len(b) != Size {
		return Work{}, mcerr.New(mcerr.Validation, "work: expected %d bytes, got %d", Size, len(b))
	}
	var w Work
	copy(w.bytes[:], b)
	return w, nil
}

// Bytes returns the full 286-byte buffer.
func (w *Work) Bytes() *[Size]byte { return &w.bytes }

// Nonce reads the nonce slot.
func (w *Work) Nonce() Nonce {
	return NonceFromLEBytes(w.bytes[NonceOffset:])
}

// SetNonce writes a nonce into the nonce slot without touching any other
// byte of the header.
func (w *Work) SetNonce(n Nonce) {
	b := n.ToLEBytes()
	copy(w.bytes[NonceOffset:], b[:])
}

// SetTimestamp writes an 8-byte little-endian unix timestamp at the fixed
// TimestampOffset, as the orchestrator does when it believes the template
// has aged before handing it to a solver.
func (w *Work) SetTimestamp(unixSeconds uint64) {
	binary.LittleEndian.PutUint64(w.bytes[TimestampOffset:TimestampOffset+8], unixSeconds)
}

// Timestamp reads the 8-byte little-endian timestamp field.
func (w *Work) Timestamp() uint64 {
	return binary.LittleEndian.Uint64(w.bytes[TimestampOffset : TimestampOffset+8])
}

// Equal compares two Work buffers for exact byte equality.
func (w Work) Equal(other Work) bool {
	return w.bytes == other.bytes
}

// EqualModuloNonce reports whether w and other are identical except
// possibly for the 8-byte nonce slot, used by the orchestrator's optional
// "identical-work skip" preemption suppression.
func (w Work) EqualModuloNonce(other Work) bool {
	return bytes.Equal(w.bytes[:NonceOffset], other.bytes[:NonceOffset])
}

// Hex renders the work as a lowercase hex string.
func (w Work) Hex() string { return hex.EncodeToString(w.bytes[:]) }

// FromHex parses a lowercase-or-uppercase hex string into a Work.
func FromHex(s string) (Work, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Work{}, mcerr.Wrap(mcerr.Validation, err, "work: invalid hex")
	}
	return FromSlice(b)
}

// ChainIDFromLEBytes decodes a 4-byte little-endian chain id.
func ChainIDFromLEBytes(b []byte) (ChainID, error) {
	if len(b) != ChainIDSize {
		return 0, mcerr.New(mcerr.Validation, "chain id: expected %d bytes, got %d", ChainIDSize, len(b))
	}
	return ChainID(binary.LittleEndian.Uint32(b)), nil
}

// ToLEBytes encodes the chain id as 4 little-endian bytes.
func (c ChainID) ToLEBytes() [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(c))
	return b
}
