// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pow implements the proof-of-work check: Blake2s-256 over the full
// 286-byte work header, compared as a little-endian 256-bit integer against
// a target.
package pow

import (
	"golang.org/x/crypto/blake2s"

	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// Digest returns the Blake2s-256 hash of the work header's 286 bytes.
func Digest(w *work.Work) [32]byte {
	return blake2s.Sum256(w.Bytes()[:])
}

// MeetsTarget reports whether w's Blake2s-256 digest, interpreted as a
// little-endian 256-bit integer, is less than or equal to t. Equality
// counts as valid.
func MeetsTarget(w *work.Work, t target.Target) bool {
	return t.MeetsDigest(Digest(w))
}
