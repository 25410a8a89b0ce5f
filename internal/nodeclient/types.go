// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package nodeclient

import (
	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// Info is the decoded /info response.
type Info struct {
	NodeVersion        string   `json:"nodeVersion"`
	NodeAPIVersion     string   `json:"nodeApiVersion"`
	NodeChains         []string `json:"nodeChains"`
	NodeNumberOfChains int      `json:"nodeNumberOfChains"`
}

// Miner identifies the account and public keys a /work request mines for.
type Miner struct {
	Account    string
	PublicKeys []string
}

// MiningJob bundles a node's work response: the chain it applies to, the
// per-block target, and the 286-byte template to search.
type MiningJob struct {
	ChainID work.ChainID
	Target  target.Target
	Work    work.Work
}

// UpdateEvent is emitted by the update stream. Only NewWork, Closed, and
// Error ever reach the caller, per spec.md section 4.2.
type UpdateEvent struct {
	Kind    UpdateKind
	ChainID work.ChainID
	Message string
}

// UpdateKind distinguishes the three possible UpdateEvent shapes.
type UpdateKind int

const (
	UpdateNewWork UpdateKind = iota
	UpdateClosed
	UpdateError
)
