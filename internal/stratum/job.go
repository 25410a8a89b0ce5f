// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// Job pairs an upstream work template with the Stratum-facing identifiers
// a session needs to submit a share against it.
type Job struct {
	ID        string
	ChainID   work.ChainID
	Target    target.Target // upstream target; a share meeting this is forwarded
	Work      work.Work
	N1        uint64
	N1Size    uint8
	CreatedAt time.Time
	CleanJobs bool
}

// jobIDCounter produces monotonically increasing, lowercase-hex job ids,
// shared across all jobs a server ever creates.
type jobIDCounter struct {
	next uint64
}

func (c *jobIDCounter) nextID() string {
	c.next++
	return fmt.Sprintf("%x", c.next)
}

// deriveN1 computes a session's pool-controlled nonce prefix deterministically
// from its identity and the server's salt, truncated to n1Size bytes. The
// same (identity, salt, n1Size) triple always yields the same n1.
func deriveN1(identity, salt string, n1Size uint8) uint64 {
	h := sha256.New()
	h.Write([]byte(identity))
	h.Write([]byte{0}) // domain separator between identity and salt
	h.Write([]byte(salt))
	sum := h.Sum(nil)

	if n1Size == 0 {
		return 0
	}
	if n1Size > 8 {
		n1Size = 8
	}
	var buf [8]byte
	copy(buf[8-n1Size:], sum[:n1Size])
	return binary.BigEndian.Uint64(buf[:])
}
