// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package solver

import (
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/pow"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stats"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// External bridges to an out-of-process solver: a child process, started
// fresh for each Mine call, that receives one hex-encoded 286-byte work
// header on stdin and writes back one hex-encoded solved header on stdout. This is the
// escape hatch for solvers that cannot be linked into the Go binary (GPU
// kernels invoked via a vendor CLI, FPGA miners, etc).
type External struct {
	command string
	args    []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	cancel  context.CancelFunc
	counter *stats.Counters
}

// NewExternal returns an External solver that launches command with args
// for every Mine call. The process is started fresh per call and killed
// once a solution is found, the context is cancelled, or Stop is called.
func NewExternal(command string, args ...string) *External {
	return &External{command: command, args: args, counter: stats.New(time.Now())}
}

// Mine starts the external process, writes the hex-encoded work header,
// and waits for a hex-encoded solved header on stdout.
func (e *External) Mine(ctx context.Context, req MineRequest) (work.Work, error) {
	e.counter.Reset(time.Now())

	mineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(mineCtx, e.command, e.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return work.Work{}, mcerr.Wrap(mcerr.Worker, err, "external solver: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return work.Work{}, mcerr.Wrap(mcerr.Worker, err, "external solver: stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return work.Work{}, mcerr.Wrap(mcerr.Worker, err, "external solver: starting %s", e.command)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.stdin = stdin
	e.stdout = bufio.NewScanner(stdout)
	e.cancel = cancel
	e.mu.Unlock()

	if _, err := io.WriteString(stdin, hex.EncodeToString(req.Work.Bytes()[:])+"\n"); err != nil {
		return work.Work{}, mcerr.Wrap(mcerr.Worker, err, "external solver: writing work header")
	}

	type result struct {
		w   work.Work
		err error
	}
	lines := make(chan result, 1)
	go func() {
		scanner := e.stdout
		if scanner.Scan() {
			w, err := decodeExternalLine(scanner.Text())
			lines <- result{w: w, err: err}
			return
		}
		if err := scanner.Err(); err != nil {
			lines <- result{err: mcerr.Wrap(mcerr.Worker, err, "external solver: reading stdout")}
			return
		}
		lines <- result{err: mcerr.New(mcerr.Worker, "external solver: process exited without a solution")}
	}()

	select {
	case r := <-lines:
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		if r.err != nil {
			if mineCtx.Err() != nil {
				return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "external solver: mining cancelled")
			}
			return work.Work{}, r.err
		}
		if !pow.MeetsTarget(&r.w, req.Target) {
			return work.Work{}, mcerr.New(mcerr.Validation, "external solver: returned header does not meet target")
		}
		e.counter.AddSolution()
		return r.w, nil
	case <-mineCtx.Done():
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return work.Work{}, mcerr.Wrap(mcerr.Cancelled, mineCtx.Err(), "external solver: mining cancelled")
	}
}

func decodeExternalLine(line string) (work.Work, error) {
	line = strings.TrimSpace(line)
	b, err := hex.DecodeString(line)
	if err != nil {
		return work.Work{}, mcerr.Wrap(mcerr.Protocol, err, "external solver: invalid hex line %q", line)
	}
	if len(b) != work.Size {
		return work.Work{}, mcerr.New(mcerr.Protocol, "external solver: line decoded to %d bytes, want %d", len(b), work.Size)
	}
	var arr [work.Size]byte
	copy(arr[:], b)
	return work.FromBytes(arr), nil
}

// Stop kills any in-flight external process.
func (e *External) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stats returns the current hash-rate snapshot. The external backend only
// knows solution counts, not hash counts, since hashing happens out of
// process; TotalHashes stays 0.
func (e *External) Stats() Stats {
	return e.counter.Snapshot(time.Now(), minStatsWindow)
}
