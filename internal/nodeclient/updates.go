// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package nodeclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

const (
	streamReconnectMin = 1 * time.Second
	streamReconnectMax = 30 * time.Second
	// streamMaxIdle bounds how long a single connection is kept open before
	// it is torn down and re-established, per spec.md section 4.2 (the node
	// itself may hold the long-poll open far longer; this is a client-side
	// liveness bound).
	streamMaxIdle = 150 * time.Second
)

// Updates opens the long-lived update stream for chainID and delivers events
// on the returned channel until ctx is cancelled, at which point the channel
// is closed. Connection drops are retried with doubling backoff from 1s to
// 30s; each retry is itself reported as an UpdateError before reconnecting.
func (c *Client) Updates(ctx context.Context, chainID work.ChainID) (<-chan UpdateEvent, error) {
	version, err := c.nodeVersion()
	if err != nil {
		return nil, err
	}

	events := make(chan UpdateEvent, 8)
	go c.runUpdateStream(ctx, version, chainID, events)
	return events, nil
}

func (c *Client) runUpdateStream(ctx context.Context, version string, chainID work.ChainID, events chan<- UpdateEvent) {
	defer close(events)

	backoff := streamReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.streamOnce(ctx, version, chainID, events)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Server closed the stream cleanly; reset backoff and reconnect
			// immediately, it is the re-poll cadence spec.md expects.
			backoff = streamReconnectMin
			continue
		}

		select {
		case events <- UpdateEvent{Kind: UpdateError, ChainID: chainID, Message: err.Error()}:
		default:
		}
		log.Warnf("nodeclient: update stream for chain %d dropped: %v; reconnecting in %s", chainID, err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > streamReconnectMax {
			backoff = streamReconnectMax
		}
	}
}

// streamOnce opens a single long-lived connection and forwards NewWork
// events until it ends, returning the reason it ended (nil for a clean
// server-initiated close).
func (c *Client) streamOnce(ctx context.Context, version string, chainID work.ChainID, events chan<- UpdateEvent) error {
	streamCtx, cancel := context.WithTimeout(ctx, streamMaxIdle)
	defer cancel()

	path := fmt.Sprintf("/chainweb/0.0/%s/mining/updates", version)
	body := chainID.ToLEBytes()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.endpoint(path), bytes.NewReader(body[:]))
	if err != nil {
		return mcerr.Wrap(mcerr.Config, err, "nodeclient: building /updates request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.pool.Stream.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return classifyHTTPStatus(resp.StatusCode, b)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Lines of the form "event: New Cut" (chainweb's actual framing is
		// opaque Server-Sent-Events "data:" chunks); any non-empty line is
		// treated as a signal that new work may be available, letting the
		// orchestrator re-fetch via Work rather than trying to parse node
		// internals out of the event payload.
		data := strings.TrimPrefix(line, "data:")
		data = strings.TrimSpace(data)
		select {
		case events <- UpdateEvent{Kind: UpdateNewWork, ChainID: chainID, Message: data}:
		case <-streamCtx.Done():
			return streamCtx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return mcerr.Wrap(mcerr.Network, err, "nodeclient: update stream read error")
	}
	return nil
}
