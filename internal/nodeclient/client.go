// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package nodeclient implements the HTTP surface of a Chainweb-style node:
// node info, work fetch, solution submission, and the long-lived update
// stream, all behind the uniform retry policy from internal/retry.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/retry"
	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

var log = btclog.Disabled

// UseLogger installs the package-wide logger.
func UseLogger(logger btclog.Logger) { log = logger }

// workResponseSize is the exact framing of a /work response body:
// chain_id (4 LE) || target (32 LE) || work (286).
const workResponseSize = work.ChainIDSize + 32 + work.Size

// Config configures a Client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	InsecureTLS    bool
	RetryPolicy    retry.Policy
}

// Client talks to a single Chainweb node.
type Client struct {
	cfg  Config
	base *url.URL
	pool *clientPool

	mu      sync.RWMutex
	version string // cached nodeVersion from /info
}

// New constructs a Client. The node version is not fetched until Info is
// called at least once; Work and Solved require it.
func New(cfg Config) (*Client, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, mcerr.Wrap(mcerr.Config, err, "nodeclient: invalid base URL %q", cfg.BaseURL)
	}
	return &Client{
		cfg:  cfg,
		base: u,
		pool: newClientPool(cfg.RequestTimeout, cfg.InsecureTLS),
	}, nil
}

func (c *Client) endpoint(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	return c.base.ResolveReference(ref).String()
}

func classifyHTTPStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 502 || status == 503 || status == 504 || (status >= 520 && status <= 524):
		return mcerr.NewTransientProtocol("node returned %d: %s", status, truncate(body))
	case status >= 500:
		return mcerr.NewTransientProtocol("node returned %d: %s", status, truncate(body))
	case status == 408 || status == 429:
		return mcerr.Wrap(mcerr.Timeout, fmt.Errorf("status %d", status), "node returned %d: %s", status, truncate(body))
	default:
		return mcerr.New(mcerr.Validation, "node returned %d: %s", status, truncate(body))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func classifyTransportError(err error) error {
	return mcerr.Wrap(mcerr.Network, err, "transport error")
}

// Info fetches /info and caches nodeVersion for subsequent calls.
func (c *Client) Info(ctx context.Context) (Info, error) {
	return retry.Do(ctx, c.cfg.RetryPolicy, func(ctx context.Context) (Info, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/info"), nil)
		if err != nil {
			return Info{}, mcerr.Wrap(mcerr.Config, err, "nodeclient: building /info request")
		}
		resp, err := c.pool.Requests.Do(req)
		if err != nil {
			return Info{}, classifyTransportError(err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if err := classifyHTTPStatus(resp.StatusCode, body); err != nil {
			return Info{}, err
		}

		var info Info
		if err := json.Unmarshal(body, &info); err != nil {
			return Info{}, mcerr.Wrap(mcerr.Protocol, err, "nodeclient: decoding /info")
		}

		c.mu.Lock()
		c.version = info.NodeVersion
		c.mu.Unlock()
		log.Infof("nodeclient: connected to node version %s", info.NodeVersion)
		return info, nil
	})
}

func (c *Client) nodeVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.version == "" {
		return "", mcerr.New(mcerr.InvalidState, "nodeclient: node version not fetched; call Info first")
	}
	return c.version, nil
}

// Work requests a new mining job for the given miner.
func (c *Client) Work(ctx context.Context, miner Miner) (MiningJob, error) {
	version, err := c.nodeVersion()
	if err != nil {
		return MiningJob{}, err
	}

	return retry.Do(ctx, c.cfg.RetryPolicy, func(ctx context.Context) (MiningJob, error) {
		path := fmt.Sprintf("/chainweb/0.0/%s/mining/work", version)
		payload, err := json.Marshal(map[string]any{
			"account":     miner.Account,
			"predicate":   "keys-all",
			"public-keys": miner.PublicKeys,
		})
		if err != nil {
			return MiningJob{}, mcerr.Wrap(mcerr.Config, err, "nodeclient: encoding work request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
		if err != nil {
			return MiningJob{}, mcerr.Wrap(mcerr.Config, err, "nodeclient: building /work request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.pool.Requests.Do(req)
		if err != nil {
			return MiningJob{}, classifyTransportError(err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if err := classifyHTTPStatus(resp.StatusCode, body); err != nil {
			return MiningJob{}, err
		}

		return decodeWorkResponse(body)
	})
}

// decodeWorkResponse parses the fixed 322-byte /work wire framing:
// chain_id:4LE || target:32LE || work:286.
func decodeWorkResponse(body []byte) (MiningJob, error) {
	if len(body) != workResponseSize {
		return MiningJob{}, mcerr.New(mcerr.Validation, "nodeclient: /work body length %d, expected %d", len(body), workResponseSize)
	}

	chainID, err := work.ChainIDFromLEBytes(body[:work.ChainIDSize])
	if err != nil {
		return MiningJob{}, mcerr.Wrap(mcerr.Validation, err, "nodeclient: decoding chain id")
	}

	targetStart := work.ChainIDSize
	tgt, err := target.FromLEBytes(body[targetStart : targetStart+32])
	if err != nil {
		return MiningJob{}, mcerr.Wrap(mcerr.Validation, err, "nodeclient: decoding target")
	}

	workStart := targetStart + 32
	w, err := work.FromSlice(body[workStart : workStart+work.Size])
	if err != nil {
		return MiningJob{}, mcerr.Wrap(mcerr.Validation, err, "nodeclient: decoding work")
	}

	return MiningJob{ChainID: chainID, Target: tgt, Work: w}, nil
}

// Solved submits a solved 286-byte header back to the node.
func (c *Client) Solved(ctx context.Context, w work.Work) error {
	version, err := c.nodeVersion()
	if err != nil {
		return err
	}

	_, err = retry.Do(ctx, c.cfg.RetryPolicy, func(ctx context.Context) (struct{}, error) {
		path := fmt.Sprintf("/chainweb/0.0/%s/mining/solved", version)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(w.Bytes()[:]))
		if err != nil {
			return struct{}{}, mcerr.Wrap(mcerr.Config, err, "nodeclient: building /solved request")
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.pool.Requests.Do(req)
		if err != nil {
			return struct{}{}, classifyTransportError(err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if err := classifyHTTPStatus(resp.StatusCode, body); err != nil {
			return struct{}{}, err
		}
		log.Infof("nodeclient: solved work submitted successfully")
		return struct{}{}, nil
	})
	return err
}
