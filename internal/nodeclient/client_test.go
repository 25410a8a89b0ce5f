// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package nodeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/retry"
	"github.com/kadena-community/chainweb-mining-client-go/internal/target"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

func fastRetryPolicy() retry.Policy {
	return retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, RequestTimeout: 5 * time.Second, RetryPolicy: fastRetryPolicy()})
	require.NoError(t, err)
	return c
}

func TestInfoDecodesAndCachesVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/info", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Info{
			NodeVersion:        "2.19",
			NodeAPIVersion:     "0.0",
			NodeChains:         []string{"0", "1"},
			NodeNumberOfChains: 2,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	info, err := c.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2.19", info.NodeVersion)

	v, err := c.nodeVersion()
	require.NoError(t, err)
	require.Equal(t, "2.19", v)
}

func TestWorkWithoutInfoFailsWithInvalidState(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	_, err := c.Work(context.Background(), Miner{Account: "miner"})
	require.Error(t, err)
	require.True(t, mcerr.IsKind(err, mcerr.InvalidState))
}

func buildWorkResponse(t *testing.T, chainID work.ChainID, tgt target.Target, w work.Work) []byte {
	t.Helper()
	cid := chainID.ToLEBytes()
	tb := tgt.LEBytes()
	out := make([]byte, 0, workResponseSize)
	out = append(out, cid[:]...)
	out = append(out, tb[:]...)
	out = append(out, w.Bytes()[:]...)
	return out
}

func TestWorkDecodesFixedFraming(t *testing.T) {
	var raw [work.Size]byte
	w := work.FromBytes(raw)
	w.SetNonce(work.Nonce(7))
	wantTarget := target.FromLevel(8)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			_ = json.NewEncoder(rw).Encode(Info{NodeVersion: "2.19"})
		default:
			require.True(t, strings.HasSuffix(r.URL.Path, "/mining/work"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "miner-account", body["account"])

			rw.Header().Set("Content-Type", "application/octet-stream")
			_, _ = rw.Write(buildWorkResponse(t, work.ChainID(3), wantTarget, w))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Info(context.Background())
	require.NoError(t, err)

	job, err := c.Work(context.Background(), Miner{Account: "miner-account", PublicKeys: []string{"k1"}})
	require.NoError(t, err)
	require.Equal(t, work.ChainID(3), job.ChainID)
	require.Equal(t, 0, target.Compare(wantTarget, job.Target))
	require.True(t, job.Work.Equal(w))
}

func TestWorkRejectsShortBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			_ = json.NewEncoder(rw).Encode(Info{NodeVersion: "2.19"})
		default:
			_, _ = rw.Write([]byte("short"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Info(context.Background())
	require.NoError(t, err)

	_, err = c.Work(context.Background(), Miner{Account: "a"})
	require.Error(t, err)
}

func TestSolvedPostsRawBytes(t *testing.T) {
	var raw [work.Size]byte
	w := work.FromBytes(raw)
	w.SetNonce(work.Nonce(99))

	var receivedLen int64
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			_ = json.NewEncoder(rw).Encode(Info{NodeVersion: "2.19"})
		default:
			require.True(t, strings.HasSuffix(r.URL.Path, "/mining/solved"))
			require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
			atomic.StoreInt64(&receivedLen, r.ContentLength)
			rw.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Info(context.Background())
	require.NoError(t, err)

	err = c.Solved(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, int64(work.Size), atomic.LoadInt64(&receivedLen))
}

func TestSolvedRetriesOn5xxThenSucceeds(t *testing.T) {
	var raw [work.Size]byte
	w := work.FromBytes(raw)

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			_ = json.NewEncoder(rw).Encode(Info{NodeVersion: "2.19"})
		default:
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				rw.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			rw.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Info(context.Background())
	require.NoError(t, err)

	err = c.Solved(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestUpdatesStreamsNewWorkEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			_ = json.NewEncoder(rw).Encode(Info{NodeVersion: "2.19"})
		default:
			require.True(t, strings.HasSuffix(r.URL.Path, "/mining/updates"))
			flusher, ok := rw.(http.Flusher)
			require.True(t, ok)
			rw.WriteHeader(http.StatusOK)
			_, _ = rw.Write([]byte("data: new-cut\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Info(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := c.Updates(ctx, work.ChainID(1))
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, UpdateNewWork, ev.Kind)
		require.Equal(t, work.ChainID(1), ev.ChainID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update event")
	}
}
