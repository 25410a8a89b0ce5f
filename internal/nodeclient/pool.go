// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package nodeclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// clientPool is the small set of pre-built *http.Client instances the node
// client shares by reference, distinguished by policy: short-lived requests
// (info/work/solved), and the long-lived update stream which needs no
// response timeout at all. This is the one piece of "global mutable state"
// spec.md section 9 permits outside the atomic counters: built once at
// construction, read-only thereafter.
type clientPool struct {
	Requests *http.Client
	Stream   *http.Client
}

func newClientPool(requestTimeout time.Duration, insecureTLS bool) *clientPool {
	transport := &http.Transport{}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config.Insecure
	}

	return &clientPool{
		Requests: &http.Client{Timeout: requestTimeout, Transport: transport},
		// The update stream is long-lived by design (spec.md: re-poll at
		// most every 150s); it must not be cut off by a blanket client
		// timeout, so it gets its own client with no response deadline.
		Stream: &http.Client{Transport: transport},
	}
}
