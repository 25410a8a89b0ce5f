// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package retry

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
)

func fastPolicy() Policy {
	return Policy{
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: MaxAttempts,
		rng:         rand.New(rand.NewSource(1)),
	}
}

func TestRetrySucceedsAfterKTransientFailures(t *testing.T) {
	for k := 0; k < 5; k++ {
		k := k
		attempts := 0
		_, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
			attempts++
			if attempts <= k {
				return 0, mcerr.New(mcerr.Network, "transient failure %d", attempts)
			}
			return 42, nil
		})
		require.NoError(t, err)
		require.Equal(t, k+1, attempts, "k=%d", k)
	}
}

func TestRetryNonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, mcerr.New(mcerr.Validation, "bad input")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryExhaustion(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 10
	attempts := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, mcerr.New(mcerr.Network, "503")
	})
	require.Error(t, err)
	require.Equal(t, 10, attempts)
	require.True(t, mcerr.IsKind(err, mcerr.Network))
}

func TestRetryRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 10, rng: rand.New(rand.NewSource(1))}

	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, mcerr.New(mcerr.Network, "transient")
	})
	require.Error(t, err)
	require.True(t, mcerr.IsKind(err, mcerr.Cancelled))
}

func TestTransientProtocolIsRetryable(t *testing.T) {
	err := mcerr.NewTransientProtocol("upstream 502")
	require.True(t, mcerr.Retryable(err))

	schemaErr := mcerr.New(mcerr.Protocol, "bad schema")
	require.False(t, mcerr.Retryable(schemaErr))
}
