// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package retry implements the exponential-backoff retry policy shared by
// every node-client call: base 100ms, factor 2, cap 5s, 10 attempts, with
// +/-10% jitter on each sleep. Non-retryable errors (validation, config,
// auth, 4xx except 408/429) fail on the first attempt.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/time/rate"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
)

// log is a package logger, following the teacher's UseLogger/DisableLog
// convention; silent until a caller installs a real backend.
var log = btclog.Disabled

// UseLogger installs the package-wide logger.
func UseLogger(logger btclog.Logger) { log = logger }

const (
	// BaseDelay is the initial backoff delay.
	BaseDelay = 100 * time.Millisecond
	// MaxDelay caps the backoff delay.
	MaxDelay = 5 * time.Second
	// MaxAttempts is the maximum number of attempts made per call,
	// including the first.
	MaxAttempts = 10
	// jitterFraction is the +/-10% jitter applied to every sleep.
	jitterFraction = 0.10
)

// Policy is a retry policy; the zero value is the default spec.md section
// 4.2 policy (base 100ms, factor 2, cap 5s, 10 attempts).
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// rng is overridable in tests for deterministic jitter.
	rng *rand.Rand
}

// Default returns the policy specified in spec.md section 4.2, used
// uniformly for /info, /work, and /solved.
func Default() Policy {
	return Policy{BaseDelay: BaseDelay, MaxDelay: MaxDelay, MaxAttempts: MaxAttempts}
}

func (p Policy) withDefaults() Policy {
	if p.BaseDelay == 0 {
		p.BaseDelay = BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = MaxDelay
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = MaxAttempts
	}
	return p
}

// jitterResolution is the number of rate.Limiter tokens one delay spans;
// the +/-10% jitter window is expressed as a token count around it.
const jitterResolution = 1000

// jitter returns delay scaled by a uniform random factor in
// [1-jitterFraction, 1+jitterFraction]. math/rand only picks which token
// count within that window to reserve; golang.org/x/time/rate.Limiter.Reserve
// is what turns that token count into the actual time.Duration, by first
// draining a limiter configured at one token per delay/jitterResolution
// down to zero and then reserving the chosen token count against it, so
// the returned delay is the limiter's own deterministic wait calculation
// rather than a float multiply.
func jitter(rng *rand.Rand, delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	unit := delay / jitterResolution
	if unit <= 0 {
		unit = 1
	}
	low := int(jitterResolution * (1 - jitterFraction))
	high := int(jitterResolution * (1 + jitterFraction))
	tokens := low + rng.Intn(high-low+1)

	lim := rate.NewLimiter(rate.Every(unit), high)
	now := time.Now()
	lim.ReserveN(now, high) // drain the full burst
	return lim.ReserveN(now, tokens).DelayFrom(now)
}

// Do executes op, retrying on retryable errors per mcerr.Retryable until
// MaxAttempts is exhausted or a non-retryable error is returned. It
// respects ctx cancellation between attempts.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	rng := p.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	delay := p.BaseDelay
	var zero T
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Debugf("retry: operation succeeded on attempt %d", attempt)
			}
			return result, nil
		}

		if !mcerr.Retryable(err) || attempt == p.MaxAttempts {
			if attempt == p.MaxAttempts {
				log.Warnf("retry: exhausted %d attempts, last error: %v", attempt, err)
			}
			return zero, err
		}

		sleepFor := jitter(rng, delay)
		log.Debugf("retry: attempt %d failed: %v; sleeping %s", attempt, err, sleepFor)

		select {
		case <-ctx.Done():
			return zero, mcerr.Wrap(mcerr.Cancelled, ctx.Err(), "retry: cancelled during backoff")
		case <-time.After(sleepFor):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return zero, mcerr.New(mcerr.Network, "retry: unreachable")
}
