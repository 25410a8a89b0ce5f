// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mcerr defines the error taxonomy shared across the mining client:
// config, network, protocol, validation, crypto, worker, stratum, timeout,
// cancelled, and invalid-state failures, plus the retry-layer policy for
// deciding which kinds are safe to retry.
package mcerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry policy and logging purposes.
type Kind string

const (
	Config       Kind = "config"
	Network      Kind = "network"
	Protocol     Kind = "protocol"
	Validation   Kind = "validation"
	Crypto       Kind = "crypto"
	Worker       Kind = "worker"
	Stratum      Kind = "stratum"
	Timeout      Kind = "timeout"
	Cancelled    Kind = "cancelled"
	InvalidState Kind = "invalid_state"
)

// Error is the concrete error type carried through the system. It wraps an
// underlying cause and tags it with a Kind so callers can branch on
// retryability without string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// transient marks a Protocol error as a 5xx-shaped failure the retry
	// layer should retry, set only via NewTransientProtocol.
	transient bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, mcerr.New(mcerr.Timeout, "")) matches any Timeout error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retryable reports whether err should be retried by the backoff layer per
// the policy in spec.md section 4.2 / 4.6: Network, Timeout, and
// 5xx-shaped Protocol errors are retried; everything else is surfaced
// immediately.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case Network, Timeout:
		return true
	case Protocol:
		var e *Error
		if errors.As(err, &e) {
			return e.transient
		}
		return false
	default:
		return false
	}
}

// NewTransientProtocol builds a Protocol error that the retry layer will
// treat as retryable (e.g. an upstream 502/503/504).
func NewTransientProtocol(format string, args ...any) *Error {
	e := New(Protocol, format, args...)
	e.transient = true
	return e
}
