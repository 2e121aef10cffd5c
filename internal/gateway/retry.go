package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy retries an execution with exponential backoff. It only makes
// sense on transports where retrying cannot repeat a side effect twice under
// the same command semantics.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the stock policy: three attempts starting at one
// second, capped at ten.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
	}
}

// Execute runs fn until it succeeds, fails permanently, or exhausts the
// attempt budget. Failures that no repeat attempt can fix, rejected
// credentials, undecodable payloads, and unmapped commands, short-circuit
// immediately.
func (p *RetryPolicy) Execute(ctx context.Context, fn func() (Result, error)) (Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	return backoff.Retry(ctx, func() (Result, error) {
		res, err := fn()
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxAttempts))
}

func retryable(err error) bool {
	var terr *TransportError
	if !errors.As(err, &terr) {
		return true
	}
	switch terr.Kind {
	case KindUnauthorized, KindMalformed, KindUnsupported:
		return false
	}
	return true
}
