package scratchomised

import (
	"time"

	"github.com/cenkalti/backoff"
)

// retryPolicy yields base*2^(n-1) capped at max for the n-th retry, except
// that the first retry after an abrupt close waits a fixed floor so a peer
// still tearing down is not hit again at once.
type retryPolicy struct {
	exp    *backoff.ExponentialBackOff
	max    time.Duration
	abrupt time.Duration
}

func newRetryPolicy(cfg Config) *retryPolicy {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = cfg.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &retryPolicy{exp: exp, max: cfg.MaxDelay, abrupt: cfg.AbruptCloseDelay}
}

// next must be called once per retry, with attempt counting from 1.
func (p *retryPolicy) next(attempt int, abrupt bool) time.Duration {
	d := p.exp.NextBackOff()
	if d == backoff.Stop || d > p.max {
		d = p.max
	}
	if attempt == 1 && abrupt {
		return p.abrupt
	}
	return d
}

func (p *retryPolicy) reset() {
	p.exp.Reset()
}
