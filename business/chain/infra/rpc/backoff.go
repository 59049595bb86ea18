package rpc

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// reconnectPolicy yields reconnect delays: initial, doubling, capped at max.
// It only restarts from the initial delay after Reset, which the manager
// calls on the first successful request following a reconnect.
type reconnectPolicy struct {
	mu  sync.Mutex
	b   *backoff.ExponentialBackOff
	max time.Duration
}

func newReconnectPolicy(initial, max time.Duration) *reconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return &reconnectPolicy{b: b, max: max}
}

// Next returns the delay before the next dial attempt.
func (p *reconnectPolicy) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.b.NextBackOff()
	if d == backoff.Stop || d > p.max {
		d = p.max
	}
	return d
}

// Reset restarts the schedule from the initial delay.
func (p *reconnectPolicy) Reset() {
	p.mu.Lock()
	p.b.Reset()
	p.mu.Unlock()
}
