package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnect delays: 300ms doubling to a 2s cap, no jitter, retried forever.
const (
	DefaultBackoffInitial = 300 * time.Millisecond
	DefaultBackoffMax     = 2 * time.Second
)

// NewReconnectBackoff returns the delay schedule between push channel
// attempts. Call Reset once the channel is live.
func NewReconnectBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.MaxInterval = max
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
