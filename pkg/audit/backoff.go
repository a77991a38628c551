package audit

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines the retry delay applied when a sink write fails.
type BackoffConfig struct {
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// Multiplier is the factor by which the delay grows.
	Multiplier float64
	// Jitter adds up to 25% random delay.
	Jitter bool
}

// DefaultBackoffConfig returns sensible defaults for sink retries.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	def := DefaultBackoffConfig()
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	return c
}

// Delay returns the wait before retry number attempt (zero-based).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	backoff := time.Duration(float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt)))
	if backoff > c.MaxBackoff || backoff <= 0 {
		backoff = c.MaxBackoff
	}
	if c.Jitter && backoff >= 4 {
		// #nosec G404 - Non-cryptographic random is acceptable for jitter
		backoff += time.Duration(rand.Int63n(int64(backoff / 4)))
	}
	return backoff
}
