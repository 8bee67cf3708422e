package hub

import (
	"sync"
	"time"
)

// tokenBucket limits inbound frames per session. Refill is continuous at
// rate tokens per second up to burst.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	rate   float64
	burst  float64
	last   time.Time
	now    func() time.Time
}

func newTokenBucket(rate, burst int, now func() time.Time) *tokenBucket {
	if rate <= 0 {
		rate = 20
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if now == nil {
		now = time.Now
	}
	return &tokenBucket{
		tokens: float64(burst),
		rate:   float64(rate),
		burst:  float64(burst),
		last:   now(),
		now:    now,
	}
}

// Allow consumes one token if available.
func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
