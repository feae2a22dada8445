package domain

import "time"

// EventClass partitions inbound realtime traffic so abuse on one channel
// does not starve the others.
type EventClass string

const (
	ClassFindMatch EventClass = "find-match"
	ClassSignal    EventClass = "signal"
	ClassChat      EventClass = "chat-message"
)

// BucketConfig describes one token bucket: Capacity tokens, one token
// refilled every RefillEvery.
type BucketConfig struct {
	Capacity    int
	RefillEvery time.Duration
}

// RateLimiterConfig configures a per-connection limiter.
type RateLimiterConfig struct {
	Buckets map[EventClass]BucketConfig

	// Crossing DenialThreshold denials within DenialWindow marks the
	// connection as abusive; the gateway force-disconnects it.
	DenialThreshold int
	DenialWindow    time.Duration
}

// DefaultRateLimiterConfig returns the production defaults. Signal gets
// more headroom than find-match since a negotiation takes several round
// trips.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Buckets: map[EventClass]BucketConfig{
			ClassFindMatch: {Capacity: 5, RefillEvery: 2 * time.Second},
			ClassSignal:    {Capacity: 30, RefillEvery: 100 * time.Millisecond},
			ClassChat:      {Capacity: 10, RefillEvery: time.Second},
		},
		DenialThreshold: 20,
		DenialWindow:    time.Minute,
	}
}

type tokenBucket struct {
	cfg        BucketConfig
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is created with a connection and destroyed with it. It is
// only touched by that connection's own read goroutine, so no locking.
type RateLimiter struct {
	buckets map[EventClass]*tokenBucket

	denialThreshold int
	denialWindow    time.Duration
	denials         int
	denialsSince    time.Time

	now func() time.Time
}

// NewRateLimiter creates a limiter with full buckets.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		buckets:         make(map[EventClass]*tokenBucket, len(cfg.Buckets)),
		denialThreshold: cfg.DenialThreshold,
		denialWindow:    cfg.DenialWindow,
		now:             time.Now,
	}
	for class, bc := range cfg.Buckets {
		rl.buckets[class] = &tokenBucket{cfg: bc, tokens: float64(bc.Capacity)}
	}
	return rl
}

// Allow admits or denies one event of the given class. Classes without a
// configured bucket are always admitted. On deny the caller must not
// process the event, but the connection stays up.
func (rl *RateLimiter) Allow(class EventClass) bool {
	b, ok := rl.buckets[class]
	if !ok {
		return true
	}

	now := rl.now()
	if b.lastRefill.IsZero() {
		b.lastRefill = now
	}
	if b.cfg.RefillEvery > 0 {
		refill := float64(now.Sub(b.lastRefill)) / float64(b.cfg.RefillEvery)
		if refill > 0 {
			b.tokens += refill
			if b.tokens > float64(b.cfg.Capacity) {
				b.tokens = float64(b.cfg.Capacity)
			}
			b.lastRefill = now
		}
	}

	if b.tokens < 1 {
		rl.recordDenial(now)
		return false
	}
	b.tokens--
	return true
}

// Abusive reports whether repeated denials crossed the forced-disconnect
// threshold within the current window.
func (rl *RateLimiter) Abusive() bool {
	return rl.denialThreshold > 0 && rl.denials >= rl.denialThreshold
}

func (rl *RateLimiter) recordDenial(now time.Time) {
	if rl.denialsSince.IsZero() || now.Sub(rl.denialsSince) > rl.denialWindow {
		rl.denials = 0
		rl.denialsSince = now
	}
	rl.denials++
}
