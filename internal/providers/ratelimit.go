package providers

import (
	"context"
	"sync"
	"time"
)

// DefaultRequestsPerMinute applies when a provider has no rate limit set.
const DefaultRequestsPerMinute = 60

// RateLimiter is a per-provider token bucket refilled continuously at
// rpm/60 tokens per second. A 429 with a Retry-After hint pauses the
// provider until the hint expires.
type RateLimiter struct {
	mu sync.Mutex

	rpm         int
	tokens      float64
	refilledAt  time.Time
	pausedUntil time.Time

	consumed int64
	waited   time.Duration
	last429  time.Time
}

// RateLimiterStatus is a snapshot reported by GET /api/providers.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokensAvailable"`
	TokensLimit     int           `json:"tokensLimit"`
	Utilization     float64       `json:"utilization"`
	TimeUntilToken  time.Duration `json:"timeUntilToken"`
	PausedUntil     time.Time     `json:"pausedUntil,omitzero"`
	TotalConsumed   int64         `json:"totalConsumed"`
	TotalWaited     time.Duration `json:"totalWaited"`
	Last429Time     time.Time     `json:"last429,omitzero"`
}

// NewRateLimiter creates a full bucket of rpm tokens.
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	return &RateLimiter{rpm: rpm, tokens: float64(rpm), refilledAt: time.Now()}
}

// Wait blocks until the provider may be called or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		delay := r.delayLocked(time.Now())
		if delay == 0 {
			r.tokens--
			r.consumed++
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.waited += delay
			r.mu.Unlock()
		}
	}
}

// Record429 notes a rate-limit response. A positive retryAfter empties the
// bucket and pauses the provider for that long.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.last429 = now
	if retryAfter <= 0 {
		return
	}
	r.tokens = 0
	r.refilledAt = now
	if until := now.Add(retryAfter); until.After(r.pausedUntil) {
		r.pausedUntil = until
	}
}

// Status returns a snapshot of the limiter.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	delay := r.delayLocked(now)
	st := RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.rpm,
		Utilization:     max(1-r.tokens/float64(r.rpm), 0),
		TimeUntilToken:  delay,
		TotalConsumed:   r.consumed,
		TotalWaited:     r.waited,
		Last429Time:     r.last429,
	}
	if r.pausedUntil.After(now) {
		st.PausedUntil = r.pausedUntil
	}
	return st
}

// delayLocked refills the bucket and returns how long until a token may be
// taken. Zero means one is available now.
func (r *RateLimiter) delayLocked(now time.Time) time.Duration {
	perSecond := float64(r.rpm) / 60.0
	r.tokens = min(r.tokens+now.Sub(r.refilledAt).Seconds()*perSecond, float64(r.rpm))
	r.refilledAt = now

	if pause := r.pausedUntil.Sub(now); pause > 0 {
		return pause
	}
	if r.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - r.tokens) / perSecond * float64(time.Second))
}
