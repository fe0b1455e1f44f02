package alerter

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter caps accepted alerts within a sliding window
type RateLimiter struct {
	log     zerolog.Logger
	limit   int
	window  time.Duration
	mu      sync.Mutex
	history []time.Time
	limited bool
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(log zerolog.Logger, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		log:    log.With().Str("component", "rate-limiter").Logger(),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether one more alert fits in the window. It does not
// record anything; call Record once the alert is accepted.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	if len(r.history) < r.limit {
		if r.limited {
			r.limited = false
			r.log.Info().Int("limit", r.limit).Msg("alert rate back under limit")
		}
		return true
	}
	if !r.limited {
		r.limited = true
		r.log.Warn().Int("limit", r.limit).Dur("window", r.window).Msg("alert rate limit reached")
	}
	return false
}

// Record counts an accepted alert
func (r *RateLimiter) Record() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, r.now())
}

// Count returns the number of alerts inside the window
func (r *RateLimiter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	return len(r.history)
}

// prune drops timestamps older than the window
func (r *RateLimiter) prune() {
	cutoff := r.now().Add(-r.window)
	i := 0
	for i < len(r.history) && !r.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.history = append(r.history[:0], r.history[i:]...)
	}
}
