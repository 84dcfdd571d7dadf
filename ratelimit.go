package ghauth

import (
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRateLimit and DefaultRateWindow allow 10 auth requests per
	// client address in any trailing 15 minutes.
	DefaultRateLimit  = 10
	DefaultRateWindow = 15 * time.Minute

	rateSweepInterval = 5 * time.Minute
	unknownClient     = "unknown"
)

// LimitResult is the outcome of a rate limit check. RetryAfter is only set
// when the request was rejected.
type LimitResult struct {
	Allowed    bool
	RetryAfter int // seconds
}

// Err returns a *RateLimitError for a rejected request and nil otherwise.
func (r LimitResult) Err() error {
	if r.Allowed {
		return nil
	}
	return &RateLimitError{RetryAfter: r.RetryAfter}
}

// RateLimiter is an in-memory sliding-window limiter keyed by client address.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	window  time.Duration
	limit   int
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter creates a limiter accepting at most limit requests per key
// within window, and starts the background sweep. Call Stop to end it.
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	rl := newRateLimiter(window, limit, time.Now)
	go rl.sweepLoop(rateSweepInterval)
	return rl
}

func newRateLimiter(window time.Duration, limit int, now func() time.Time) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &RateLimiter{
		entries: make(map[string][]time.Time),
		window:  window,
		limit:   limit,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Check records a request for key if it fits in the window.
func (r *RateLimiter) Check(key string) LimitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(r.entries[key], now)

	if len(valid) >= r.limit {
		r.entries[key] = valid
		wait := valid[0].Add(r.window).Sub(now)
		return LimitResult{
			Allowed:    false,
			RetryAfter: int(math.Ceil(wait.Seconds())),
		}
	}

	r.entries[key] = append(valid, now)
	return LimitResult{Allowed: true}
}

// Count returns the current count for a key within the window.
func (r *RateLimiter) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prune(r.entries[key], r.now()))
}

// Reset clears all rate limit entries for a key.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Stop ends the background sweep. It is safe to call more than once.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// prune returns the timestamps still inside the window, oldest first.
func (r *RateLimiter) prune(entries []time.Time, now time.Time) []time.Time {
	var valid []time.Time
	for _, t := range entries {
		if now.Sub(t) < r.window {
			valid = append(valid, t)
		}
	}
	return valid
}

// sweep removes keys whose window is empty so idle clients do not pin memory.
func (r *RateLimiter) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, entries := range r.entries {
		valid := r.prune(entries, now)
		if len(valid) == 0 {
			delete(r.entries, key)
			removed++
			continue
		}
		r.entries[key] = valid
	}
	return removed
}

func (r *RateLimiter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

// ClientAddress picks the key used for rate limiting: the first
// X-Forwarded-For entry, then X-Real-IP, else "unknown".
func ClientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return unknownClient
}
