package ghauth

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRateLimiter_AllowsUpToLimitThenRejects(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(DefaultRateWindow, DefaultRateLimit, clock.Now)

	for i := 0; i < 10; i++ {
		res := rl.Check("1.2.3.4")
		assert.True(t, res.Allowed, "request %d", i+1)
		clock.Advance(30 * time.Second)
	}

	res := rl.Check("1.2.3.4")
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, 0)
	assert.LessOrEqual(t, res.RetryAfter, 900)
	// Oldest request was 300s ago, so it leaves the window in 600s.
	assert.Equal(t, 600, res.RetryAfter)
	assert.Equal(t, 10, rl.Count("1.2.3.4"), "rejected requests are not recorded")
}

func TestRateLimiter_RetryAfterRoundsUp(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(time.Minute, 1, clock.Now)

	assert.True(t, rl.Check("a").Allowed)
	clock.Advance(59*time.Second + 500*time.Millisecond)

	res := rl.Check("a")
	assert.False(t, res.Allowed)
	assert.Equal(t, 1, res.RetryAfter)
}

func TestRateLimiter_WindowResets(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(DefaultRateWindow, DefaultRateLimit, clock.Now)

	for i := 0; i < 10; i++ {
		rl.Check("1.2.3.4")
	}
	assert.False(t, rl.Check("1.2.3.4").Allowed)

	clock.Advance(15 * time.Minute)

	assert.True(t, rl.Check("1.2.3.4").Allowed)
	assert.Equal(t, 1, rl.Count("1.2.3.4"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(time.Minute, 1, clock.Now)

	assert.True(t, rl.Check("a").Allowed)
	assert.False(t, rl.Check("a").Allowed)
	assert.True(t, rl.Check("b").Allowed)

	rl.Reset("a")
	assert.True(t, rl.Check("a").Allowed)
}

func TestRateLimiter_SweepEvictsEmptyWindows(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(time.Minute, 5, clock.Now)

	rl.Check("old")
	clock.Advance(45 * time.Second)
	rl.Check("fresh")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, rl.sweep())

	rl.mu.Lock()
	_, hasOld := rl.entries["old"]
	fresh := rl.entries["fresh"]
	rl.mu.Unlock()
	assert.False(t, hasOld)
	assert.Len(t, fresh, 1)
}

func TestRateLimiter_ConcurrentBurstDoesNotUndercount(t *testing.T) {
	rl := newRateLimiter(time.Hour, 10, time.Now)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Check("burst").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	rl.Stop()
	rl.Stop()
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded for first entry", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1", "X-Real-IP": "10.9.9.9"}, "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"empty forwarded falls through", map[string]string{"X-Forwarded-For": " , 10.0.0.1", "X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"nothing", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/auth/start", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientAddress(r))
		})
	}
}

func TestLimitResult_Err(t *testing.T) {
	assert.NoError(t, LimitResult{Allowed: true}.Err())

	var rerr *RateLimitError
	require.ErrorAs(t, LimitResult{RetryAfter: 42}.Err(), &rerr)
	assert.Equal(t, 42, rerr.RetryAfter)
	assert.Equal(t, "rate limited: retry after 42s", rerr.Error())
}
