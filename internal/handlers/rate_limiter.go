package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/giftcraft/experience/internal/platform/clock"
)

// clientLimiter admits limit requests per client key in a fixed window.
// A ticker on the scheduler drops finished windows, so anonymous viewer
// addresses do not pile up between requests.
type clientLimiter struct {
	limit     int
	window    time.Duration
	scheduler clock.Scheduler

	mu      sync.Mutex
	windows map[string]*clientWindow
	sweeper clock.Timer
}

type clientWindow struct {
	hits  int
	until time.Time
}

// newClientLimiter returns nil, which admits everything, when limit or window is not positive.
func newClientLimiter(limit int, window time.Duration, scheduler clock.Scheduler) *clientLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if scheduler == nil {
		scheduler = clock.NewReal()
	}
	l := &clientLimiter{
		limit:     limit,
		window:    window,
		scheduler: scheduler,
		windows:   make(map[string]*clientWindow),
	}
	l.sweeper = clock.Ticker(scheduler, window, func() { l.sweep() })
	return l
}

// Allow records a hit for key and reports whether it is within the limit.
func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.scheduler.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.until) {
		l.windows[key] = &clientWindow{hits: 1, until: now.Add(l.window)}
		return true
	}
	if w.hits >= l.limit {
		return false
	}
	w.hits++
	return true
}

// sweep forgets finished windows and returns how many it dropped.
func (l *clientLimiter) sweep() int {
	now := l.scheduler.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for key, w := range l.windows {
		if !now.Before(w.until) {
			delete(l.windows, key)
			dropped++
		}
	}
	return dropped
}

func (l *clientLimiter) tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Stop ends the sweep ticker.
func (l *clientLimiter) Stop() {
	if l == nil || l.sweeper == nil {
		return
	}
	l.sweeper.Stop()
}

// throttle rejects requests over l's limit with 429. The key identifies the caller.
func throttle(l *clientLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(key(r)) {
				writeRateLimited(r.Context(), w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
