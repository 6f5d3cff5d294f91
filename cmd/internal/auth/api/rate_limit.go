package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// loginLimiter tracks failed login attempts per key (client IP or
// normalized username) in a sliding window. Successful logins are not
// counted, so legitimate users are never throttled by their own activity.
type loginLimiter struct {
	mu     sync.Mutex
	byKey  map[string][]time.Time
	limit  int
	window time.Duration
}

func newLoginLimiter(limit int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		byKey:  make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Blocked reports whether the key has exhausted its failure budget, and if
// so, how long until the oldest counted failure leaves the window.
func (l *loginLimiter) Blocked(key string, now time.Time) (bool, time.Duration) {
	if l == nil || key == "" || l.limit <= 0 {
		return false, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.prune(key, now)
	if len(events) < l.limit {
		return false, 0
	}
	retry := events[0].Add(l.window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return true, retry
}

// RecordFailure counts one failed attempt against the key.
func (l *loginLimiter) RecordFailure(key string, now time.Time) {
	if l == nil || key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byKey[key] = append(l.prune(key, now), now)
}

func (l *loginLimiter) prune(key string, now time.Time) []time.Time {
	cut := now.Add(-l.window)
	events := l.byKey[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	if len(dst) == 0 {
		delete(l.byKey, key)
		return nil
	}
	l.byKey[key] = dst
	return dst
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
