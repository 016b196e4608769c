package delivery

import (
	"sync"
	"time"
)

// RateLimiter rejects identical content to the same group within a window.
// Different content to the same group is never throttled.
type RateLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{window: window, now: time.Now, last: map[string]time.Time{}}
}

// rateKey joins group and content with a NUL so ("ab","c") and ("a","bc") differ.
func rateKey(groupID, content string) string {
	return groupID + "\x00" + content
}

// Check records the send and returns nil, or ErrRateLimitExceeded when the
// same content went to the group less than window ago.
func (r *RateLimiter) Check(groupID, content string) error {
	if r.window <= 0 {
		return nil
	}
	now := r.now()
	key := rateKey(groupID, content)

	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.last[key]; ok && now.Sub(last) < r.window {
		return ErrRateLimitExceeded
	}
	r.last[key] = now
	return nil
}

// Cleanup drops entries older than the window and returns how many went.
func (r *RateLimiter) Cleanup() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, t := range r.last {
		if now.Sub(t) > r.window {
			delete(r.last, k)
			n++
		}
	}
	return n
}

// Len reports the number of tracked (group, content) keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.last)
}
