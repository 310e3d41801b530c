package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// local buckets used when Redis is not configured or errors
var (
	rlMu     sync.Mutex
	limiters = make(map[string]*rate.Limiter)
)

// allowLocal spreads maxRequests evenly over window with a burst of maxRequests.
// TODO: evict limiters of identities idle for longer than their window.
func allowLocal(key string, maxRequests int, window time.Duration) bool {
	if maxRequests <= 0 {
		return false
	}
	rlMu.Lock()
	l, ok := limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(maxRequests)), maxRequests)
		limiters[key] = l
	}
	rlMu.Unlock()
	return l.Allow()
}
