package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiterEntry: a limiter and when it was last used
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimit limits new websocket connections per client address
type IPRateLimit struct {
	limiters map[string]*ipLimiterEntry
	every    time.Duration
	burst    int
	now      func() time.Time
	mu       sync.Mutex
}

// NewIPRateLimit: allows one connection per interval with the given burst
func NewIPRateLimit(every time.Duration, burst int) *IPRateLimit {
	return &IPRateLimit{
		limiters: make(map[string]*ipLimiterEntry),
		every:    every,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow: checks if an IP may open another connection
func (iprl *IPRateLimit) Allow(ip string) bool {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	entry, exists := iprl.limiters[ip]
	if !exists {
		entry = &ipLimiterEntry{
			limiter: rate.NewLimiter(rate.Every(iprl.every), iprl.burst),
		}
		iprl.limiters[ip] = entry
	}
	entry.lastSeen = iprl.now()

	return entry.limiter.AllowN(entry.lastSeen, 1)
}

// Cleanup: drops limiters unused for maxIdle, returns how many
func (iprl *IPRateLimit) Cleanup(maxIdle time.Duration) int {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	now := iprl.now()
	removed := 0
	for ip, entry := range iprl.limiters {
		if now.Sub(entry.lastSeen) > maxIdle {
			delete(iprl.limiters, ip)
			removed++
		}
	}
	return removed
}

// Len: number of tracked addresses
func (iprl *IPRateLimit) Len() int {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	return len(iprl.limiters)
}
