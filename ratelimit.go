package main

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	limiterMu      sync.Mutex
	limiters       = make(map[string]*rate.Limiter)
	limitPerMinute = 60
)

// setRateLimit configures the per-client request budget.
func setRateLimit(perMinute int) {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	limitPerMinute = perMinute
	limiters = make(map[string]*rate.Limiter)
}

// rateLimitAllow reports whether the client behind remoteAddr may proceed.
// One token bucket per host; the map is reset when it grows unreasonably
// large to bound memory.
func rateLimitAllow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	limiterMu.Lock()
	defer limiterMu.Unlock()
	if len(limiters) > 10000 {
		limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limitPerMinute)), limitPerMinute)
		limiters[host] = lim
	}
	return lim.Allow()
}
