package api

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitMiddleware enforces a per-client request rate.
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !a.limiterFor(ip).Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// limiterFor returns the limiter for a client, creating it on first
// sight.
func (a *API) limiterFor(ip string) *rate.Limiter {
	a.rateLimitersMu.Lock()
	defer a.rateLimitersMu.Unlock()

	entry, ok := a.rateLimiters[ip]
	if !ok {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(
				rate.Limit(a.config.API.RateLimit.RequestsPerSecond),
				a.config.API.RateLimit.Burst,
			),
		}
		a.rateLimiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// cleanupRateLimiters drops limiters for clients not seen recently so
// the map cannot grow without bound.
func (a *API) cleanupRateLimiters() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if entry.lastSeen.Before(cutoff) {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()
		}
	}
}
