package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window, per-client-IP request limiter. Mount it on
// the routes it should guard; expired buckets are collected by StartGC.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter allows max requests per window per client IP. max <= 0
// disables limiting.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// StartGC drops expired buckets every window until done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(rl.window)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, k)
		}
	}
}

// Allow records one request from ip and reports whether it is within the
// limit.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.max <= 0 {
		return true
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok || now.After(b.resetAt) {
		rl.buckets[ip] = &bucket{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	b.count++
	return b.count <= rl.max
}

// Middleware rejects requests over the limit with a 429 JSON body.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ExtractIP(r)
		if rl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("ratelimit: request blocked", "ip", ip, "endpoint", r.Method+" "+r.URL.Path)
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
