package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// ipRateLimiter keeps one token bucket per client IP. Idle entries expire
// from the LRU so the map stays bounded.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// newIPRateLimiter allows perSecond requests per IP with the given burst. A
// non-positive rate disables limiting.
func newIPRateLimiter(perSecond float64, burst, cacheSize int, ttl time.Duration) *ipRateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &ipRateLimiter{
		visitors: expirable.NewLRU[string, *rate.Limiter](cacheSize, nil, ttl),
		limit:    limit,
		burst:    burst,
	}
}

func (l *ipRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.visitors.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.visitors.Add(ip, lim)
	}
	return lim
}

func (l *ipRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		if !l.limiter(host).Allow() {
			w.Header().Set("Retry-After", "1")
			writeErrorMessage(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
