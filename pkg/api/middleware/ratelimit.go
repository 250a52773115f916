package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/claudeck/claudeck/pkg/api/handlers"
)

// Bucket describes one rate-limit regime: Points requests per Window from
// a single client address. When Block is non-zero, exceeding the bucket
// additionally blocks the address for that long.
type Bucket struct {
	Name   string
	Points int
	Window time.Duration
	Block  time.Duration
}

// The fixed regimes of the API surface.
var (
	BucketLogin         = Bucket{Name: "login", Points: 5, Window: time.Minute, Block: 5 * time.Minute}
	BucketAPI           = Bucket{Name: "api", Points: 60, Window: time.Minute}
	BucketSessionCreate = Bucket{Name: "session-create", Points: 10, Window: time.Minute}
	BucketFileWrite     = Bucket{Name: "file-write", Points: 30, Window: time.Minute}
	BucketMetadata      = Bucket{Name: "metadata", Points: 120, Window: time.Minute}
	BucketTokenRefresh  = Bucket{Name: "token-refresh", Points: 10, Window: time.Minute}
	BucketTunnelStart   = Bucket{Name: "tunnel-start", Points: 1, Window: time.Hour}
)

// staleAfter is how long an idle per-client entry survives before the
// sweep removes it.
const staleAfter = 30 * time.Minute

type client struct {
	limiter      *rate.Limiter
	blockedUntil time.Time
	lastSeen     time.Time
}

// RateLimiter is a per-client-address token bucket. One instance guards
// one regime; routes share instances, not buckets.
type RateLimiter struct {
	bucket Bucket
	now    func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

// NewRateLimiter creates a limiter for the given regime.
func NewRateLimiter(bucket Bucket) *RateLimiter {
	return &RateLimiter{
		bucket:  bucket,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Allow consumes one point for the address. On refusal it returns the
// seconds the client should wait before retrying.
func (l *RateLimiter) Allow(addr string) (retryAfter int, ok bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	c, found := l.clients[addr]
	if !found {
		limit := rate.Limit(float64(l.bucket.Points) / l.bucket.Window.Seconds())
		c = &client{limiter: rate.NewLimiter(limit, l.bucket.Points)}
		l.clients[addr] = c
	}
	c.lastSeen = now

	if c.blockedUntil.After(now) {
		return ceilSeconds(c.blockedUntil.Sub(now)), false
	}

	reservation := c.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		if l.bucket.Block > 0 {
			c.blockedUntil = now.Add(l.bucket.Block)
			return ceilSeconds(l.bucket.Block), false
		}
		return ceilSeconds(delay), false
	}
	return 0, true
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < staleAfter {
		return
	}
	l.lastSweep = now
	for addr, c := range l.clients {
		if now.Sub(c.lastSeen) > staleAfter && !c.blockedUntil.After(now) {
			delete(l.clients, addr)
		}
	}
}

// Middleware applies the limiter to a route group. Refusals answer 429
// with a Retry-After header and a problem body carrying the same value.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			retryAfter, ok := l.Allow(clientAddr(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				handlers.TooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr keys the bucket. RealIP middleware has already rewritten
// RemoteAddr from the forwarding headers where configured.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
