package httpx

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"golang.org/x/time/rate"
)

// visitor holds a user's bucket and the last time it was used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserLimiter is a token bucket per authenticated user. Idle buckets are
// evicted by Run.
type UserLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int

	Now func() time.Time
}

func NewUserLimiter(perSecond float64, burst int) *UserLimiter {
	return &UserLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		Now:      time.Now,
	}
}

func (l *UserLimiter) Allow(userID string) bool {
	l.mu.Lock()
	v, ok := l.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[userID] = v
	}
	v.lastSeen = l.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

// Cleanup drops buckets not used for longer than idle and returns how many.
func (l *UserLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now()
	n := 0
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > idle {
			delete(l.visitors, id)
			n++
		}
	}
	return n
}

// Run evicts idle buckets every interval until ctx is done.
func (l *UserLimiter) Run(ctx context.Context, every, idle time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			l.Cleanup(idle)
		}
	}
}

func (l *UserLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Middleware must run after auth.
func (l *UserLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		if !l.Allow(id.UserID) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
