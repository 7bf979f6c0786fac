package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	gatehttp "github.com/mittyparmar/chatgate/internal/httputil"
)

// AdminGuard applies a per-caller token bucket to management endpoints so a
// misbehaving dashboard cannot hammer the analytics database. It is separate
// from the gateway rate limiter: admin traffic never touches the shared
// counter store.
type AdminGuard struct {
	mu           sync.Mutex
	entries      map[string]*guardEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type guardEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// GuardOption customizes an AdminGuard.
type GuardOption func(*AdminGuard)

// WithIdleTTL sets how long an idle caller entry is retained.
func WithIdleTTL(d time.Duration) GuardOption {
	return func(g *AdminGuard) { g.idleTTL = d }
}

// WithCleanupEvery sets the sweep interval for idle entries.
func WithCleanupEvery(d time.Duration) GuardOption {
	return func(g *AdminGuard) { g.cleanupEvery = d }
}

// NewAdminGuard creates a guard allowing rps sustained requests per caller
// with the given burst.
func NewAdminGuard(rps float64, burst int, opts ...GuardOption) *AdminGuard {
	g := &AdminGuard{
		entries:      make(map[string]*guardEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *AdminGuard) limiterFor(key string) *rate.Limiter {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if ent, ok := g.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(g.rps, g.burst)
	g.entries[key] = &guardEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup removes entries idle longer than the configured TTL.
func (g *AdminGuard) Cleanup() {
	cutoff := time.Now().Add(-g.idleTTL)

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, ent := range g.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(g.entries, k)
		}
	}
}

// StartJanitor sweeps idle entries periodically until ctx is canceled.
func (g *AdminGuard) StartJanitor(ctx context.Context) {
	if g.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(g.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				g.Cleanup()
			}
		}
	}()
}

// Middleware wraps next with the per-caller token bucket. Callers are keyed
// by remote IP.
func (g *AdminGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := remoteIP(r)
		if !g.limiterFor(key).Allow() {
			gatehttp.WriteJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
