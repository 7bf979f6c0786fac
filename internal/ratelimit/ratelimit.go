// Package ratelimit implements the request rate limiting middleware for the
// chatgate gateway.
//
// Requests are admitted against a fixed-window counter held in a store
// backend (Redis when reachable, an in-process table otherwise). The
// admission check reads the counter; the request is only counted once its
// final status is known, so handlers that should not consume quota (per the
// skip flags) never do. The limiter fails open: if its own key computation
// or storage misbehaves, the request proceeds un-limited rather than being
// blocked by limiter faults.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mittyparmar/chatgate/internal/httputil"
	"github.com/mittyparmar/chatgate/internal/store"
)

// Config controls limiter behavior. It is immutable once the middleware is
// constructed.
type Config struct {
	// Window is the fixed window length hits accumulate over.
	Window time.Duration
	// MaxRequests is the number of requests allowed per window per key.
	MaxRequests int64
	// KeyFunc derives the limit key from a request.
	// Defaults to the client network address.
	KeyFunc KeyFunc
	// SkipSuccessful excludes responses with status < 400 from the count.
	SkipSuccessful bool
	// SkipFailed excludes responses with status >= 400 from the count.
	SkipFailed bool
	// StrictAdmission counts requests at admission time and refunds skipped
	// ones at completion, instead of counting at completion. This closes
	// the overshoot window for concurrent in-flight requests at the cost of
	// also counting rejected requests.
	StrictAdmission bool
}

// Event describes one evaluated request, for analytics and live streaming.
type Event struct {
	Timestamp time.Time
	ClientID  string
	Method    string
	Path      string
	Allowed   bool
	Limit     int64
	Remaining int64
	Status    int
}

// EventSink receives an Event per evaluated request. Must not block.
type EventSink func(Event)

// Limiter gates requests against a per-key fixed-window budget.
type Limiter struct {
	store store.Store
	cfg   Config
	sink  EventSink
}

// Option configures optional Limiter behavior.
type Option func(*Limiter)

// WithEventSink registers a callback invoked for every evaluated request.
func WithEventSink(sink EventSink) Option {
	return func(l *Limiter) {
		l.sink = sink
	}
}

// New creates a limiter over the provided counter store.
func New(st store.Store, cfg Config, opts ...Option) (*Limiter, error) {
	if st == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be greater than 0")
	}
	if cfg.MaxRequests <= 0 {
		return nil, fmt.Errorf("ratelimit: max requests must be greater than 0")
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIPKey(false)
	}

	l := &Limiter{store: st, cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Middleware wraps next with rate limit enforcement.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := l.computeKey(r)
		if err != nil {
			slog.Warn("ratelimit: key computation failed, skipping enforcement", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		var result store.Result
		if l.cfg.StrictAdmission {
			result, err = l.store.Increment(r.Context(), key)
		} else {
			result, err = l.store.Read(r.Context(), key)
		}
		if err != nil {
			slog.Warn("ratelimit: store unavailable, skipping enforcement", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		dec := l.decide(result)

		// Headers and events count this request as part of the window once
		// it is admitted. A rejected request never joins the window, so the
		// raw observed state is reported instead.
		view := result
		if dec.Allow && !l.cfg.StrictAdmission {
			view = admissionView(result, l.cfg.MaxRequests)
		}
		writeHeaders(w, view, l.cfg.MaxRequests)

		if !dec.Allow {
			l.reject(w, r, key, view, dec)
			return
		}

		if !l.needsCompletion() {
			next.ServeHTTP(w, r)
			return
		}

		// The increment (or refund) decision and the published event are
		// deferred until the final status code is known. The handler may
		// have canceled the request context by then, so the store call runs
		// on a detached context.
		method, path := r.Method, r.URL.Path
		base := context.WithoutCancel(r.Context())
		ri := newResponseInterceptor(w, func(status int) {
			l.complete(base, key, method, path, view, status)
		})
		defer ri.finalize()

		next.ServeHTTP(ri, r)
	})
}

// decide applies the admission rule for the active counting strategy.
func (l *Limiter) decide(result store.Result) Decision {
	if l.cfg.StrictAdmission {
		// The read already includes this request's own hit.
		return Decide(store.Result{TotalHits: result.TotalHits - 1}, l.cfg.MaxRequests, l.cfg.Window)
	}
	return Decide(result, l.cfg.MaxRequests, l.cfg.Window)
}

// needsCompletion reports whether the final response status must still be
// observed: always for deferred counting, and whenever an event sink wants
// the status actually sent; strict admission without either has nothing
// left to decide.
func (l *Limiter) needsCompletion() bool {
	if l.sink != nil {
		return true
	}
	if !l.cfg.StrictAdmission {
		return true
	}
	return l.cfg.SkipSuccessful || l.cfg.SkipFailed
}

// complete applies the deferred counting decision for an admitted request
// and publishes its event carrying the response status actually sent.
func (l *Limiter) complete(ctx context.Context, key, method, path string, view store.Result, status int) {
	counted := l.shouldCount(status)

	if l.cfg.StrictAdmission {
		if !counted {
			if err := l.store.Decrement(ctx, key); err != nil {
				slog.Warn("ratelimit: refund failed", "key", key, "error", err)
			}
		}
	} else if counted {
		if _, err := l.store.Increment(ctx, key); err != nil {
			slog.Warn("ratelimit: increment failed", "key", key, "error", err)
		}
	}

	l.publish(Event{
		Timestamp: time.Now().UTC(),
		ClientID:  key,
		Method:    method,
		Path:      path,
		Allowed:   true,
		Limit:     l.cfg.MaxRequests,
		Remaining: view.Remaining,
		Status:    status,
	})
}

// shouldCount applies the skip flags to the final response status.
func (l *Limiter) shouldCount(status int) bool {
	if status < http.StatusBadRequest && l.cfg.SkipSuccessful {
		return false
	}
	if status >= http.StatusBadRequest && l.cfg.SkipFailed {
		return false
	}
	return true
}

// reject writes the 429 response. The rejecting read itself is not counted;
// only admitted requests are, through the completion callback.
func (l *Limiter) reject(w http.ResponseWriter, r *http.Request, key string, result store.Result, dec Decision) {
	l.publish(Event{
		Timestamp: time.Now().UTC(),
		ClientID:  key,
		Method:    r.Method,
		Path:      r.URL.Path,
		Allowed:   false,
		Limit:     l.cfg.MaxRequests,
		Remaining: result.Remaining,
		Status:    http.StatusTooManyRequests,
	})

	w.Header().Set(headerRetry, fmt.Sprintf("%d", dec.RetryAfterSeconds))
	httputil.WriteJSON(w, http.StatusTooManyRequests, rejection{
		Error:      "Too many requests",
		Message:    "Rate limit exceeded. Please try again later.",
		RetryAfter: dec.RetryAfterSeconds,
	})
}

// computeKey runs the key function, converting a panic into an error so a
// broken key function cannot take down the request pipeline.
func (l *Limiter) computeKey(r *http.Request) (key string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ratelimit: key function panicked: %v", rec)
		}
	}()

	key = l.cfg.KeyFunc(r)
	if key == "" {
		return "", fmt.Errorf("ratelimit: key function returned empty key")
	}

	return key, nil
}

func (l *Limiter) publish(event Event) {
	if l.sink != nil {
		l.sink(event)
	}
}
