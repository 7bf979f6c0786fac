package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/mittyparmar/chatgate/internal/store"
)

// Response headers set on every evaluated request, allowed or not.
const (
	headerLimit     = "X-RateLimit-Limit"
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"
	headerTotal     = "X-RateLimit-Total"
	headerRetry     = "Retry-After"
)

// Decision is the outcome of evaluating a window state against the limit.
type Decision struct {
	// Allow reports whether the request may proceed.
	Allow bool
	// RetryAfterSeconds is how long a rejected client should wait.
	// Zero when allowed.
	RetryAfterSeconds int
}

// rejection is the JSON body returned with a 429.
type rejection struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Decide evaluates the observed window state against the configured limit.
// Pure: same inputs always produce the same decision.
func Decide(result store.Result, maxRequests int64, window time.Duration) Decision {
	if result.TotalHits < maxRequests {
		return Decision{Allow: true}
	}

	return Decision{
		Allow:             false,
		RetryAfterSeconds: int(math.Ceil(window.Seconds())),
	}
}

// admissionView returns the window state as it will stand once the current
// request is counted. Enforcement reads run before the deferred increment,
// so the raw read lags by one; clients expect headers that already account
// for the request they just made.
func admissionView(result store.Result, maxRequests int64) store.Result {
	result.TotalHits++
	if result.TotalHits >= maxRequests {
		result.Remaining = 0
	} else {
		result.Remaining = maxRequests - result.TotalHits
	}
	return result
}

// writeHeaders sets the rate limit headers from the admission-time read.
// X-RateLimit-Reset is epoch milliseconds.
func writeHeaders(w http.ResponseWriter, result store.Result, maxRequests int64) {
	h := w.Header()
	h.Set(headerLimit, strconv.FormatInt(maxRequests, 10))
	h.Set(headerRemaining, strconv.FormatInt(result.Remaining, 10))
	h.Set(headerReset, strconv.FormatInt(result.ResetAt.UnixMilli(), 10))
	h.Set(headerTotal, strconv.FormatInt(result.TotalHits, 10))
}
