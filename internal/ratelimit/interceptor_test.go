package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInterceptorForwardsContentUnchanged(t *testing.T) {
	rec := httptest.NewRecorder()
	ri := newResponseInterceptor(rec, func(int) {})

	ri.Header().Set("X-Custom", "value")
	ri.WriteHeader(http.StatusCreated)
	if _, err := ri.Write([]byte("payload")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("expected forwarded status 201, got %d", rec.Code)
	}
	if rec.Body.String() != "payload" {
		t.Errorf("expected forwarded body, got %q", rec.Body.String())
	}
	if rec.Header().Get("X-Custom") != "value" {
		t.Error("expected forwarded header")
	}
}

func TestInterceptorFinalizeIsIdempotent(t *testing.T) {
	calls := 0
	ri := newResponseInterceptor(httptest.NewRecorder(), func(int) { calls++ })

	ri.WriteHeader(http.StatusOK)
	ri.finalize()
	ri.finalize()
	ri.finalize()

	if calls != 1 {
		t.Fatalf("expected exactly 1 completion call, got %d", calls)
	}
}

func TestInterceptorRecordsLastStatus(t *testing.T) {
	var got int
	ri := newResponseInterceptor(httptest.NewRecorder(), func(status int) { got = status })

	ri.WriteHeader(http.StatusOK)
	ri.WriteHeader(http.StatusBadGateway)
	ri.finalize()

	if got != http.StatusBadGateway {
		t.Fatalf("expected last status 502, got %d", got)
	}
}

func TestInterceptorImplicitStatus(t *testing.T) {
	var got int
	ri := newResponseInterceptor(httptest.NewRecorder(), func(status int) { got = status })

	// No WriteHeader at all.
	ri.finalize()

	if got != http.StatusOK {
		t.Fatalf("expected implicit 200, got %d", got)
	}
}

func TestInterceptorFlushPassthrough(t *testing.T) {
	rec := httptest.NewRecorder()
	ri := newResponseInterceptor(rec, func(int) {})

	var _ http.Flusher = ri
	ri.Flush()

	if !rec.Flushed {
		t.Fatal("expected flush to reach the underlying writer")
	}
}

func TestInterceptorUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	ri := newResponseInterceptor(rec, func(int) {})

	if ri.Unwrap() != rec {
		t.Fatal("expected Unwrap to expose the underlying writer")
	}
}
