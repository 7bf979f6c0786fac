package ratelimit

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
)

// responseInterceptor decorates an http.ResponseWriter so the final status
// code of a response can be consulted after the handler chain returns. All
// writes are forwarded unchanged; the only addition is a side effect at
// finalization time.
type responseInterceptor struct {
	http.ResponseWriter

	status     int
	once       sync.Once
	onComplete func(status int)
}

func newResponseInterceptor(w http.ResponseWriter, onComplete func(status int)) *responseInterceptor {
	return &responseInterceptor{
		ResponseWriter: w,
		onComplete:     onComplete,
	}
}

// WriteHeader records the status code and forwards the call. The status may
// be set more than once by sloppy handlers; the last value wins for the
// completion decision even though the server only honors the first.
func (ri *responseInterceptor) WriteHeader(code int) {
	ri.status = code
	ri.ResponseWriter.WriteHeader(code)
}

// Write forwards the body, recording the implicit 200 if the handler never
// set a status explicitly.
func (ri *responseInterceptor) Write(p []byte) (int, error) {
	if ri.status == 0 {
		ri.status = http.StatusOK
	}
	return ri.ResponseWriter.Write(p)
}

// finalize invokes the completion callback exactly once, even if the
// response end is observed through more than one path.
func (ri *responseInterceptor) finalize() {
	ri.once.Do(func() {
		status := ri.status
		if status == 0 {
			status = http.StatusOK
		}
		ri.onComplete(status)
	})
}

// Flush forwards to the underlying writer so streaming responses keep
// working through the limiter.
func (ri *responseInterceptor) Flush() {
	if f, ok := ri.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards connection hijacking so WebSocket upgrades behind the
// gateway are unaffected by the wrapping.
func (ri *responseInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := ri.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("ratelimit: underlying ResponseWriter does not support hijacking")
}

// Unwrap exposes the underlying writer for http.ResponseController.
func (ri *responseInterceptor) Unwrap() http.ResponseWriter {
	return ri.ResponseWriter
}
