package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mittyparmar/chatgate/internal/store"
)

func TestHealthHandler(t *testing.T) {
	local, err := store.NewMemoryStore(time.Minute, 10)
	if err != nil {
		t.Fatalf("failed to create memory store: %v", err)
	}
	selector := store.NewSelector(local)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(selector)(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, `"service":"chatgate"`) {
		t.Errorf("Expected service name in body, got %s", body)
	}
	if !strings.Contains(body, `"backend":"local"`) {
		t.Errorf("Expected local backend in body, got %s", body)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := logLevel(tt.in); got != tt.want {
			t.Errorf("logLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
