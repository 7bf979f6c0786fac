package analytics

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "nil database",
			cfg: Config{
				DB: nil,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if logger != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = logger.Close(ctx)
			}
		})
	}
}

func TestNewQueryServiceRequiresDB(t *testing.T) {
	if _, err := NewQueryService(nil); err == nil {
		t.Fatal("expected error for nil database")
	}
}

func TestLogger_Log(t *testing.T) {
	t.Skip("Requires database connection - covered by integration tests")
}

func TestLogger_Close(t *testing.T) {
	t.Skip("Requires database connection - covered by integration tests")
}

func TestLogger_Stats(t *testing.T) {
	t.Skip("Requires database connection - covered by integration tests")
}
