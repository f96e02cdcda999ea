package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/config"
)

func TestRunStopsWithinShutdownTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "talkline.db")
	cfg.ShutdownTimeout = 2 * time.Second
	logger := zerolog.Nop()

	a, err := New(cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(cfg.ShutdownTimeout + 3*time.Second):
		t.Fatal("app did not stop after context cancellation")
	}
}
