package notifications_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"sublate/internal/config"
	"sublate/internal/notifications"
)

func TestNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""

	service := notifications.NewService(&cfg)
	if err := service.NotifyBatchStarted(context.Background(), 3); err != nil {
		t.Fatalf("noop service should never fail: %v", err)
	}
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop test notification should never fail: %v", err)
	}
}

func TestNtfyDelivery(t *testing.T) {
	var received atomic.Int32
	var lastTitle atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		lastTitle.Store(r.Header.Get("Title"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	service := notifications.NewService(&cfg)

	ctx := context.Background()
	if err := service.NotifyBatchCompleted(ctx, 5, 1, 90*time.Second); err != nil {
		t.Fatalf("NotifyBatchCompleted failed: %v", err)
	}
	if err := service.NotifyTaskFailed(ctx, "/media/movie.mkv", "retry budget exhausted"); err != nil {
		t.Fatalf("NotifyTaskFailed failed: %v", err)
	}

	if received.Load() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", received.Load())
	}
	if got := lastTitle.Load(); got != "Sublate - Task Failed" {
		t.Fatalf("unexpected title: %v", got)
	}
}

func TestNtfyErrorStatusSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	service := notifications.NewService(&cfg)

	if err := service.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
