package batch

import (
	"context"
	"errors"
	"testing"

	"sublate/internal/logging"
	"sublate/internal/queue"
	"sublate/internal/testsupport"
)

func TestCancelInStoreToleratesConcurrentCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := NewManager(cfg, store, logging.NewNop(), nil)

	ctx := context.Background()
	source := testsupport.WriteSourceFile(t, "movie.mkv")
	task, err := store.Add(ctx, source, []string{"es"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.ClaimNextPending(ctx); err != nil {
		t.Fatalf("ClaimNextPending: %v", err)
	}
	if err := store.MarkCompleted(ctx, task.ID, nil); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	// The task finished after the caller's status read; the cancel write
	// must degrade to a no-op rather than surface a transition error.
	if err := mgr.cancelInStore(ctx, task.ID); err != nil {
		t.Fatalf("cancelInStore on completed task: %v", err)
	}

	stored, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed to stand", stored.Status)
	}
}

func TestCancelInStorePropagatesUnknownTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := NewManager(cfg, store, logging.NewNop(), nil)

	if err := mgr.cancelInStore(context.Background(), 404); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
