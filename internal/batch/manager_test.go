package batch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sublate/internal/batch"
	"sublate/internal/logging"
	"sublate/internal/queue"
	"sublate/internal/testsupport"
)

type fakeProcessor struct {
	mu            sync.Mutex
	credentialErr error
	handler       func(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error)

	active  atomic.Int32
	peak    atomic.Int32
	started atomic.Int32
}

func (f *fakeProcessor) ValidateCredential(context.Context) error {
	return f.credentialErr
}

func (f *fakeProcessor) Process(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error) {
	f.started.Add(1)
	current := f.active.Add(1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	defer f.active.Add(-1)

	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		return handler(ctx, task, report)
	}
	report(0.5)
	report(1.0)
	return []queue.Result{{Language: task.TargetLanguages[0], OutputPath: "out.srt", Synchronized: true}}, nil
}

func (f *fakeProcessor) setHandler(h func(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error)) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func newTestManager(t *testing.T, proc *fakeProcessor, opts ...testsupport.ConfigOption) (*batch.Manager, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := batch.NewManager(cfg, store, logging.NewNop(), proc)
	return mgr, store
}

func waitForDrain(t *testing.T, mgr *batch.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestAddValidatesSubmission(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeProcessor{})
	ctx := context.Background()
	source := testsupport.WriteSourceFile(t, "movie.mkv")

	var validationErr *batch.ValidationError
	if _, err := mgr.Add(ctx, "", []string{"spanish"}); !errors.As(err, &validationErr) {
		t.Fatalf("empty source: expected ValidationError, got %v", err)
	}
	if _, err := mgr.Add(ctx, "/does/not/exist.mkv", []string{"spanish"}); !errors.As(err, &validationErr) {
		t.Fatalf("missing source: expected ValidationError, got %v", err)
	}
	if _, err := mgr.Add(ctx, source, nil); !errors.As(err, &validationErr) {
		t.Fatalf("no languages: expected ValidationError, got %v", err)
	}
	if _, err := mgr.Add(ctx, source, []string{"klingon"}); !errors.As(err, &validationErr) {
		t.Fatalf("unknown language: expected ValidationError, got %v", err)
	}

	task, err := mgr.Add(ctx, source, []string{"Spanish", "fra"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := task.TargetLanguages; len(got) != 2 || got[0] != "es" || got[1] != "fr" {
		t.Fatalf("unexpected normalized languages: %v", got)
	}
	if task.Status != queue.StatusPending {
		t.Fatalf("new task status = %s, want pending", task.Status)
	}
}

func TestStartRejectsBadCredential(t *testing.T) {
	proc := &fakeProcessor{credentialErr: errors.New("401 unauthorized")}
	mgr, _ := newTestManager(t, proc)

	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected credential error from Start")
	}
	if proc.started.Load() != 0 {
		t.Fatal("no tasks should start when the credential check fails")
	}
}

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	const limit = 2
	proc := &fakeProcessor{}
	proc.setHandler(func(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error) {
		time.Sleep(30 * time.Millisecond)
		report(1.0)
		return []queue.Result{{Language: "es", OutputPath: "out.srt"}}, nil
	})
	mgr, store := newTestManager(t, proc, testsupport.WithMaxConcurrent(limit))

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		source := testsupport.WriteSourceFile(t, "clip.mkv")
		if _, err := mgr.Add(ctx, source, []string{"es"}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForDrain(t, mgr)
	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if peak := proc.peak.Load(); peak > limit {
		t.Fatalf("observed %d concurrent tasks, limit is %d", peak, limit)
	}
	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[queue.StatusCompleted] != 8 {
		t.Fatalf("completed = %d, want 8", counts[queue.StatusCompleted])
	}
}

func TestProgressEventsPrecedeTerminal(t *testing.T) {
	proc := &fakeProcessor{}
	mgr, _ := newTestManager(t, proc, testsupport.WithMaxConcurrent(1))

	var mu sync.Mutex
	var sequence []string
	mgr.Events().OnProgress(func(id int64, progress float64) {
		mu.Lock()
		sequence = append(sequence, "progress")
		mu.Unlock()
	})
	mgr.Events().OnComplete(func(task queue.Task) {
		mu.Lock()
		sequence = append(sequence, "complete")
		mu.Unlock()
	})
	mgr.Events().OnError(func(task queue.Task, err error) {
		mu.Lock()
		sequence = append(sequence, "error")
		mu.Unlock()
	})

	ctx := context.Background()
	source := testsupport.WriteSourceFile(t, "movie.mkv")
	if _, err := mgr.Add(ctx, source, []string{"es"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForDrain(t, mgr)
	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sequence) != 3 {
		t.Fatalf("unexpected event sequence: %v", sequence)
	}
	if sequence[0] != "progress" || sequence[1] != "progress" || sequence[2] != "complete" {
		t.Fatalf("events out of order: %v", sequence)
	}
}

func TestFailedTaskEmitsSingleErrorEvent(t *testing.T) {
	boom := errors.New("transcription exploded")
	proc := &fakeProcessor{}
	proc.setHandler(func(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error) {
		return nil, boom
	})
	mgr, store := newTestManager(t, proc, testsupport.WithMaxConcurrent(1))

	var errorEvents atomic.Int32
	var completeEvents atomic.Int32
	mgr.Events().OnError(func(task queue.Task, err error) {
		errorEvents.Add(1)
		if !errors.Is(err, boom) {
			t.Errorf("error event carried %v, want %v", err, boom)
		}
		if task.Status != queue.StatusFailed {
			t.Errorf("error event task status = %s, want failed", task.Status)
		}
	})
	mgr.Events().OnComplete(func(queue.Task) { completeEvents.Add(1) })

	ctx := context.Background()
	source := testsupport.WriteSourceFile(t, "movie.mkv")
	task, err := mgr.Add(ctx, source, []string{"es"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForDrain(t, mgr)
	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := errorEvents.Load(); n != 1 {
		t.Fatalf("error events = %d, want 1", n)
	}
	if n := completeEvents.Load(); n != 0 {
		t.Fatalf("complete events = %d, want 0", n)
	}
	stored, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.ErrorMessage == "" {
		t.Fatal("failed task should record the error message")
	}
}

func TestCancelPendingTaskEmitsNoEvents(t *testing.T) {
	proc := &fakeProcessor{}
	mgr, store := newTestManager(t, proc)

	var events atomic.Int32
	mgr.Events().OnProgress(func(int64, float64) { events.Add(1) })
	mgr.Events().OnComplete(func(queue.Task) { events.Add(1) })
	mgr.Events().OnError(func(queue.Task, error) { events.Add(1) })

	ctx := context.Background()
	source := testsupport.WriteSourceFile(t, "movie.mkv")
	task, err := mgr.Add(ctx, source, []string{"es"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mgr.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	stored, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", stored.Status)
	}
	if err := mgr.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("cancelling a terminal task should be a no-op, got %v", err)
	}
	if proc.started.Load() != 0 {
		t.Fatal("cancelled task must never start processing")
	}
	if events.Load() != 0 {
		t.Fatal("cancelled task must not emit events")
	}
}

func TestCancelInFlightTask(t *testing.T) {
	processing := make(chan int64, 1)
	proc := &fakeProcessor{}
	proc.setHandler(func(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error) {
		processing <- task.ID
		<-ctx.Done()
		return nil, ctx.Err()
	})
	mgr, store := newTestManager(t, proc, testsupport.WithMaxConcurrent(1))

	var errorEvents atomic.Int32
	mgr.Events().OnError(func(queue.Task, error) { errorEvents.Add(1) })

	ctx := context.Background()
	source := testsupport.WriteSourceFile(t, "movie.mkv")
	task, err := mgr.Add(ctx, source, []string{"es"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-processing:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started processing")
	}

	if err := mgr.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitForDrain(t, mgr)
	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stored, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", stored.Status)
	}
	if errorEvents.Load() != 0 {
		t.Fatal("cancellation must not raise an error event")
	}
}

func TestStopCancelsPendingAndDrains(t *testing.T) {
	release := make(chan struct{})
	processing := make(chan struct{}, 1)
	proc := &fakeProcessor{}
	proc.setHandler(func(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error) {
		processing <- struct{}{}
		select {
		case <-release:
			return []queue.Result{{Language: "es", OutputPath: "out.srt"}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	mgr, store := newTestManager(t, proc, testsupport.WithMaxConcurrent(1))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		source := testsupport.WriteSourceFile(t, "movie.mkv")
		if _, err := mgr.Add(ctx, source, []string{"es"}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-processing:
	case <-time.After(5 * time.Second):
		t.Fatal("no task started processing")
	}

	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(release)

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[queue.StatusProcessing] != 0 || counts[queue.StatusPending] != 0 {
		t.Fatalf("tasks left active after stop: %v", counts)
	}
	if counts[queue.StatusCancelled] != 3 {
		t.Fatalf("cancelled = %d, want 3", counts[queue.StatusCancelled])
	}
}

func TestCancelUnknownTask(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeProcessor{})
	if err := mgr.Cancel(context.Background(), 999); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeProcessor{})
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(ctx)
	if err := mgr.Start(ctx); err == nil {
		t.Fatal("second Start should fail while running")
	}
}
