package taskmanager_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"novastream/internal/store"
	"novastream/internal/taskmanager"
	"novastream/models"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSubmitTask_UniqueKeyDedup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mgr, err := taskmanager.NewManager(ctx, st, 1, 1)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	block := make(chan struct{})
	factory := func(ctx context.Context, progress taskmanager.ProgressFunc) error {
		<-block
		return nil
	}

	_, done1, err := mgr.SubmitTask(ctx, factory, "refresh anime 1", taskmanager.SubmitOptions{
		UniqueKey: "refresh:1", QueueType: models.QueueDownload,
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	_, _, err = mgr.SubmitTask(ctx, factory, "refresh anime 1 again", taskmanager.SubmitOptions{
		UniqueKey: "refresh:1", QueueType: models.QueueDownload,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	close(block)
	select {
	case <-done1:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete")
	}
	mgr.Wait()
}

func TestReconcileInFlightTasks_MarksFailedOnRestart(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	hist := models.TaskHistory{
		TaskID:    "stale-task",
		Title:     "stale",
		Status:    models.TaskRunning,
		QueueType: models.QueueDownload,
		CreatedAt: time.Now(),
	}
	if _, err := st.InsertTaskHistory(ctx, hist); err != nil {
		t.Fatalf("InsertTaskHistory: %v", err)
	}

	if _, err := taskmanager.NewManager(ctx, st, 1, 1); err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	got, err := st.GetTaskHistory(ctx, "stale-task")
	if err != nil {
		t.Fatalf("GetTaskHistory: %v", err)
	}
	if got.Status != models.TaskFailed {
		t.Fatalf("status = %v, want failed", got.Status)
	}
	if got.Description != "process restarted" {
		t.Fatalf("description = %q, want %q", got.Description, "process restarted")
	}
}

func TestForceFailTask_OverridesRunningTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mgr, err := taskmanager.NewManager(ctx, st, 1, 1)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	block := make(chan struct{})
	factory := func(ctx context.Context, progress taskmanager.ProgressFunc) error {
		<-ctx.Done()
		return ctx.Err()
	}
	taskID, done, err := mgr.SubmitTask(ctx, factory, "stuck", taskmanager.SubmitOptions{QueueType: models.QueueFallback})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	_ = block

	time.Sleep(50 * time.Millisecond) // let the worker pick it up
	if err := mgr.ForceFailTask(ctx, taskID); err != nil {
		t.Fatalf("ForceFailTask: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not terminate after force fail")
	}

	got, err := st.GetTaskHistory(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTaskHistory: %v", err)
	}
	if got.Status != models.TaskFailed {
		t.Fatalf("status = %v, want failed", got.Status)
	}
}
