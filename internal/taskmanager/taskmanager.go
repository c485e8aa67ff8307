// Package taskmanager implements the Task Manager (C6): three FIFO
// priority queues (download, management, fallback), each with its own
// worker pool, backed durably by internal/store.TaskHistory so that
// restart loses no terminal status.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"novastream/internal/store"
	"novastream/models"
)

// ProgressFunc is the callback a task factory uses to report progress;
// it must update TaskHistory.progress/description.
type ProgressFunc func(percent int, description string)

// TaskSuccess, when returned by a Factory, marks the task completed with
// the given final description instead of failed.
type TaskSuccess struct{ Message string }

func (e TaskSuccess) Error() string { return e.Message }

// Factory is the unit of work submitted to a queue. ctx is cancelled on
// abort_current_task; the factory must observe it between I/O steps.
type Factory func(ctx context.Context, progress ProgressFunc) error

// SubmitOptions configures submit_task.
type SubmitOptions struct {
	UniqueKey       string
	QueueType       models.QueueType
	TaskType        string
	RunImmediately  bool
	ScheduledTaskID string
}

var ErrNotFound = errors.New("taskmanager: task not found")
var ErrInvalidState = errors.New("taskmanager: invalid state for operation")

type runningTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the C6 Task Manager.
type Manager struct {
	st *store.Store

	downloadPool   *pool.ContextPool
	managementPool *pool.ContextPool
	fallbackPool   *pool.ContextPool

	mu      sync.Mutex
	running map[string]*runningTask
}

// NewManager constructs a Manager, reconciling any in-flight tasks left
// over from a previous process to failed.
func NewManager(ctx context.Context, st *store.Store, downloadWorkers, fallbackWorkers int) (*Manager, error) {
	if n, err := st.ReconcileInFlightTasks(ctx); err != nil {
		return nil, fmt.Errorf("taskmanager: reconcile: %w", err)
	} else if n > 0 {
		log.Printf("[taskmanager] reconciled %d in-flight task(s) to failed on startup", n)
	}

	if downloadWorkers < 1 {
		downloadWorkers = 1
	}
	if fallbackWorkers < 1 {
		fallbackWorkers = 1
	}

	m := &Manager{
		st:             st,
		downloadPool:   pool.New().WithMaxGoroutines(downloadWorkers).WithContext(ctx),
		managementPool: pool.New().WithMaxGoroutines(1).WithContext(ctx),
		fallbackPool:   pool.New().WithMaxGoroutines(fallbackWorkers).WithContext(ctx),
		running:        make(map[string]*runningTask),
	}
	return m, nil
}

// Wait blocks until every submitted task across all three pools has
// finished, used during graceful shutdown.
func (m *Manager) Wait() {
	_ = m.downloadPool.Wait()
	_ = m.managementPool.Wait()
	_ = m.fallbackPool.Wait()
}

func (m *Manager) poolFor(q models.QueueType) *pool.ContextPool {
	switch q {
	case models.QueueManagement:
		return m.managementPool
	case models.QueueFallback:
		return m.fallbackPool
	default:
		return m.downloadPool
	}
}

// SubmitTask enqueues factory under title, honoring unique_key dedup. It
// returns the task id and a channel closed when the task reaches a
// terminal state.
func (m *Manager) SubmitTask(ctx context.Context, factory Factory, title string, opts SubmitOptions) (string, <-chan struct{}, error) {
	if opts.QueueType == "" {
		opts.QueueType = models.QueueDownload
	}

	taskID := uuid.NewString()
	hist := models.TaskHistory{
		TaskID:          taskID,
		Title:           title,
		UniqueKey:       opts.UniqueKey,
		Status:          models.TaskQueued,
		QueueType:       opts.QueueType,
		TaskType:        opts.TaskType,
		ScheduledTaskID: opts.ScheduledTaskID,
		CreatedAt:       time.Now(),
	}

	inserted, err := m.st.InsertTaskHistory(ctx, hist)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if !opts.RunImmediately {
				return "", nil, fmt.Errorf("taskmanager: %w: unique_key %q already active", store.ErrConflict, opts.UniqueKey)
			}
			// run_immediately: hand back the existing task's done channel.
			m.mu.Lock()
			if rt, ok := m.running[inserted.TaskID]; ok {
				done := rt.done
				m.mu.Unlock()
				return inserted.TaskID, done, nil
			}
			m.mu.Unlock()
			return inserted.TaskID, closedChan(), nil
		}
		return "", nil, err
	}

	done := make(chan struct{})
	rt := &runningTask{done: done}
	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	m.mu.Lock()
	m.running[taskID] = rt
	m.mu.Unlock()

	p := m.poolFor(opts.QueueType)
	p.Go(func(ctx context.Context) error {
		m.runTask(runCtx, taskID, factory, done)
		return nil
	})

	return taskID, done, nil
}

func (m *Manager) runTask(ctx context.Context, taskID string, factory Factory, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		delete(m.running, taskID)
		m.mu.Unlock()
		close(done)
	}()

	// A task cancelled or force-failed while still queued is not run.
	if h, err := m.st.GetTaskHistory(context.Background(), taskID); err == nil && h.Status != models.TaskQueued {
		return
	}

	if err := m.st.UpdateTaskStatus(context.Background(), taskID, models.TaskRunning, ""); err != nil {
		log.Printf("[taskmanager] failed to mark %s running: %v", taskID, err)
	}

	progress := func(percent int, description string) {
		if err := m.st.UpdateTaskProgress(context.Background(), taskID, percent, description); err != nil {
			log.Printf("[taskmanager] failed to update progress for %s: %v", taskID, err)
		}
	}

	err := factory(ctx, progress)

	var success TaskSuccess
	switch {
	case err == nil:
		_ = m.st.UpdateTaskStatus(context.Background(), taskID, models.TaskCompleted, "")
	case errors.As(err, &success):
		_ = m.st.UpdateTaskStatus(context.Background(), taskID, models.TaskCompleted, success.Message)
	default:
		_ = m.st.UpdateTaskStatus(context.Background(), taskID, models.TaskFailed, err.Error())
		log.Printf("[taskmanager] task %s failed: %v", taskID, err)
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// AbortCurrentTask sends a cooperative cancel signal to a running task.
func (m *Manager) AbortCurrentTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	rt, ok := m.running[taskID]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	rt.cancel()
	return nil
}

// ForceFailTask administratively transitions a running/paused task
// directly to failed without waiting for cooperation.
func (m *Manager) ForceFailTask(ctx context.Context, taskID string) error {
	h, err := m.st.GetTaskHistory(ctx, taskID)
	if err != nil {
		return err
	}
	if h.Status.IsTerminal() {
		return ErrInvalidState
	}
	m.mu.Lock()
	if rt, ok := m.running[taskID]; ok {
		rt.cancel()
	}
	m.mu.Unlock()
	return m.st.UpdateTaskStatus(ctx, taskID, models.TaskFailed, "force failed by administrator")
}

// PauseTask transitions a running task to paused; no-op in any other
// state.
func (m *Manager) PauseTask(ctx context.Context, taskID string) error {
	h, err := m.st.GetTaskHistory(ctx, taskID)
	if err != nil {
		return err
	}
	if h.Status != models.TaskRunning {
		return nil
	}
	return m.st.UpdateTaskStatus(ctx, taskID, models.TaskPaused, h.Description)
}

// ResumeTask transitions a paused task back to running; no-op otherwise.
func (m *Manager) ResumeTask(ctx context.Context, taskID string) error {
	h, err := m.st.GetTaskHistory(ctx, taskID)
	if err != nil {
		return err
	}
	if h.Status != models.TaskPaused {
		return nil
	}
	return m.st.UpdateTaskStatus(ctx, taskID, models.TaskRunning, h.Description)
}

// CancelPendingTask removes a still-queued submission. Since submissions
// are dispatched onto the worker pool immediately, a pending cancel only
// succeeds while the task is still queued (not yet picked up by a
// worker); once running, use AbortCurrentTask.
func (m *Manager) CancelPendingTask(ctx context.Context, taskID string) error {
	h, err := m.st.GetTaskHistory(ctx, taskID)
	if err != nil {
		return err
	}
	if h.Status != models.TaskQueued {
		return ErrInvalidState
	}
	return m.st.UpdateTaskStatus(ctx, taskID, models.TaskFailed, "cancelled before start")
}

// GetTask returns the durable TaskHistory row for taskID.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*models.TaskHistory, error) {
	return m.st.GetTaskHistory(ctx, taskID)
}
