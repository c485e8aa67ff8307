// Package scheduler is the Scheduler (C7): a cron-driven job producer
// feeding the Task Manager, generalizing the teacher's ticker-based
// services/scheduler/service.go from a fixed frequency enum to arbitrary
// cron expressions, with singleton job-type enforcement and a real
// minimum-interval check for incrementalRefresh.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"novastream/internal/cronexpr"
	"novastream/internal/store"
	"novastream/models"
)

const minIncrementalRefreshInterval = 3 * time.Hour

// Service is the C7 Scheduler.
type Service struct {
	st     *store.Store
	submit SubmitFunc
	jobs   map[string]Job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	checkInterval time.Duration
}

// NewService builds a Service from the compile-time job registry.
func NewService(st *store.Store, submit SubmitFunc) *Service {
	jobs := make(map[string]Job, len(Registered))
	for _, j := range Registered {
		jobs[j.JobType()] = j
	}
	return &Service{st: st, submit: submit, jobs: jobs, checkInterval: time.Minute}
}

// CreateScheduledTask validates and persists a new cron entry, enforcing
// the >=3h incrementalRefresh rule and singleton job types.
func (s *Service) CreateScheduledTask(ctx context.Context, name, jobType, cronExpr string, enabled bool) (*models.ScheduledTask, error) {
	expr, err := cronexpr.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression: %w", err)
	}

	if jobType == "incrementalRefresh" {
		min := expr.MinInterval(time.Now(), 4)
		if min > 0 && min < minIncrementalRefreshInterval {
			return nil, fmt.Errorf("scheduler: incrementalRefresh interval %v is below the minimum of %v", min, minIncrementalRefreshInterval)
		}
	}

	next := expr.Next(time.Now())
	t := models.ScheduledTask{
		TaskID:         uuid.NewString(),
		Name:           name,
		JobType:        jobType,
		CronExpression: cronExpr,
		IsEnabled:      enabled,
		NextRunAt:      &next,
	}
	if err := s.st.CreateScheduledTask(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Start begins the polling loop, mirroring the teacher's
// ticker-plus-context-cancellation shape.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	var loopCtx context.Context
	loopCtx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.loop(loopCtx)

	log.Println("[scheduler] scheduler service started")
}

// Stop cancels the polling loop and waits for the current tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[scheduler] scheduler service stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	tasks, err := s.st.ListScheduledTasks(ctx)
	if err != nil {
		log.Printf("[scheduler] failed to list scheduled tasks: %v", err)
		return
	}

	now := time.Now()
	for _, t := range tasks {
		if !t.IsEnabled || t.NextRunAt == nil || now.Before(*t.NextRunAt) {
			continue
		}
		s.fire(ctx, t)
	}
}

func (s *Service) fire(ctx context.Context, t models.ScheduledTask) {
	job, ok := s.jobs[t.JobType]
	if !ok {
		log.Printf("[scheduler] unknown job type %q for scheduled task %s", t.JobType, t.TaskID)
		return
	}

	expr, err := cronexpr.Parse(t.CronExpression)
	if err != nil {
		log.Printf("[scheduler] invalid cron expression for %s: %v", t.TaskID, err)
		return
	}

	firedAt := *t.NextRunAt
	nextRunAt := expr.Next(firedAt)

	_, done, err := s.submit(ctx, func(ctx context.Context, progress func(int, string)) error {
		return job.Run(ctx, JobDeps{Store: s.st, Submit: s.submit}, progress)
	}, job.Name(), SubmitOptions{
		QueueType: models.QueueManagement,
		TaskType:  t.JobType,
	})
	if err != nil {
		log.Printf("[scheduler] failed to submit job %s: %v", t.JobType, err)
		return
	}

	// Record the fire time immediately so a long-running job doesn't
	// get re-triggered by the next tick (spec §4.3: "update last_run_at
	// and next_run_at from the scheduled fire time, not wall-clock
	// completion").
	if err := s.st.RecordScheduledTaskFire(ctx, t.TaskID, firedAt, nextRunAt); err != nil {
		log.Printf("[scheduler] failed to record fire for %s: %v", t.TaskID, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-done // observe the true duration, mirroring the cron library's own await semantics
	}()
}

// RunNow triggers a scheduled task immediately, used by manual
// "run now" requests from the compat API's admin surface.
func (s *Service) RunNow(ctx context.Context, taskID string) error {
	tasks, err := s.st.ListScheduledTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.TaskID == taskID {
			s.fire(ctx, t)
			return nil
		}
	}
	return fmt.Errorf("scheduler: task %s not found", taskID)
}
