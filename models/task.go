package models

import "time"

// QueueType selects which Task Manager queue a task runs on.
type QueueType string

const (
	QueueDownload   QueueType = "download"
	QueueManagement QueueType = "management"
	QueueFallback   QueueType = "fallback"
)

// TaskStatus is the lifecycle state of a TaskHistory row.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// IsNonTerminal reports whether a task in this status still occupies its
// unique_key slot (queued, running or paused).
func (s TaskStatus) IsNonTerminal() bool {
	return s == TaskQueued || s == TaskRunning || s == TaskPaused
}

// TaskHistory is the durable record of one Task Manager submission.
type TaskHistory struct {
	TaskID          string     `json:"taskId"`
	Title           string     `json:"title"`
	UniqueKey       string     `json:"uniqueKey,omitempty"`
	Status          TaskStatus `json:"status"`
	Progress        int        `json:"progress"`
	Description     string     `json:"description"`
	QueueType       QueueType  `json:"queueType"`
	TaskType        string     `json:"taskType,omitempty"`
	ScheduledTaskID string     `json:"scheduledTaskId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// ScheduledTask is a cron-triggered producer of Task Manager submissions.
type ScheduledTask struct {
	TaskID         string     `json:"taskId"`
	Name           string     `json:"name"`
	JobType        string     `json:"jobType"`
	CronExpression string     `json:"cronExpression"`
	IsEnabled      bool       `json:"isEnabled"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
}

// SingletonJobTypes exist at most once in the ScheduledTask table.
var SingletonJobTypes = map[string]bool{
	"incrementalRefresh": true,
	"tmdbAutoMap":        true,
	"webhookProcessor":   true,
}
