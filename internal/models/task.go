package models

import "time"

// Task statuses. A task moves from pending through running to exactly one of
// the terminal statuses and never leaves it.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Task tracks one merge computation from submission to a terminal status.
type Task struct {
	ID        string      `json:"id"`
	Document  string      `json:"document"`
	Section   string      `json:"section"`
	Strategy  string      `json:"strategy"`
	Status    string      `json:"status"`
	Result    *TaskResult `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskResult is the outcome of a completed merge task.
type TaskResult struct {
	MergedBody  string `json:"merged_body"`
	Diff        string `json:"diff,omitempty"`
	Fingerprint string `json:"fingerprint"`
}
