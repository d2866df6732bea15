package taskqueue

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	TaskTypeRing         TaskType = "ring"
	TaskTypeClaim        TaskType = "claim"
	TaskTypeClaimManual  TaskType = "claim-manual"
	TaskTypeDismiss      TaskType = "dismiss"
	TaskTypeSurveyAnswer TaskType = "survey-answer"
	TaskTypeReport       TaskType = "report"
)

// Task is one inbound action produced by a transport.
type Task struct {
	ID   string
	Type TaskType

	// For claim and survey-answer tasks
	CorrelationID string

	// For dismiss tasks
	InstanceID int64

	// User is the chat identity that acted. Empty for sensor triggers.
	User api.User

	// For survey-answer tasks
	Code     string
	PromptID string

	EnqueuedAt time.Time
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

var taskSeq atomic.Uint64

// stamp fills in a missing ID and EnqueuedAt. IDs combine the enqueue time
// with a process-wide counter so tasks from several producers sharing a
// Redis list stay distinguishable.
func stamp(t *Task) {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if t.ID == "" {
		t.ID = strconv.FormatInt(t.EnqueuedAt.UnixNano(), 36) + "-" + strconv.FormatUint(taskSeq.Add(1), 10)
	}
}
