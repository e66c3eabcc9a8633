package events

import (
	"time"
)

// Event is the base interface for all events on the bus.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskProgress  = "task.progress"
	EventTypeTaskStuck     = "task.stuck"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskBlocked   = "task.blocked"
	EventTypeTaskEscalated = "task.escalated"
	EventTypeBatchPlanned  = "run.batch"
	EventTypePlanReloaded  = "run.plan_reloaded"
)

// TaskStartedEvent is published when a task begins an attempt.
type TaskStartedEvent struct {
	ID        string
	Attempt   int
	Backend   string
	Tier      int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskProgressEvent is published for every progress signal an execution emits.
type TaskProgressEvent struct {
	ID        string
	Line      string
	Timestamp time.Time
}

func (e TaskProgressEvent) EventType() string { return EventTypeTaskProgress }
func (e TaskProgressEvent) TaskID() string    { return e.ID }

// TaskStuckEvent is published when the monitor infers a stall.
type TaskStuckEvent struct {
	ID        string
	Silence   time.Duration
	Timestamp time.Time
}

func (e TaskStuckEvent) EventType() string { return EventTypeTaskStuck }
func (e TaskStuckEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes and verifies.
type TaskCompletedEvent struct {
	ID         string
	Attempt    int
	Confidence int
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when an attempt fails (reported or verified).
type TaskFailedEvent struct {
	ID        string
	Attempt   int
	Reason    string
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskBlockedEvent is published when escalation is exhausted.
type TaskBlockedEvent struct {
	ID        string
	Diagnosis string
	Timestamp time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlockedEvent) TaskID() string    { return e.ID }

// TaskEscalatedEvent is published when the council moves a task to a new tier.
type TaskEscalatedEvent struct {
	ID        string
	FromTier  int
	ToTier    int
	Timestamp time.Time
}

func (e TaskEscalatedEvent) EventType() string { return EventTypeTaskEscalated }
func (e TaskEscalatedEvent) TaskID() string    { return e.ID }

// BatchPlannedEvent is published once per scheduling tick that admits work.
type BatchPlannedEvent struct {
	Phase     string
	Tasks     []string
	Timestamp time.Time
}

func (e BatchPlannedEvent) EventType() string { return EventTypeBatchPlanned }
func (e BatchPlannedEvent) TaskID() string    { return "" }

// PlanReloadedEvent is published after an external plan edit is picked up.
type PlanReloadedEvent struct {
	Valid     bool
	Problem   string
	Timestamp time.Time
}

func (e PlanReloadedEvent) EventType() string { return EventTypePlanReloaded }
func (e PlanReloadedEvent) TaskID() string    { return "" }
