package persistence

import "fmt"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskStatuses lists every task status in display order.
var TaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusBlocked,
	TaskStatusCancelled,
}

var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusPending: {
		TaskStatusInProgress: {},
		TaskStatusCompleted:  {},
		TaskStatusBlocked:    {},
		TaskStatusCancelled:  {},
	},
	TaskStatusInProgress: {
		TaskStatusPending:   {},
		TaskStatusCompleted: {},
		TaskStatusBlocked:   {},
		TaskStatusCancelled: {},
	},
	TaskStatusBlocked: {
		TaskStatusPending:    {},
		TaskStatusInProgress: {},
		TaskStatusCompleted:  {},
		TaskStatusCancelled:  {},
	},
	TaskStatusCompleted: {
		TaskStatusPending: {},
	},
	TaskStatusCancelled: {
		TaskStatusPending: {},
	},
}

func canTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ParseTaskStatus accepts only the closed set of task statuses.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if _, ok := allowedTransitions[st]; !ok {
		return "", fmt.Errorf("%w: unknown task status %q", ErrValidation, s)
	}
	return st, nil
}

type StreamStatus string

const (
	StreamStatusActive    StreamStatus = "active"
	StreamStatusPaused    StreamStatus = "paused"
	StreamStatusCompleted StreamStatus = "completed"
	StreamStatusArchived  StreamStatus = "archived"
)

func ParseStreamStatus(s string) (StreamStatus, error) {
	switch st := StreamStatus(s); st {
	case StreamStatusActive, StreamStatusPaused, StreamStatusCompleted, StreamStatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown stream status %q", ErrValidation, s)
}

type PRDStatus string

const (
	PRDStatusActive    PRDStatus = "active"
	PRDStatusCompleted PRDStatus = "completed"
	PRDStatusArchived  PRDStatus = "archived"
)

func ParsePRDStatus(s string) (PRDStatus, error) {
	switch st := PRDStatus(s); st {
	case PRDStatusActive, PRDStatusCompleted, PRDStatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown prd status %q", ErrValidation, s)
}

const (
	MinPriority     = 0
	MaxPriority     = 3
	DefaultPriority = 2
)

func validatePriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return fmt.Errorf("%w: priority %d outside %d-%d", ErrValidation, p, MinPriority, MaxPriority)
	}
	return nil
}
