/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package taskqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority is the scheduling class of a task.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Status is the lifecycle state of a task. The status field in the task hash is
// authoritative over set membership.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true for completed, failed and cancelled tasks.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

const (
	// DefaultMaxRetries allows three retries after the initial attempt.
	DefaultMaxRetries = 3

	pendingKeyFormat   = "podex:tasks:%s:pending"
	activeKeyFormat    = "podex:tasks:%s:active"
	completedKeyFormat = "podex:tasks:%s:completed"
	taskKeyFormat      = "podex:task:%s"

	// UpdatesChannel carries task lifecycle events coordinator-wide.
	UpdatesChannel = "podex:tasks:updates"

	// taskTTL keeps task bodies for a day; terminal tasks are shortened to
	// terminalTTL so the keyspace does not accumulate finished work.
	taskTTL     = 24 * time.Hour
	terminalTTL = time.Hour

	// completedKeep caps the recency list; it exists for UX only.
	completedKeep = 100
)

// Task is one persistent queue entry, JSON-serialized under podex:task:{id}.
type Task struct {
	Id             string            `json:"id"`
	SessionId      string            `json:"session_id"`
	AgentRole      string            `json:"agent_role,omitempty"`
	Description    string            `json:"description"`
	Priority       Priority          `json:"priority"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AssignedWorker string            `json:"assigned_worker,omitempty"`
	CallbackEvent  string            `json:"callback_event,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
	RetryCount     int               `json:"retry_count"`
	MaxRetries     int               `json:"max_retries"`
}

// Event is one message on the updates channel.
type Event struct {
	Event     string `json:"event"`
	TaskId    string `json:"task_id"`
	SessionId string `json:"session_id"`
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
}

func pendingKey(sessionId string) string   { return fmt.Sprintf(pendingKeyFormat, sessionId) }
func activeKey(sessionId string) string    { return fmt.Sprintf(activeKeyFormat, sessionId) }
func completedKey(sessionId string) string { return fmt.Sprintf(completedKeyFormat, sessionId) }
func taskKey(taskId string) string         { return fmt.Sprintf(taskKeyFormat, taskId) }

// priorityScore maps the class to its base score; lower scores dequeue first.
func priorityScore(p Priority) float64 {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 100
	default:
		return 50
	}
}

// score orders tasks by (priority class, enqueue time, retry count): the class
// sets the bucket, a fractional timestamp keeps FIFO within the class at
// millisecond resolution, and each requeue demotes the task by 10 inside its
// class without crossing into the next one.
func score(task *Task) float64 {
	return priorityScore(task.Priority) +
		10*float64(task.RetryCount) +
		float64(task.CreatedAt.UnixMilli())*1e-12
}
