// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue provides a small task queue for background work
// such as hook delivery. The in-memory queue retries failed tasks with
// a bounded attempt count and parks permanently failed tasks in a dead
// letter list.
package taskqueue

import (
	"encoding/json"
	"time"
)

// Default configuration values.
const (
	DefaultPollInterval = time.Second
	DefaultConcurrency  = 2
	DefaultMaxRetries   = 3
)

// TaskType identifies the type of task for routing to handlers.
type TaskType string

// TaskTypeHook is an upload lifecycle notification awaiting delivery.
const TaskTypeHook TaskType = "hook"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusRunning    TaskStatus = "running"
	StatusCompleted  TaskStatus = "completed"
	StatusDeadLetter TaskStatus = "dead_letter"
)

// Task is a unit of background work.
type Task struct {
	ID     string     `json:"id"`
	Type   TaskType   `json:"type"`
	Status TaskStatus `json:"status"`

	// Payload is JSON encoded task-specific data.
	Payload json.RawMessage `json:"payload"`

	Attempts   int    `json:"attempts"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

// QueueStats provides queue counters.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	DeadLetter int64 `json:"dead_letter"`
}

// MarshalPayload marshals a payload struct to JSON.
func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// UnmarshalPayload unmarshals a JSON payload.
func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}
