// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueFull    = errors.New("task queue is full")
	ErrQueueClosed  = errors.New("task queue is closed")
)

// Queue defines the task queue operations used by emitters and
// workers.
type Queue interface {
	// Enqueue adds a task to the queue.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue retrieves the next available task for processing, or nil
	// when none is pending.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)

	// Complete marks a task as successfully finished.
	Complete(ctx context.Context, taskID string) error

	// Fail records a failed attempt. The task is requeued while
	// retries remain, and dead-lettered after.
	Fail(ctx context.Context, taskID string, err error) error

	// Stats returns queue counters.
	Stats(ctx context.Context) (*QueueStats, error)

	// Close shuts down the queue.
	Close() error
}

// Handler processes tasks of a specific type.
type Handler interface {
	// Type returns the task type this handler processes.
	Type() TaskType

	// Handle processes the task and returns an error if it failed.
	Handle(ctx context.Context, task *Task) error
}
