// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface verification
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-memory implementation of Queue. Tasks are not
// persisted; a restart loses undelivered work.
type MemoryQueue struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	capacity  int
	completed int64
	closed    bool
}

// NewMemoryQueue creates an in-memory queue holding at most capacity
// unfinished tasks; zero means unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{
		tasks:    make(map[string]*Task),
		capacity: capacity,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && q.unfinished() >= q.capacity {
		return ErrQueueFull
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	q.tasks[task.ID] = task
	tasksEnqueued.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *MemoryQueue) unfinished() int {
	n := 0
	for _, task := range q.tasks {
		if task.Status == StatusPending || task.Status == StatusRunning {
			n++
		}
	}
	return n
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var best *Task
	for _, task := range q.tasks {
		if task.Status != StatusPending {
			continue
		}
		if len(taskTypes) > 0 && !typeMatches(task.Type, taskTypes) {
			continue
		}
		// Oldest first.
		if best == nil || task.CreatedAt.Before(best.CreatedAt) {
			best = task
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusRunning
	best.WorkerID = workerID
	best.Attempts++
	return best, nil
}

func typeMatches(t TaskType, types []TaskType) bool {
	for _, candidate := range types {
		if t == candidate {
			return true
		}
	}
	return false
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusCompleted
	tasksCompleted.WithLabelValues(string(task.Type)).Inc()
	q.completed++
	// Completed tasks carry no further value in memory.
	delete(q.tasks, taskID)
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if cause != nil {
		task.LastError = cause.Error()
	}
	if task.Attempts > task.MaxRetries {
		task.Status = StatusDeadLetter
		tasksDeadLettered.WithLabelValues(string(task.Type)).Inc()
		return nil
	}
	task.Status = StatusPending
	task.WorkerID = ""
	tasksRetried.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{Completed: q.completed}
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusDeadLetter:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
