// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueAssignsDefaults(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(0)
	ctx := context.Background()

	task := &Task{Type: TaskTypeHook}
	require.NoError(t, q.Enqueue(ctx, task))

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, DefaultMaxRetries, task.MaxRetries)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestMemoryQueue_DequeueOldestFirst(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(0)
	ctx := context.Background()

	first := &Task{Type: TaskTypeHook}
	require.NoError(t, q.Enqueue(ctx, first))
	second := &Task{Type: TaskTypeHook}
	second.CreatedAt = first.CreatedAt.Add(1)
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Dequeue(ctx, "w1", TaskTypeHook)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "w1", got.WorkerID)
	assert.Equal(t, 1, got.Attempts)
}

func TestMemoryQueue_DequeueFiltersByType(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(0)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeHook}))

	got, err := q.Dequeue(ctx, "w1", TaskType("other"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueue_DequeueEmpty(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(0)

	got, err := q.Dequeue(context.Background(), "w1", TaskTypeHook)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueue_CompleteRemovesTask(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(0)
	ctx := context.Background()

	task := &Task{Type: TaskTypeHook}
	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.Dequeue(ctx, "w1", TaskTypeHook)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, task.ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(0), stats.Running)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestMemoryQueue_FailRequeuesUntilDeadLetter(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(0)
	ctx := context.Background()

	task := &Task{Type: TaskTypeHook, MaxRetries: 2}
	require.NoError(t, q.Enqueue(ctx, task))

	for attempt := 1; attempt <= 2; attempt++ {
		got, err := q.Dequeue(ctx, "w1", TaskTypeHook)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NoError(t, q.Fail(ctx, task.ID, assert.AnError))
		assert.Equal(t, StatusPending, task.Status)
	}

	// Third attempt exceeds MaxRetries.
	got, err := q.Dequeue(ctx, "w1", TaskTypeHook)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Fail(ctx, task.ID, assert.AnError))
	assert.Equal(t, StatusDeadLetter, task.Status)
	assert.NotEmpty(t, task.LastError)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DeadLetter)
}

func TestMemoryQueue_CapacityBound(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeHook}))
	err := q.Enqueue(ctx, &Task{Type: TaskTypeHook})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryQueue_ClosedRejectsOperations(t *testing.T) {
	t.Parallel()
	q := NewMemoryQueue(0)
	ctx := context.Background()

	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, &Task{Type: TaskTypeHook}), ErrQueueClosed)
	_, err := q.Dequeue(ctx, "w1")
	assert.ErrorIs(t, err, ErrQueueClosed)
}
