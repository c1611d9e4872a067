// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"context"

	"github.com/google/uuid"

	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/taskqueue"
)

// Emitter queues lifecycle events for async delivery via the taskqueue.
type Emitter struct {
	queue   taskqueue.Queue
	enabled bool
}

// EmitterConfig configures the event emitter.
type EmitterConfig struct {
	// Queue is the taskqueue persisting events. If nil, events are
	// silently dropped.
	Queue taskqueue.Queue

	// Enabled controls whether events are queued at all.
	Enabled bool
}

// NewEmitter creates an event emitter.
func NewEmitter(cfg EmitterConfig) *Emitter {
	return &Emitter{
		queue:   cfg.Queue,
		enabled: cfg.Enabled && cfg.Queue != nil,
	}
}

// NoopEmitter returns an emitter that drops all events.
func NoopEmitter() *Emitter {
	return &Emitter{enabled: false}
}

// Emit queues a lifecycle event for delivery and returns immediately.
// Errors are logged but not returned so upload requests never fail on
// notification problems.
func (e *Emitter) Emit(ctx context.Context, event *Event) {
	if !e.enabled {
		eventsDropped.Inc()
		return
	}

	data, err := taskqueue.MarshalPayload(event)
	if err != nil {
		eventsErrors.WithLabelValues("marshal").Inc()
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("event", string(event.Type)).
			Msg("failed to marshal event payload")
		return
	}

	task := &taskqueue.Task{
		ID:      uuid.New().String(),
		Type:    taskqueue.TaskTypeHook,
		Payload: data,
	}
	if err := e.queue.Enqueue(ctx, task); err != nil {
		eventsErrors.WithLabelValues("enqueue").Inc()
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("event", string(event.Type)).
			Str("upload_id", event.Upload.ID).
			Msg("failed to queue event")
		return
	}

	eventsEmitted.WithLabelValues(string(event.Type)).Inc()
	logger.Ctx(ctx).Debug().
		Str("event", string(event.Type)).
		Str("upload_id", event.Upload.ID).
		Msg("event queued")
}
