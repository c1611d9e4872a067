// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package hooks emits upload lifecycle notifications. Events are queued
// for async delivery via the taskqueue so that upload requests never
// block on a slow receiver.
package hooks

import (
	"time"

	"github.com/uploadkit/tusk/pkg/types"
)

// EventType categorizes upload lifecycle events.
type EventType string

const (
	EventUploadCreated    EventType = "upload.created"
	EventUploadCompleted  EventType = "upload.completed"
	EventUploadTerminated EventType = "upload.terminated"
	EventUploadExpired    EventType = "upload.expired"
)

// UploadSnapshot is the subset of the upload record carried in an
// event.
type UploadSnapshot struct {
	ID       string            `json:"id"`
	Offset   int64             `json:"offset"`
	Length   *int64            `json:"length,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	OwnerKey string            `json:"ownerKey,omitempty"`
	Type     string            `json:"type"`
}

// Event is one upload lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Upload    UploadSnapshot `json:"upload"`
}

// NewEvent builds an event from the current upload record.
func NewEvent(eventType EventType, info *types.UploadInfo) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Upload: UploadSnapshot{
			ID:       info.ID.String(),
			Offset:   info.Offset,
			Length:   info.Length,
			Metadata: info.Metadata(),
			OwnerKey: info.OwnerKey,
			Type:     info.Type.String(),
		},
	}
}
