// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uploadkit/tusk/pkg/taskqueue"
	"github.com/uploadkit/tusk/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInfo() *types.UploadInfo {
	info := &types.UploadInfo{
		ID:              "upload-1",
		Offset:          5,
		Type:            types.UploadTypeRegular,
		OwnerKey:        "alice",
		EncodedMetadata: "filename dGVzdC50eHQ=",
	}
	info.SetLength(5)
	return info
}

func TestEmitter_QueuesEvent(t *testing.T) {
	t.Parallel()
	q := taskqueue.NewMemoryQueue(0)
	e := NewEmitter(EmitterConfig{Queue: q, Enabled: true})
	ctx := context.Background()

	e.Emit(ctx, NewEvent(EventUploadCompleted, sampleInfo()))

	task, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeHook)
	require.NoError(t, err)
	require.NotNil(t, task)

	event, err := taskqueue.UnmarshalPayload[Event](task.Payload)
	require.NoError(t, err)
	assert.Equal(t, EventUploadCompleted, event.Type)

	length := int64(5)
	want := UploadSnapshot{
		ID:       "upload-1",
		Offset:   5,
		Length:   &length,
		Metadata: map[string]string{"filename": "test.txt"},
		OwnerKey: "alice",
		Type:     "regular",
	}
	if diff := cmp.Diff(want, event.Upload); diff != "" {
		t.Errorf("unexpected snapshot (-want +got):\n%s", diff)
	}
}

func TestNoopEmitter_DropsEvents(t *testing.T) {
	t.Parallel()
	q := taskqueue.NewMemoryQueue(0)
	e := NoopEmitter()
	ctx := context.Background()

	e.Emit(ctx, NewEvent(EventUploadCreated, sampleInfo()))

	task, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeHook)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestWebhookHandler_DeliversEvent(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	var gotType atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		gotType.Store(string(event.Type))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	payload, err := taskqueue.MarshalPayload(NewEvent(EventUploadTerminated, sampleInfo()))
	require.NoError(t, err)

	h := NewWebhookHandler(server.URL, time.Second)
	err = h.Handle(context.Background(), &taskqueue.Task{ID: "t1", Type: taskqueue.TaskTypeHook, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, int64(1), received.Load())
	assert.Equal(t, string(EventUploadTerminated), gotType.Load())
}

func TestWebhookHandler_NonSuccessIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	h := NewWebhookHandler(server.URL, time.Second)
	err := h.Handle(context.Background(), &taskqueue.Task{ID: "t1", Type: taskqueue.TaskTypeHook, Payload: []byte("{}")})
	assert.Error(t, err)
}

func TestEndToEnd_EmitterWorkerWebhook(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q := taskqueue.NewMemoryQueue(0)
	e := NewEmitter(EmitterConfig{Queue: q, Enabled: true})

	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w1", Queue: q, PollInterval: time.Millisecond})
	w.RegisterHandler(NewWebhookHandler(server.URL, time.Second))
	w.Start(context.Background())
	defer w.Stop()

	e.Emit(context.Background(), NewEvent(EventUploadCreated, sampleInfo()))

	deadline := time.Now().Add(5 * time.Second)
	for received.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(1), received.Load())
}
