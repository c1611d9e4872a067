// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uploadkit/tusk/pkg/taskqueue"
)

// DefaultWebhookTimeout bounds one delivery attempt.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookHandler delivers queued lifecycle events to an HTTP endpoint
// as JSON POST requests. Failed deliveries are retried by the
// taskqueue.
type WebhookHandler struct {
	url    string
	client *http.Client
}

// NewWebhookHandler creates a handler posting to url. A zero timeout
// selects DefaultWebhookTimeout.
func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookHandler{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *WebhookHandler) Type() taskqueue.TaskType { return taskqueue.TaskTypeHook }

func (h *WebhookHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(task.Payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}
