package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"genrouter/internal/model"
	"genrouter/pkg/config"
	"genrouter/pkg/logger"
)

// WebhookNotifier posts terminal task states to a webhook. A task's own
// webhook_url wins; the configured URL is the fallback for tasks without
// one. With neither set the notifier is a no-op.
type WebhookNotifier struct {
	fallbackURL string
	client      *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier() *WebhookNotifier {
	// Priority: config file > environment variable
	var fallbackURL string
	if config.GlobalConfig != nil && config.GlobalConfig.Notification.WebhookURL != "" {
		fallbackURL = config.GlobalConfig.Notification.WebhookURL
		logger.Info("Using fallback webhook URL from config file")
	} else {
		fallbackURL = os.Getenv("WEBHOOK_URL")
		if fallbackURL != "" {
			logger.Info("Using fallback webhook URL from environment variable")
		}
	}

	if fallbackURL == "" {
		logger.Info("No fallback webhook URL configured, only tasks with their own webhook_url will notify")
	}

	return &WebhookNotifier{
		fallbackURL: fallbackURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// taskFinishedPayload is the callback body for a finished task.
type taskFinishedPayload struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	Output       string `json:"output,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// TaskFinished delivers a terminal-state callback for the task. Callers
// run it on its own goroutine; delivery is best-effort and failures are
// logged, not retried.
func (n *WebhookNotifier) TaskFinished(task *model.Task) {
	ctx := context.Background()

	url := task.WebhookURL
	if url == "" {
		url = n.fallbackURL
	}
	if url == "" {
		logger.DebugCtx(ctx, "no webhook URL for task %s, skipping notification", task.ID)
		return
	}

	payload := taskFinishedPayload{
		TaskID:       task.ID,
		Status:       task.Status.String(),
		Output:       task.Output,
		ErrorMessage: task.ErrorMessage,
	}
	if task.CompletedAt != nil {
		payload.CompletedAt = task.CompletedAt.Format(time.RFC3339)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to marshal webhook payload, task_id: %s, error: %v", task.ID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		logger.ErrorCtx(ctx, "failed to create webhook request, task_id: %s, error: %v", task.ID, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "GenRouter/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to call webhook, task_id: %s, url: %s, error: %v", task.ID, url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		logger.InfoCtx(ctx, "webhook called successfully, task_id: %s, url: %s, status_code: %d", task.ID, url, resp.StatusCode)
	} else {
		logger.WarnCtx(ctx, "webhook returned non-2xx status, task_id: %s, url: %s, status_code: %d", task.ID, url, resp.StatusCode)
	}
}
