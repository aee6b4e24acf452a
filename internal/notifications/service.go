package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"sublate/internal/config"
)

const userAgent = "Sublate/0.1.0"

// Service defines the push notification surface exposed to the batch manager.
type Service interface {
	NotifyBatchStarted(ctx context.Context, count int) error
	NotifyBatchCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyTaskFailed(ctx context.Context, sourcePath, cause string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyBatchStarted(ctx context.Context, count int) error {
	data := payload{
		title:   "Sublate - Batch Started",
		message: fmt.Sprintf("Processing %d file(s)", count),
		tags:    []string{"sublate", "batch", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	data := payload{
		title:   "Sublate - Batch Completed",
		message: fmt.Sprintf("Processed %d, failed %d in %s", processed, failed, duration.Round(time.Second)),
		tags:    []string{"sublate", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, sourcePath, cause string) error {
	data := payload{
		title:    "Sublate - Task Failed",
		message:  fmt.Sprintf("%s\n%s", filepath.Base(sourcePath), strings.TrimSpace(cause)),
		tags:     []string{"sublate", "task", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Sublate - Test",
		message:  "Notification system test",
		tags:     []string{"sublate", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBatchStarted(context.Context, int) error                       { return nil }
func (noopService) NotifyBatchCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyTaskFailed(context.Context, string, string) error              { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
