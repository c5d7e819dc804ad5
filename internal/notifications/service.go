package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"renderwatch/internal/config"
)

const userAgent = "Renderwatch/0.1.0"

const slotDisplayLayout = "Mon Jan 2 15:04"

// Service defines the notification surface exposed to pipeline components.
// All sends are best effort: callers log failures and continue.
type Service interface {
	NotifyWatcherStarted(ctx context.Context, folders int) error
	NotifyVideoScheduled(ctx context.Context, filename, account string, publishAt time.Time) error
	NotifyUploadFailed(ctx context.Context, filename, account, reason string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.NtfyRequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
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

func (n *ntfyService) NotifyWatcherStarted(ctx context.Context, folders int) error {
	data := payload{
		title:   "Renderwatch - Started",
		message: fmt.Sprintf("Watching %d render folders", folders),
		tags:    []string{"renderwatch", "watcher", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyVideoScheduled(ctx context.Context, filename, account string, publishAt time.Time) error {
	filename = strings.TrimSpace(filepath.Base(filename))
	account = strings.TrimSpace(account)
	data := payload{
		title:   "Renderwatch - Scheduled",
		message: fmt.Sprintf("%s uploaded to %s, publishes %s", filename, account, publishAt.Format(slotDisplayLayout)),
		tags:    []string{"renderwatch", "upload", "scheduled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyUploadFailed(ctx context.Context, filename, account, reason string) error {
	filename = strings.TrimSpace(filepath.Base(filename))
	account = strings.TrimSpace(account)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Renderwatch - Upload Failed",
		message:  fmt.Sprintf("%s failed for %s: %s", filename, account, reason),
		tags:     []string{"renderwatch", "upload", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Renderwatch - Error",
		message:  builder.String(),
		tags:     []string{"renderwatch", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Renderwatch - Test",
		message:  "Notification system test",
		tags:     []string{"renderwatch", "test"},
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

func (noopService) NotifyWatcherStarted(context.Context, int) error { return nil }
func (noopService) NotifyVideoScheduled(context.Context, string, string, time.Time) error {
	return nil
}
func (noopService) NotifyUploadFailed(context.Context, string, string, string) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                 { return nil }
func (noopService) TestNotification(context.Context) error                           { return nil }
