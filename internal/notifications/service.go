package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sifter/internal/config"
)

const userAgent = "Sifter/0.1.0"

// Service defines the notification surface exposed to the workflow engine.
type Service interface {
	NotifySessionCompleted(ctx context.Context, sessionName string, accepted, totalRows, failedChunks int) error
	NotifySessionFailed(ctx context.Context, sessionName string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.SessionCompleted,
		failed:    cfg.Notifications.SessionFailed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	failed    bool
}

func (n *ntfyService) NotifySessionCompleted(ctx context.Context, sessionName string, accepted, totalRows, failedChunks int) error {
	if !n.completed {
		return nil
	}
	sessionName = strings.TrimSpace(sessionName)
	title := "Sifter - Session Complete"
	message := fmt.Sprintf("✅ %s: %d of %d keywords kept", sessionName, accepted, totalRows)
	if failedChunks > 0 {
		title = "Sifter - Session Complete (with errors)"
		message = fmt.Sprintf("%s\n%d chunk(s) failed and were skipped", message, failedChunks)
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"sifter", "session", "completed"},
	})
}

func (n *ntfyService) NotifySessionFailed(ctx context.Context, sessionName string, err error) error {
	if !n.failed {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Session failed")
	if sessionName = strings.TrimSpace(sessionName); sessionName != "" {
		builder.WriteString(": ")
		builder.WriteString(sessionName)
	}
	builder.WriteString("\n")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown error")
	}
	return n.send(ctx, payload{
		title:    "Sifter - Session Failed",
		message:  builder.String(),
		tags:     []string{"sifter", "session", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Sifter - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"sifter", "test"},
		priority: "low",
	})
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

func (noopService) NotifySessionCompleted(context.Context, string, int, int, int) error { return nil }
func (noopService) NotifySessionFailed(context.Context, string, error) error            { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
