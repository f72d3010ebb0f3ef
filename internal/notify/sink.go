// Package notify renders task events into text messages and delivers them to
// chat webhooks and the log.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/steamok/usmapctl/internal/httpclient"
	"github.com/steamok/usmapctl/internal/taskstore"
)

const defaultSendTimeout = 10 * time.Second

// Sink delivers one text message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// WebhookSink posts messages in the text format accepted by WeCom,
// DingTalk and Feishu robots.
type WebhookSink struct {
	URL    string
	Client httpclient.Doer
}

type webhookText struct {
	Content string `json:"content"`
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

func (s *WebhookSink) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("webhook URL is not configured")
	}
	body, err := json.Marshal(webhookPayload{MsgType: "text", Text: webhookText{Content: text}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook answered %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// LogSink writes messages to a logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, text string) error {
	if s.Logger != nil {
		s.Logger.InfoContext(ctx, "notification", slog.String("message", text))
	}
	return nil
}

// Notifier renders store events and fans them out to sinks. It implements
// taskstore.Observer; delivery failures are logged, never returned.
type Notifier struct {
	renderer *Renderer
	sinks    []Sink
	logger   *slog.Logger
	timeout  time.Duration
}

// NewNotifier creates a notifier. A nil logger discards delivery errors.
func NewNotifier(renderer *Renderer, logger *slog.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{renderer: renderer, sinks: sinks, logger: logger, timeout: defaultSendTimeout}
}

func (n *Notifier) Observe(event taskstore.Event) {
	text, err := n.renderer.Render(event)
	if err != nil {
		n.logger.Error("rendering notification failed",
			slog.String("task_id", event.Task.ID),
			slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	n.Send(ctx, text)
}

// Send delivers text to every sink.
func (n *Notifier) Send(ctx context.Context, text string) {
	for _, sink := range n.sinks {
		if err := sink.Send(ctx, text); err != nil {
			n.logger.Warn("notification delivery failed",
				slog.String("sink", fmt.Sprintf("%T", sink)),
				slog.Any("error", err))
		}
	}
}
