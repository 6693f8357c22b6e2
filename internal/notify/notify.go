package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

// Notifier is the interface for sending receiver notifications.
type Notifier interface {
	SendStartupFailure(ctx context.Context, stats receiver.Stats, err error) error
	SendTransition(ctx context.Context, stream string, rec receiver.TransitionRecord) error
}

// publishRequest is an ntfy JSON publish body.
type publishRequest struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message"`
	Tags     []string `json:"tags,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

var priorities = map[string]int{"min": 1, "low": 2, "default": 3, "high": 4, "urgent": 5}

// Client publishes to an ntfy server.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		logger:     logger,
	}
}

// SendStartupFailure reports a receiver that could not reach the poll loop.
// Failures are always sent at high priority.
func (c *Client) SendStartupFailure(ctx context.Context, stats receiver.Stats, err error) error {
	return c.publish(ctx, publishRequest{
		Title:    "Receiver Failed: " + stats.Stream,
		Message:  FormatStartupFailure(stats, err),
		Tags:     c.tags("x"),
		Priority: priorities["high"],
	})
}

// SendTransition reports a run-state transition.
func (c *Client) SendTransition(ctx context.Context, stream string, rec receiver.TransitionRecord) error {
	kind := rec.Payload.Kind

	var tag string
	switch kind {
	case receiver.TransitionStart, receiver.TransitionResume:
		tag = "arrow_forward"
	case receiver.TransitionStop, receiver.TransitionPause:
		tag = "stop_button"
	case receiver.TransitionStartAbort:
		tag = "warning"
	}

	return c.publish(ctx, publishRequest{
		Title:    fmt.Sprintf("Run %d: %s", rec.Payload.Run, kind),
		Message:  FormatTransition(stream, rec),
		Tags:     c.tags(tag),
		Priority: priorities[c.config.Priority],
	})
}

func (c *Client) tags(extra string) []string {
	var out []string
	for _, t := range strings.Split(c.config.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if extra != "" {
		out = append(out, extra)
	}
	return out
}

func (c *Client) publish(ctx context.Context, msg publishRequest) error {
	if !c.config.Enabled {
		return nil
	}
	msg.Topic = c.config.Topic

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	// JSON publishing posts to the server root; the topic travels in the body.
	url := strings.TrimSuffix(c.config.Server, "/") + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("topic", msg.Topic),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", msg.Title))
	return nil
}

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (NoopNotifier) SendStartupFailure(context.Context, receiver.Stats, error) error { return nil }

func (NoopNotifier) SendTransition(context.Context, string, receiver.TransitionRecord) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
