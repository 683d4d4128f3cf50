package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vHozang/CheckLink/internal/config"
	"github.com/vHozang/CheckLink/internal/storage"
)

// Summary is the aggregate payload pushed after a completed batch run.
type Summary struct {
	RunID      string          `json:"run_id"`
	Checked    int             `json:"checked"`
	Changed    int             `json:"changed"`
	Metrics    storage.Metrics `json:"metrics"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Notifier posts run summaries to a webhook. A nil notifier (empty URL) is
// valid and does nothing; notification failures are never fatal to a run.
type Notifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New builds a Notifier from configuration, or nil when no webhook is set.
func New(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	if cfg.WebhookURL == "" {
		return nil
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send posts the summary as JSON and logs (but returns) any failure.
func (n *Notifier) Send(ctx context.Context, summary Summary) error {
	if n == nil {
		return nil
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "error", err)
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("webhook rejected summary", "status", resp.StatusCode)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
