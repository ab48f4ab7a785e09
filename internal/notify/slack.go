package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amariwan/cronexec/internal/models"
	"github.com/amariwan/cronexec/internal/util"
)

// SlackAlerter posts failed dispatches to a Slack incoming webhook
type SlackAlerter struct {
	webhook string
	client  *http.Client
	logger  util.Logger
}

// NewSlackAlerter creates an alerter with a 10s HTTP timeout
func NewSlackAlerter(webhook string, logger util.Logger) *SlackAlerter {
	return &SlackAlerter{
		webhook: webhook,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Alert sends one message for rec
func (s *SlackAlerter) Alert(ctx context.Context, rec models.DispatchRecord) error {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("⏰ cronexec: command failed\n\n`%s`\n%s", rec.Command, rec.Error),
		"attachments": []map[string]interface{}{
			{
				"color": "danger",
				"fields": []map[string]interface{}{
					{"title": "Run ID", "value": rec.RunID, "short": true},
					{"title": "Started", "value": rec.StartTime.Format(time.RFC3339), "short": true},
					{"title": "Duration", "value": rec.Duration.Round(time.Millisecond).String(), "short": true},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack alert failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned %s", resp.Status)
	}
	s.logger.Info("Slack alert sent", "run_id", rec.RunID)
	return nil
}
