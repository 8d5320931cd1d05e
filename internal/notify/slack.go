package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Slack posts notifications to an incoming webhook. Info messages are
// dropped unless Verbose is set.
type Slack struct {
	Webhook string
	Client  *http.Client
	Verbose bool
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *Slack) Notify(ctx context.Context, message string, severity Severity) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	if severity != SeverityError && !s.Verbose {
		return nil
	}
	prefix := "🟢"
	if severity == SeverityError {
		prefix = "🔴"
	}
	body, _ := json.Marshal(slackPayload{Text: prefix + " " + message})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack non-2xx: %d", resp.StatusCode)
	}
	return nil
}
