// Package notify delivers operator alerts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mintbot/observability/logging"
)

// Kind identifies an alert type.
type Kind string

// Alert kinds.
const (
	KindStarted       Kind = "started"
	KindStopped       Kind = "stopped"
	KindLowGas        Kind = "low_gas"
	KindGasResumed    Kind = "gas_resumed"
	KindAttemptFailed Kind = "attempt_failed"
	KindDailyReport   Kind = "daily_report"
	KindFatal         Kind = "fatal"
)

// Alert is a single operator notification.
type Alert struct {
	Kind    Kind              `json:"kind"`
	Network string            `json:"network,omitempty"`
	Subject string            `json:"subject"`
	Message string            `json:"message"`
	At      time.Time         `json:"at"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Notifier delivers alerts.
type Notifier interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a structured logger. Alert fields outside the
// logging allowlist are masked.
type LogNotifier struct {
	Logger *slog.Logger
}

// SendAlert implements Notifier.
func (n LogNotifier) SendAlert(ctx context.Context, alert Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("kind", string(alert.Kind)),
		slog.String("network", alert.Network),
		slog.String("subject", alert.Subject),
		slog.String("detail", alert.Message),
	}
	for k, v := range alert.Fields {
		attrs = append(attrs, logging.MaskField(k, v))
	}
	level := slog.LevelInfo
	switch alert.Kind {
	case KindLowGas, KindAttemptFailed:
		level = slog.LevelWarn
	case KindFatal:
		level = slog.LevelError
	}
	logger.Log(ctx, level, "mintd alert", attrs...)
	return nil
}

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL         string
	BearerToken string
	Timeout     time.Duration
	// PerMinute caps deliveries; zero disables limiting.
	PerMinute int
	Burst     int
}

// WebhookNotifier posts alerts as JSON.
type WebhookNotifier struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookNotifier validates cfg and returns a notifier.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("notify: webhook url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	n := &WebhookNotifier{
		url:    url,
		token:  strings.TrimSpace(cfg.BearerToken),
		client: &http.Client{Timeout: timeout},
	}
	if cfg.PerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.PerMinute
		}
		n.limiter = rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60.0), burst)
	}
	return n, nil
}

type webhookPayload struct {
	Alert
	Text string `json:"text"`
}

// SendAlert implements Notifier. It waits for limiter capacity within ctx.
func (n *WebhookNotifier) SendAlert(ctx context.Context, alert Alert) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("notify: rate limited: %w", err)
		}
	}
	body, err := json.Marshal(webhookPayload{Alert: alert, Text: alert.Subject + "\n" + alert.Message})
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

// SendAlert implements Notifier.
func (m Multi) SendAlert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
