package health

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	// AlertHighErrorRate fires when the rolling orchestration error rate
	// crosses the configured threshold.
	AlertHighErrorRate AlertType = "high_error_rate"
	// AlertServiceDown fires when a dependency stays down beyond the
	// configured duration.
	AlertServiceDown AlertType = "service_down"
	// AlertEnrichmentExhausted fires when a single lead runs out of retries.
	// It signals a specific lead, not a systemic outage.
	AlertEnrichmentExhausted AlertType = "enrichment_exhausted"
)

// Alert is a single operational alert.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink delivers alerts somewhere operators will see them. Delivery is
// best-effort; a failing sink must never take down the orchestration path.
type Sink interface {
	Dispatch(ctx context.Context, alert Alert) error
}

// Alerter rate-limits dispatch per alert type: at most one alert of a given
// type per cooldown window, regardless of how often the condition re-fires.
type Alerter struct {
	sink     Sink
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
	nowFunc  func() time.Time
}

// NewAlerter creates an Alerter over the given sink.
func NewAlerter(sink Sink, cooldown time.Duration) *Alerter {
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &Alerter{
		sink:     sink,
		cooldown: cooldown,
		lastSent: make(map[AlertType]time.Time),
		nowFunc:  time.Now,
	}
}

// Dispatch sends the alert unless its type is still cooling down. Returns
// true when the alert was handed to the sink. Sink failures are logged and
// swallowed.
func (a *Alerter) Dispatch(ctx context.Context, alert Alert) bool {
	if a.sink == nil {
		return false
	}

	a.mu.Lock()
	now := a.nowFunc()
	if last, ok := a.lastSent[alert.Type]; ok && now.Sub(last) < a.cooldown {
		a.mu.Unlock()
		return false
	}
	a.lastSent[alert.Type] = now
	a.mu.Unlock()

	if alert.Timestamp.IsZero() {
		alert.Timestamp = now.UTC()
	}

	if err := a.sink.Dispatch(ctx, alert); err != nil {
		zap.L().Error("health: alert dispatch failed",
			zap.String("type", string(alert.Type)),
			zap.Error(err),
		)
		return false
	}
	zap.L().Info("health: alert dispatched",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
	)
	return true
}

// LogSink writes alerts to the application log. Used when no webhook is
// configured so alerts are never silently dropped.
type LogSink struct{}

func (LogSink) Dispatch(_ context.Context, alert Alert) error {
	zap.L().Warn("health: alert",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
		zap.String("message", alert.Message),
		zap.Any("details", alert.Details),
	)
	return nil
}

// WebhookSink posts alerts as JSON to an HTTP endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink for the given URL.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Dispatch(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "health: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "health: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "health: post webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return eris.Errorf("health: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
