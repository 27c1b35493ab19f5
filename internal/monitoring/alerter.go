package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/config"
	"github.com/sells-group/places-sync/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUsageWarning    AlertType = "usage_warning"
	AlertUsageCritical   AlertType = "usage_critical"
	AlertRateLimitDenied AlertType = "rate_limit_denied"
	AlertQueueBacklog    AlertType = "queue_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A critical usage alert replaces the warning for the same day.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.DailyLimit > 0 {
		usage := map[string]any{
			"day":         snap.Day,
			"used":        snap.Daily.APITotal,
			"daily_limit": snap.DailyLimit,
			"used_pct":    snap.DailyUsedPct,
		}
		switch {
		case a.cfg.UsageCriticalPct > 0 && snap.DailyUsedPct >= a.cfg.UsageCriticalPct:
			alerts = append(alerts, Alert{
				Type:     AlertUsageCritical,
				Severity: "high",
				Message: fmt.Sprintf("API usage %d/%d (%.1f%%) reached critical threshold %.1f%% on %s",
					snap.Daily.APITotal, snap.DailyLimit, snap.DailyUsedPct*100, a.cfg.UsageCriticalPct*100, snap.Day),
				Details:   usage,
				Timestamp: now,
			})
		case a.cfg.UsageWarnPct > 0 && snap.DailyUsedPct >= a.cfg.UsageWarnPct:
			alerts = append(alerts, Alert{
				Type:     AlertUsageWarning,
				Severity: "medium",
				Message: fmt.Sprintf("API usage %d/%d (%.1f%%) reached warning threshold %.1f%% on %s",
					snap.Daily.APITotal, snap.DailyLimit, snap.DailyUsedPct*100, a.cfg.UsageWarnPct*100, snap.Day),
				Details:   usage,
				Timestamp: now,
			})
		}
	}

	if snap.Daily.Denied > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRateLimitDenied,
			Severity: "medium",
			Message:  fmt.Sprintf("%d API call(s) denied by the rate limiter on %s", snap.Daily.Denied, snap.Day),
			Details: map[string]any{
				"denied": snap.Daily.Denied,
				"day":    snap.Day,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QueueBacklogThreshold > 0 && snap.Queue != nil && snap.Queue.Remaining > a.cfg.QueueBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQueueBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("Queue backlog %d exceeds threshold %d (%.1f%% of run processed)",
				snap.Queue.Remaining, a.cfg.QueueBacklogThreshold, snap.Queue.Percent),
			Details: map[string]any{
				"remaining": snap.Queue.Remaining,
				"total":     snap.Queue.Total,
				"threshold": a.cfg.QueueBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL and returns the
// alerts that were delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) []Alert {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	var sent []Alert
	for _, alert := range alerts {
		retry := a.retry
		retry.OnRetry = func(attempt int, err error) {
			zap.L().Warn("monitoring: retrying alert delivery",
				zap.String("type", string(alert.Type)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		err := resilience.Retry(ctx, retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent = append(sent, alert)
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
