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

	"github.com/sells-group/yesterday/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed  AlertType = "run_failed"
	AlertMissingDay AlertType = "missing_day"
	AlertStuckRun   AlertType = "stuck_run"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot and sends alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate returns one alert per failed date, one per date that never ran,
// and one per stuck run.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	for _, d := range snap.FailedDays() {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			Message: fmt.Sprintf("Ingestion for %s failed after %d run(s): %s",
				d.Date, d.Runs, d.LastError),
			Details: map[string]any{
				"date":  d.Date.String(),
				"runs":  d.Runs,
				"error": d.LastError,
			},
			Timestamp: now,
		})
	}

	for _, d := range snap.MissingDays() {
		alerts = append(alerts, Alert{
			Type:      AlertMissingDay,
			Severity:  "medium",
			Message:   fmt.Sprintf("No ingestion run recorded for %s", d.Date),
			Details:   map[string]any{"date": d.Date.String()},
			Timestamp: now,
		})
	}

	for _, r := range snap.StuckRuns {
		alerts = append(alerts, Alert{
			Type:     AlertStuckRun,
			Severity: "medium",
			Message: fmt.Sprintf("Run %s for %s has been RUNNING since %s",
				r.ID, r.Date, r.StartedAt.UTC().Format(time.RFC3339)),
			Details: map[string]any{
				"run_id":     r.ID,
				"date":       r.Date.String(),
				"started_at": r.StartedAt.UTC(),
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
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
		sent++
	}
	return sent
}

// webhookPayload is Slack-compatible: chat clients render Text and ignore
// the structured fields.
type webhookPayload struct {
	Text    string `json:"text"`
	Service string `json:"service"`
	Alert   Alert  `json:"alert"`
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(webhookPayload{
		Text:    fmt.Sprintf("[yesterday][%s] %s", alert.Severity, alert.Message),
		Service: "yesterday",
		Alert:   alert,
	})
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
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
