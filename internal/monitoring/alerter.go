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

	"github.com/sells-group/outreach-engine/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCampaignFailureRate AlertType = "campaign_failure_rate"
	AlertCostOverrun         AlertType = "cost_overrun"
	AlertStaleRunning        AlertType = "stale_running"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Campaign failure rate, once enough campaigns have finished for the
	// rate to mean something.
	finished := snap.CampaignsCompleted + snap.CampaignsFailed
	if finished >= 3 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCampaignFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Campaign failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.CampaignsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.CampaignsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.Overruns > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d campaign(s) exceeded their cost estimate by more than %.0f%% in last %dh (worst: %s at %.0f%%)",
				snap.Overruns, (a.cfg.CostOverrunRatio-1)*100, snap.LookbackHours,
				snap.WorstOverrunID, snap.WorstOverrunRatio*100,
			),
			Details: map[string]any{
				"overruns":      snap.Overruns,
				"worst_id":      snap.WorstOverrunID,
				"worst_ratio":   snap.WorstOverrunRatio,
				"overrun_ratio": a.cfg.CostOverrunRatio,
			},
			Timestamp: now,
		})
	}

	if snap.StaleRunning > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStaleRunning,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d campaign(s) stuck in running with no recent progress; run `outreach campaign reconcile`",
				snap.StaleRunning,
			),
			Details: map[string]any{
				"stale_running": snap.StaleRunning,
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
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
