package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		CostOverrunRatio:     1.5,
		LookbackHours:        24,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		CampaignsTotal:     4,
		CampaignsCompleted: 3,
		CampaignsFailed:    1,
		FailureRate:        0.25,
		LookbackHours:      24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		CampaignsCompleted: 1,
		CampaignsFailed:    3,
		FailureRate:        0.75,
		LookbackHours:      24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCampaignFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestAlerter_Evaluate_FailureRateNeedsEnoughFinished(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	// One failed campaign out of one finished is 100%, but not enough
	// finished campaigns to alert on.
	alerts := a.Evaluate(&MetricsSnapshot{
		CampaignsFailed: 1,
		FailureRate:     1,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		Overruns:          2,
		WorstOverrunID:    "c-2",
		WorstOverrunRatio: 2.4,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "c-2")
}

func TestAlerter_Evaluate_StaleRunning(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&MetricsSnapshot{StaleRunning: 1})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleRunning, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received.Add(1)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCostOverrun, Severity: "high", Message: "m"},
		{Type: AlertStaleRunning, Severity: "medium", Message: "m"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlertsNoWebhook(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlertsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}})
	assert.Zero(t, sent)
}
