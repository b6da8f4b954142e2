// Package monitoring watches campaign health: it collects point-in-time
// metrics from the store, evaluates them against configured thresholds, and
// delivers webhook alerts from a background checker.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of campaign health.
type MetricsSnapshot struct {
	// Campaign counts within the lookback window.
	CampaignsTotal     int     `json:"campaigns_total"`
	CampaignsCompleted int     `json:"campaigns_completed"`
	CampaignsFailed    int     `json:"campaigns_failed"`
	CampaignsRunning   int     `json:"campaigns_running"`
	FailureRate        float64 `json:"failure_rate"`

	// Spend within the lookback window.
	SpendUSD float64 `json:"spend_usd"`

	// Overruns counts campaigns whose actual spend exceeded the estimate
	// by the configured ratio. WorstOverrun names the biggest offender.
	Overruns          int     `json:"overruns"`
	WorstOverrunID    string  `json:"worst_overrun_id,omitempty"`
	WorstOverrunRatio float64 `json:"worst_overrun_ratio,omitempty"`

	// StaleRunning counts campaigns in running whose last update is older
	// than the stale cutoff, regardless of when they were created.
	StaleRunning int `json:"stale_running"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CampaignLister is the slice of the store the collector reads.
type CampaignLister interface {
	ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]model.Campaign, error)
}

// Collector gathers campaign metrics from the store.
type Collector struct {
	store        CampaignLister
	overrunRatio float64
	staleAfter   time.Duration
}

// NewCollector creates a metrics collector. overrunRatio <= 1 disables
// overrun detection; staleAfter <= 0 disables stale detection.
func NewCollector(st CampaignLister, overrunRatio float64, staleAfter time.Duration) *Collector {
	return &Collector{store: st, overrunRatio: overrunRatio, staleAfter: staleAfter}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	campaigns, err := c.store.ListCampaigns(ctx, store.CampaignFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list campaigns")
	}

	staleCutoff := now.Add(-c.staleAfter)
	for _, camp := range campaigns {
		if camp.Status == model.CampaignRunning && c.staleAfter > 0 && camp.UpdatedAt.Before(staleCutoff) {
			snap.StaleRunning++
		}
		if camp.CreatedAt.Before(cutoff) {
			continue
		}

		snap.CampaignsTotal++
		snap.SpendUSD += camp.ActualCost
		switch camp.Status {
		case model.CampaignCompleted:
			snap.CampaignsCompleted++
		case model.CampaignFailed:
			snap.CampaignsFailed++
		case model.CampaignRunning:
			snap.CampaignsRunning++
		}

		if c.overrunRatio > 1 && camp.EstimatedCost > 0 {
			ratio := camp.ActualCost / camp.EstimatedCost
			if ratio > c.overrunRatio {
				snap.Overruns++
				if ratio > snap.WorstOverrunRatio {
					snap.WorstOverrunRatio = ratio
					snap.WorstOverrunID = camp.ID
				}
			}
		}
	}

	if finished := snap.CampaignsCompleted + snap.CampaignsFailed; finished > 0 {
		snap.FailureRate = float64(snap.CampaignsFailed) / float64(finished)
	}
	return snap, nil
}
