// Package model defines the core domain types shared across the engine:
// campaigns, postal targets, businesses, enrichment side records, and cost
// records.
package model

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// CoverageProfile bounds how many postal targets a campaign selects and what
// fraction of estimated businesses the selection must cover.
type CoverageProfile string

const (
	ProfileBudget     CoverageProfile = "budget"
	ProfileBalanced   CoverageProfile = "balanced"
	ProfileAggressive CoverageProfile = "aggressive"
)

// Valid reports whether p is a known profile name.
func (p CoverageProfile) Valid() bool {
	switch p {
	case ProfileBudget, ProfileBalanced, ProfileAggressive:
		return true
	}
	return false
}

// Campaign is the root aggregate for one discovery/enrichment run.
//
// ActualCost is always derived from the campaign's cost records; it is
// carried here for reads but never written independently.
type Campaign struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Keywords        []string        `json:"keywords" db:"keywords"`
	Geography       string          `json:"geography" db:"geography"`
	Profile         CoverageProfile `json:"coverage_profile" db:"coverage_profile"`
	Status          CampaignStatus  `json:"status" db:"status"`
	TargetCount     int             `json:"target_count" db:"target_count"`
	EstimatedCost   float64         `json:"estimated_cost" db:"estimated_cost"`
	ActualCost      float64         `json:"actual_cost" db:"-"`
	TotalBusinesses int             `json:"total_businesses" db:"total_businesses"`
	TotalEmails     int             `json:"total_emails" db:"total_emails"`
	StartedAt       *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ErrorNote       string          `json:"error_note,omitempty" db:"error_note"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Analytics summarizes campaign progress and unit economics for status and
// reporting endpoints.
type Analytics struct {
	CampaignID         string  `json:"campaign_id"`
	Status             string  `json:"status"`
	TargetsTotal       int     `json:"targets_total"`
	TargetsCompleted   int     `json:"targets_completed"`
	CoverageCompletion float64 `json:"coverage_completion_pct"`
	BusinessesFound    int     `json:"businesses_found"`
	EmailsFound        int     `json:"emails_found"`
	EmailRate          float64 `json:"emails_found_pct"`
	VerifiedSafe       int     `json:"verified_safe"`
	ActualCost         float64 `json:"actual_cost_usd"`
	CostPerBusiness    float64 `json:"cost_per_business_usd"`
	CostPerEmail       float64 `json:"cost_per_email_usd"`
}
