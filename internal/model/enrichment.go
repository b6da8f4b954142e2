package model

import "time"

// PageEnrichment records what the page-enrichment phase found for one
// business, including failed attempts. It is owned independently of the
// business row; promotion onto Business.Email/EmailSource is an explicit
// step in the pipeline, never a side effect of saving this record.
type PageEnrichment struct {
	ID         string    `json:"id" db:"id"`
	BusinessID string    `json:"business_id" db:"business_id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	PageURL    string    `json:"page_url,omitempty" db:"page_url"`
	Email      string    `json:"email,omitempty" db:"email"`
	Succeeded  bool      `json:"succeeded" db:"succeeded"`
	Error      string    `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// PronetEnrichment records the professional-network phase's findings: the
// decision-maker profile and the candidate email, tagged with its own
// provenance (direct extraction vs. pattern generation). It deliberately
// never overwrites the business row's email source.
type PronetEnrichment struct {
	ID         string      `json:"id" db:"id"`
	BusinessID string      `json:"business_id" db:"business_id"`
	CampaignID string      `json:"campaign_id" db:"campaign_id"`
	ProfileURL string      `json:"profile_url,omitempty" db:"profile_url"`
	PersonName string      `json:"person_name,omitempty" db:"person_name"`
	Title      string      `json:"title,omitempty" db:"title"`
	Email      string      `json:"email,omitempty" db:"email"`
	Source     EmailSource `json:"email_source" db:"email_source"`
	Verified   bool        `json:"verified" db:"verified"`
	Safe       bool        `json:"safe" db:"safe"`
	Score      int         `json:"score" db:"score"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}
