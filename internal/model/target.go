package model

import "time"

// PostalTarget is a postal code selected for discovery within a campaign,
// annotated with the scores that justified its selection. Targets are
// created once at campaign setup and immutable afterwards except for the
// completion fields maintained by the orchestrator.
type PostalTarget struct {
	ID                  string     `json:"id" db:"id"`
	CampaignID          string     `json:"campaign_id" db:"campaign_id"`
	PostalCode          string     `json:"postal_code" db:"postal_code"`
	Neighborhood        string     `json:"neighborhood,omitempty" db:"neighborhood"`
	DensityScore        float64    `json:"density_score" db:"density_score"`
	RelevanceScore      float64    `json:"relevance_score" db:"relevance_score"`
	CombinedScore       float64    `json:"combined_score" db:"combined_score"`
	EstimatedBusinesses int        `json:"estimated_businesses" db:"estimated_businesses"`
	MaxResults          int        `json:"max_results" db:"max_results"`
	Completed           bool       `json:"completed" db:"completed"`
	BusinessesFound     int        `json:"businesses_found" db:"businesses_found"`
	EmailsFound         int        `json:"emails_found" db:"emails_found"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

// Demographics is one row of the postal demographics index.
type Demographics struct {
	PostalCode string  `json:"postal_code" db:"postal_code"`
	City       string  `json:"city" db:"city"`
	State      string  `json:"state" db:"state"`
	Population int     `json:"population" db:"population"`
	Density    float64 `json:"density" db:"density"`
	Latitude   float64 `json:"latitude" db:"latitude"`
	Longitude  float64 `json:"longitude" db:"longitude"`
}
