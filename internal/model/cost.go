package model

import "time"

// Service names used in cost records. These match the billed external
// collaborators one-to-one.
const (
	ServiceListings = "listings"
	ServicePagescan = "pagescan"
	ServicePronet   = "pronet"
	ServiceVerifier = "verifier"
	ServiceResearch = "research"
)

// CostRecord is one append-only entry in a campaign's cost ledger. Records
// are never mutated or deleted; a campaign's actual cost is the sum of its
// records.
type CostRecord struct {
	ID         string    `json:"id" db:"id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	Service    string    `json:"service" db:"service"`
	Items      int       `json:"items" db:"items"`
	AmountUSD  float64   `json:"amount_usd" db:"amount_usd"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
