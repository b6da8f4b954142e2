package model

import "time"

// EmailSource records which enrichment phase produced a business's
// authoritative email, or that none was found. Every business carries a
// source once discovery has persisted it; "none" is a real value, not an
// absence.
type EmailSource string

const (
	SourceDiscovery       EmailSource = "discovery"
	SourcePage            EmailSource = "page"
	SourcePronetDirect    EmailSource = "pronet_direct"
	SourcePronetGenerated EmailSource = "pronet_generated"
	SourceNone            EmailSource = "none"
)

// EnrichmentStatus tracks a business's progress through phases 2-4.
type EnrichmentStatus string

const (
	EnrichPending    EnrichmentStatus = "pending"
	EnrichInProgress EnrichmentStatus = "in_progress"
	EnrichEnriched   EnrichmentStatus = "enriched"
	EnrichFailed     EnrichmentStatus = "failed"
)

// Business is one discovered listing within a campaign. Rows are upserted
// by (CampaignID, ListingID) so re-running discovery for a target never
// duplicates.
type Business struct {
	ID               string           `json:"id" db:"id"`
	CampaignID       string           `json:"campaign_id" db:"campaign_id"`
	TargetID         string           `json:"target_id" db:"target_id"`
	ListingID        string           `json:"listing_id" db:"listing_id"`
	Name             string           `json:"name" db:"name"`
	Street           string           `json:"street,omitempty" db:"street"`
	City             string           `json:"city,omitempty" db:"city"`
	State            string           `json:"state,omitempty" db:"state"`
	PostalCode       string           `json:"postal_code,omitempty" db:"postal_code"`
	Phone            string           `json:"phone,omitempty" db:"phone"`
	Website          string           `json:"website,omitempty" db:"website"`
	Email            string           `json:"email,omitempty" db:"email"`
	EmailSource      EmailSource      `json:"email_source" db:"email_source"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status" db:"enrichment_status"`
	Verified         bool             `json:"verified" db:"verified"`
	VerifiedSafe     bool             `json:"verified_safe" db:"verified_safe"`
	VerifyScore      int              `json:"verify_score" db:"verify_score"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// HasEmail reports whether the business carries a usable email address.
func (b *Business) HasEmail() bool {
	return b.Email != "" && b.EmailSource != SourceNone
}
