// Package store persists campaigns, postal targets, businesses, enrichment
// side records, cost records, and the postal demographics index. Two
// implementations exist: Postgres (pgx) for production and SQLite (modernc)
// for local runs and tests.
package store

import (
	"context"
	"time"

	"github.com/sells-group/outreach-engine/internal/model"
)

// CampaignFilter narrows ListCampaigns.
type CampaignFilter struct {
	Status model.CampaignStatus
	Limit  int
	Offset int
}

// BusinessFilter narrows ListBusinesses.
type BusinessFilter struct {
	MissingEmail    bool // only rows without a usable email
	WithEmail       bool // only rows carrying a candidate email
	Unverified      bool // only rows whose email has not been verified yet
	PageUnattempted bool // only rows without a page enrichment attempt record
	AwaitingPronet  bool // only rows whose enrichment is still pending or in progress
	TargetID        string
	Limit           int
}

// GeoQuery selects postal codes from the demographics index. Exactly one of
// the selectors is used, checked in the order: PostalCode, City+State,
// States.
type GeoQuery struct {
	PostalCode string
	City       string
	State      string
	States     []string
	MinDensity float64
	Limit      int
}

// BusinessCounts aggregates per-campaign business tallies.
type BusinessCounts struct {
	Total        int
	WithEmail    int
	VerifiedSafe int
}

// Store is the persistence contract for the engine. All upserts are keyed
// by stable external identifiers so re-running a unit of work is safe.
type Store interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, f CampaignFilter) ([]model.Campaign, error)
	// UpdateCampaignStatus enforces nothing; transition legality lives in
	// the orchestrator. It stamps started_at on the first move to running
	// and completed_at on terminal states.
	UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus, note string) error
	UpdateCampaignSetup(ctx context.Context, id string, targetCount int, estimatedCost float64) error
	UpdateCampaignTotals(ctx context.Context, id string, businesses, emails int) error
	// ListStaleRunning returns running campaigns not updated since the cutoff.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]model.Campaign, error)

	// Postal targets
	InsertTargets(ctx context.Context, targets []model.PostalTarget) error
	ListTargets(ctx context.Context, campaignID string) ([]model.PostalTarget, error)
	MarkTargetComplete(ctx context.Context, targetID string, businessesFound, emailsFound int) error

	// Businesses
	UpsertBusinesses(ctx context.Context, businesses []model.Business) (int, error)
	ListBusinesses(ctx context.Context, campaignID string, f BusinessFilter) ([]model.Business, error)
	UpdateBusinessEmail(ctx context.Context, id, email string, source model.EmailSource, status model.EnrichmentStatus) error
	UpdateBusinessStatus(ctx context.Context, id string, status model.EnrichmentStatus) error
	UpdateBusinessVerification(ctx context.Context, id string, verified, safe bool, score int) error
	CountBusinesses(ctx context.Context, campaignID string) (*BusinessCounts, error)

	// Enrichment side records (at most one per business, upsert semantics)
	SavePageEnrichment(ctx context.Context, e *model.PageEnrichment) error
	SavePronetEnrichment(ctx context.Context, e *model.PronetEnrichment) error
	ListPronetEnrichments(ctx context.Context, campaignID string) ([]model.PronetEnrichment, error)
	UpdatePronetVerification(ctx context.Context, id string, verified, safe bool, score int) error

	// Cost ledger (append-only)
	AppendCost(ctx context.Context, rec *model.CostRecord) error
	CampaignCost(ctx context.Context, campaignID string) (float64, error)
	CostByService(ctx context.Context, campaignID string) (map[string]float64, error)

	// Postal demographics index
	UpsertDemographics(ctx context.Context, rows []model.Demographics) (int, error)
	GetDemographics(ctx context.Context, postalCode string) (*model.Demographics, error)
	QueryDemographics(ctx context.Context, q GeoQuery) ([]model.Demographics, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
