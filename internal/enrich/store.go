package enrich

import (
	"context"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Store defines the persistence operations the enrichment phases need.
// The full store satisfies it.
type Store interface {
	UpsertBusinesses(ctx context.Context, businesses []model.Business) (int, error)
	ListBusinesses(ctx context.Context, campaignID string, f store.BusinessFilter) ([]model.Business, error)
	UpdateBusinessEmail(ctx context.Context, id, email string, source model.EmailSource, status model.EnrichmentStatus) error
	UpdateBusinessStatus(ctx context.Context, id string, status model.EnrichmentStatus) error
	UpdateBusinessVerification(ctx context.Context, id string, verified, safe bool, score int) error
	MarkTargetComplete(ctx context.Context, targetID string, businessesFound, emailsFound int) error
	SavePageEnrichment(ctx context.Context, e *model.PageEnrichment) error
	SavePronetEnrichment(ctx context.Context, e *model.PronetEnrichment) error
	ListPronetEnrichments(ctx context.Context, campaignID string) ([]model.PronetEnrichment, error)
	UpdatePronetVerification(ctx context.Context, id string, verified, safe bool, score int) error
}
