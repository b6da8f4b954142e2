// Package enrich implements the four campaign phases: listing discovery,
// page enrichment, professional-network enrichment, and deliverability
// verification. Each phase persists per-unit results as it goes, so a
// paused or crashed campaign resumes without repeating paid work.
package enrich

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/pkg/listings"
)

// DefaultConcurrency bounds parallel work units within a phase.
const DefaultConcurrency = 4

// Discoverer runs phase one: one listings search per postal target.
type Discoverer struct {
	store       Store
	client      listings.Client
	recorder    *ledger.Recorder
	retry       resilience.RetryConfig
	concurrency int
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(st Store, client listings.Client, recorder *ledger.Recorder, concurrency int) *Discoverer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("listings", "search")
	return &Discoverer{
		store:       st,
		client:      client,
		recorder:    recorder,
		retry:       cfg,
		concurrency: concurrency,
	}
}

// Run discovers businesses for every incomplete target. Completed targets
// are skipped, which is what makes pause and resume cheap. A target whose
// search exhausts retries is logged and left incomplete; only quota errors
// and cancellation abort the run. Returns the number of targets processed
// in this call.
func (d *Discoverer) Run(ctx context.Context, campaign *model.Campaign, targets []model.PostalTarget) (int, error) {
	log := zap.L().With(zap.String("campaign_id", campaign.ID), zap.String("phase", "discovery"))

	query := strings.Join(campaign.Keywords, " ")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	processed := 0
	for i := range targets {
		target := targets[i]
		if target.Completed {
			continue
		}
		processed++

		g.Go(func() error {
			resp, err := resilience.DoVal(gctx, d.retry, func(ctx context.Context) (*listings.SearchResponse, error) {
				return d.client.Search(ctx, listings.SearchRequest{
					Query:      query,
					PostalCode: target.PostalCode,
					Limit:      target.MaxResults,
				})
			})
			if err != nil {
				if resilience.IsQuota(err) || gctx.Err() != nil {
					return eris.Wrapf(err, "discover target %s", target.PostalCode)
				}
				// A single target exhausting retries stays incomplete and is
				// picked up by the next run; it never fails the campaign.
				log.Warn("target discovery failed, leaving target incomplete",
					zap.String("postal_code", target.PostalCode),
					zap.Error(err),
				)
				return nil
			}

			businesses := make([]model.Business, 0, len(resp.Listings))
			emailsFound := 0
			for _, l := range resp.Listings {
				b := model.Business{
					CampaignID: campaign.ID,
					TargetID:   target.ID,
					ListingID:  l.ID,
					Name:       l.Name,
					Street:     l.Street,
					City:       l.City,
					State:      l.State,
					PostalCode: l.PostalCode,
					Phone:      l.Phone,
					Website:    l.Website,
					Email:      l.Email,
				}
				if l.Email != "" {
					b.EmailSource = model.SourceDiscovery
					emailsFound++
				}
				businesses = append(businesses, b)
			}

			// The search is already paid for; persist its results even when
			// a pause cancelled the run mid-unit.
			pctx := context.WithoutCancel(gctx)
			n, err := d.store.UpsertBusinesses(pctx, businesses)
			if err != nil {
				return eris.Wrapf(err, "persist target %s", target.PostalCode)
			}
			if err := d.recorder.Record(pctx, campaign.ID, model.ServiceListings, len(resp.Listings)); err != nil {
				return err
			}
			if err := d.store.MarkTargetComplete(pctx, target.ID, n, emailsFound); err != nil {
				return err
			}

			log.Info("target discovered",
				zap.String("postal_code", target.PostalCode),
				zap.Int("businesses", n),
				zap.Int("emails", emailsFound),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return processed, err
	}
	return processed, nil
}
