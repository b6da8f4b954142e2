package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/pagescan"
)

// PageEnricher runs phase two: scan the website of every business still
// missing an email and promote anything found.
type PageEnricher struct {
	store       Store
	scanner     pagescan.Scanner
	recorder    *ledger.Recorder
	retry       resilience.RetryConfig
	concurrency int
}

// NewPageEnricher creates a PageEnricher.
func NewPageEnricher(st Store, scanner pagescan.Scanner, recorder *ledger.Recorder, concurrency int) *PageEnricher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("pagescan", "scan")
	return &PageEnricher{
		store:       st,
		scanner:     scanner,
		recorder:    recorder,
		retry:       cfg,
		concurrency: concurrency,
	}
}

// Run scans candidate websites and returns how many emails were promoted.
// A failed scan is recorded as a side record and the business stays
// eligible for the next phase; it never fails the campaign.
func (p *PageEnricher) Run(ctx context.Context, campaignID string) (int, error) {
	log := zap.L().With(zap.String("campaign_id", campaignID), zap.String("phase", "page"))

	// Businesses with an attempt record already paid for their scan; a
	// resumed run must not bill them again.
	businesses, err := p.store.ListBusinesses(ctx, campaignID, store.BusinessFilter{MissingEmail: true, PageUnattempted: true})
	if err != nil {
		return 0, eris.Wrap(err, "page: list candidates")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	promoted := make(chan struct{}, len(businesses))
	scanned := 0
	for i := range businesses {
		b := businesses[i]
		if b.Website == "" {
			continue
		}
		scanned++

		g.Go(func() error {
			res, err := resilience.DoVal(gctx, p.retry, func(ctx context.Context) (*pagescan.Result, error) {
				return p.scanner.Scan(ctx, b.Website)
			})

			// A cancelled scan is not an attempt; the business stays
			// eligible when the campaign resumes.
			if err != nil && (resilience.IsQuota(err) || gctx.Err() != nil) {
				return eris.Wrapf(err, "page: scan %s", b.Website)
			}

			// Scan outcomes persist even when a pause cancels the run.
			pctx := context.WithoutCancel(gctx)
			record := &model.PageEnrichment{
				BusinessID: b.ID,
				CampaignID: campaignID,
				PageURL:    b.Website,
			}
			if err != nil {
				record.Error = err.Error()
				if saveErr := p.store.SavePageEnrichment(pctx, record); saveErr != nil {
					return saveErr
				}
				log.Warn("page scan failed", zap.String("website", b.Website), zap.Error(err))
				return p.recorder.Record(pctx, campaignID, model.ServicePagescan, 1)
			}

			record.PageURL = res.PageURL
			record.Email = res.Email
			record.Succeeded = true
			if err := p.store.SavePageEnrichment(pctx, record); err != nil {
				return err
			}
			if err := p.recorder.Record(pctx, campaignID, model.ServicePagescan, 1); err != nil {
				return err
			}

			if res.Email != "" {
				if err := p.store.UpdateBusinessEmail(pctx, b.ID, res.Email, model.SourcePage, model.EnrichEnriched); err != nil {
					return err
				}
				promoted <- struct{}{}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	close(promoted)

	n := len(promoted)
	log.Info("page enrichment complete", zap.Int("scanned", scanned), zap.Int("promoted", n))
	return n, nil
}
