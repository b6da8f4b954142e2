package enrich

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/pronet"
)

// PronetEnricher runs phase three: search the professional network for a
// decision maker at every business still missing an email.
type PronetEnricher struct {
	store       Store
	client      pronet.Client
	recorder    *ledger.Recorder
	retry       resilience.RetryConfig
	concurrency int
}

// NewPronetEnricher creates a PronetEnricher.
func NewPronetEnricher(st Store, client pronet.Client, recorder *ledger.Recorder, concurrency int) *PronetEnricher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("pronet", "search_profiles")
	return &PronetEnricher{
		store:       st,
		client:      client,
		recorder:    recorder,
		retry:       cfg,
		concurrency: concurrency,
	}
}

// Run searches for decision makers and returns how many emails were
// promoted. The full profile lands in a side record either way, tagged
// with whether the provider listed the email directly or generated it
// from a name pattern.
func (p *PronetEnricher) Run(ctx context.Context, campaignID string) (int, error) {
	log := zap.L().With(zap.String("campaign_id", campaignID), zap.String("phase", "pronet"))

	// Every earlier attempt left a terminal enrichment status, so a resumed
	// run only sees businesses the phase has not billed yet.
	businesses, err := p.store.ListBusinesses(ctx, campaignID, store.BusinessFilter{MissingEmail: true, AwaitingPronet: true})
	if err != nil {
		return 0, eris.Wrap(err, "pronet: list candidates")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	promoted := make(chan struct{}, len(businesses))
	for i := range businesses {
		b := businesses[i]

		g.Go(func() error {
			resp, err := resilience.DoVal(gctx, p.retry, func(ctx context.Context) (*pronet.SearchResponse, error) {
				return p.client.SearchProfiles(ctx, pronet.SearchRequest{
					Company: b.Name,
					City:    b.City,
					State:   b.State,
				})
			})
			if err != nil {
				// A cancelled search must not mark the business failed, or a
				// resumed campaign would never retry it.
				if resilience.IsQuota(err) || gctx.Err() != nil {
					return eris.Wrapf(err, "pronet: search %s", b.Name)
				}
				log.Warn("profile search failed", zap.String("business", b.Name), zap.Error(err))
				return p.store.UpdateBusinessStatus(context.WithoutCancel(gctx), b.ID, model.EnrichFailed)
			}

			// Search results persist even when a pause cancels the run.
			pctx := context.WithoutCancel(gctx)
			if err := p.recorder.Record(pctx, campaignID, model.ServicePronet, 1); err != nil {
				return err
			}

			best := pickDecisionMaker(resp.Profiles)
			if best == nil {
				return p.store.UpdateBusinessStatus(pctx, b.ID, model.EnrichEnriched)
			}

			source := model.SourcePronetGenerated
			if best.EmailIsDirect {
				source = model.SourcePronetDirect
			}
			if err := p.store.SavePronetEnrichment(pctx, &model.PronetEnrichment{
				BusinessID: b.ID,
				CampaignID: campaignID,
				ProfileURL: best.URL,
				PersonName: best.Name,
				Title:      best.Title,
				Email:      best.Email,
				Source:     source,
			}); err != nil {
				return err
			}

			if best.Email == "" {
				return p.store.UpdateBusinessStatus(pctx, b.ID, model.EnrichEnriched)
			}
			if err := p.store.UpdateBusinessEmail(pctx, b.ID, best.Email, source, model.EnrichEnriched); err != nil {
				return err
			}
			promoted <- struct{}{}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	close(promoted)

	n := len(promoted)
	log.Info("pronet enrichment complete", zap.Int("candidates", len(businesses)), zap.Int("promoted", n))
	return n, nil
}

// Title seniority buckets, best first.
var titleRanks = []struct {
	rank     int
	keywords []string
}{
	{0, []string{"owner", "founder", "principal", "president", "proprietor"}},
	{1, []string{"ceo", "coo", "cfo", "chief"}},
	{2, []string{"vp", "vice president", "director", "partner"}},
	{3, []string{"manager", "head of"}},
}

func titleRank(title string) int {
	t := strings.ToLower(title)
	for _, bucket := range titleRanks {
		for _, kw := range bucket.keywords {
			if strings.Contains(t, kw) {
				return bucket.rank
			}
		}
	}
	return len(titleRanks)
}

// pickDecisionMaker prefers the most senior title, breaking ties toward
// directly listed emails, then profile URL for determinism.
func pickDecisionMaker(profiles []pronet.Profile) *pronet.Profile {
	if len(profiles) == 0 {
		return nil
	}

	ranked := make([]pronet.Profile, len(profiles))
	copy(ranked, profiles)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := titleRank(ranked[i].Title), titleRank(ranked[j].Title)
		if ri != rj {
			return ri < rj
		}
		if ranked[i].EmailIsDirect != ranked[j].EmailIsDirect {
			return ranked[i].EmailIsDirect
		}
		return ranked[i].URL < ranked[j].URL
	})

	// Prefer someone with any email at all; fall back to the top profile.
	for i := range ranked {
		if ranked[i].Email != "" {
			return &ranked[i]
		}
	}
	return &ranked[0]
}
