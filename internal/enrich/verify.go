package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/bouncer"
)

// SafeScoreThreshold is the minimum verification score for an email to be
// considered safe to send to, on top of a deliverable status.
const SafeScoreThreshold = 70

// DefaultVerifyBatchSize is how many emails go into one batch call.
const DefaultVerifyBatchSize = 100

// DefaultBatchDelay spaces out batch calls to stay inside provider limits.
const DefaultBatchDelay = 2 * time.Second

// Verifier runs phase four: batch deliverability checks for every
// unverified email in the campaign.
type Verifier struct {
	store      Store
	client     bouncer.Client
	recorder   *ledger.Recorder
	retry      resilience.RetryConfig
	batchSize  int
	batchDelay time.Duration
}

// NewVerifier creates a Verifier. batchSize <= 0 selects the default.
func NewVerifier(st Store, client bouncer.Client, recorder *ledger.Recorder, batchSize int, batchDelay time.Duration) *Verifier {
	if batchSize <= 0 {
		batchSize = DefaultVerifyBatchSize
	}
	if batchDelay < 0 {
		batchDelay = DefaultBatchDelay
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("bouncer", "verify_batch")
	return &Verifier{
		store:      st,
		client:     client,
		recorder:   recorder,
		retry:      cfg,
		batchSize:  batchSize,
		batchDelay: batchDelay,
	}
}

// Safe reports whether a verification result clears the send-safety bar.
func Safe(status string, score int) bool {
	return status == bouncer.StatusDeliverable && score >= SafeScoreThreshold
}

// Run verifies all unverified emails and returns how many cleared the
// safety bar. A batch that exhausts retries is logged and skipped; its
// emails stay unverified for the next run. Verification outcomes are
// mirrored onto matching professional-network side records so exports can
// show per-person status.
func (v *Verifier) Run(ctx context.Context, campaignID string) (int, error) {
	log := zap.L().With(zap.String("campaign_id", campaignID), zap.String("phase", "verify"))

	businesses, err := v.store.ListBusinesses(ctx, campaignID, store.BusinessFilter{WithEmail: true, Unverified: true})
	if err != nil {
		return 0, eris.Wrap(err, "verify: list candidates")
	}
	if len(businesses) == 0 {
		return 0, nil
	}

	pronetByBusiness, err := v.pronetRecords(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	byEmail := make(map[string][]model.Business, len(businesses))
	for _, b := range businesses {
		byEmail[b.Email] = append(byEmail[b.Email], b)
	}
	emails := make([]string, 0, len(byEmail))
	for e := range byEmail {
		emails = append(emails, e)
	}

	safeCount := 0
	for start := 0; start < len(emails); start += v.batchSize {
		if start > 0 && v.batchDelay > 0 {
			timer := time.NewTimer(v.batchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return safeCount, eris.Wrap(ctx.Err(), "verify: cancelled between batches")
			case <-timer.C:
			}
		}

		end := min(start+v.batchSize, len(emails))
		batch := emails[start:end]

		results, err := resilience.DoVal(ctx, v.retry, func(ctx context.Context) ([]bouncer.Result, error) {
			return v.client.VerifyBatch(ctx, batch)
		})
		if err != nil {
			if resilience.IsQuota(err) || ctx.Err() != nil {
				return safeCount, eris.Wrap(err, "verify: batch")
			}
			// The batch's emails stay unverified and are retried on the
			// next run; one bad batch never fails the campaign.
			log.Warn("verification batch failed, leaving emails unverified",
				zap.Int("emails", len(batch)),
				zap.Error(err),
			)
			continue
		}

		// Batch results persist even when a pause cancels the run.
		pctx := context.WithoutCancel(ctx)
		if err := v.recorder.Record(pctx, campaignID, model.ServiceVerifier, len(batch)); err != nil {
			return safeCount, err
		}

		for _, res := range results {
			safe := Safe(res.Status, res.Score)
			for _, b := range byEmail[res.Email] {
				if err := v.store.UpdateBusinessVerification(pctx, b.ID, true, safe, res.Score); err != nil {
					return safeCount, err
				}
				if rec, ok := pronetByBusiness[b.ID]; ok && rec.Email == res.Email {
					if err := v.store.UpdatePronetVerification(pctx, rec.ID, true, safe, res.Score); err != nil {
						return safeCount, err
					}
				}
				if safe {
					safeCount++
				}
			}
		}
	}

	log.Info("verification complete",
		zap.Int("emails", len(emails)),
		zap.Int("safe", safeCount),
	)
	return safeCount, nil
}

func (v *Verifier) pronetRecords(ctx context.Context, campaignID string) (map[string]model.PronetEnrichment, error) {
	records, err := v.store.ListPronetEnrichments(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "verify: list pronet records")
	}
	byBusiness := make(map[string]model.PronetEnrichment, len(records))
	for _, r := range records {
		byBusiness[r.BusinessID] = r
	}
	return byBusiness, nil
}
