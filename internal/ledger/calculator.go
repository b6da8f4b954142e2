package ledger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Enrichment phase fractions used for campaign estimates: the share of
// discovered businesses expected to need a page scan, a profile search, and
// a deliverability check. Calibrated from completed campaign history.
const (
	estPageFraction    = 0.55
	estProfileFraction = 0.30
	estVerifyFraction  = 0.70
)

// Calculator prices enrichment work.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Listings prices a discovery pull of n listings.
func (c *Calculator) Listings(n int) float64 {
	return float64(n) / 1000 * c.rates.ListingsPerK
}

// Pages prices n page scans.
func (c *Calculator) Pages(n int) float64 {
	return float64(n) / 1000 * c.rates.PagesPerK
}

// Profiles prices n professional-network profile searches.
func (c *Calculator) Profiles(n int) float64 {
	return float64(n) / 1000 * c.rates.ProfilesPerK
}

// Verifications prices n deliverability checks.
func (c *Calculator) Verifications(n int) float64 {
	return float64(n) / 1000 * c.rates.VerificationsPerK
}

// Research prices n relevance research queries.
func (c *Calculator) Research(n int) float64 {
	return float64(n) * c.rates.ResearchPerQuery
}

// EstimateCampaign projects the total cost of enriching estBusinesses
// discovered listings through all four phases.
func (c *Calculator) EstimateCampaign(estBusinesses int) float64 {
	b := float64(estBusinesses)
	return c.Listings(estBusinesses) +
		c.Pages(int(b*estPageFraction)) +
		c.Profiles(int(b*estProfileFraction)) +
		c.Verifications(int(b*estVerifyFraction))
}

// CostSink is the slice of the store the recorder writes.
type CostSink interface {
	AppendCost(ctx context.Context, rec *model.CostRecord) error
}

// Recorder prices completed work and appends it to a campaign's ledger.
// Records are never updated or deleted; actual spend is always the sum.
type Recorder struct {
	calc *Calculator
	sink CostSink
}

// NewRecorder creates a Recorder writing to sink.
func NewRecorder(calc *Calculator, sink CostSink) *Recorder {
	return &Recorder{calc: calc, sink: sink}
}

// Record appends one cost record for items units of the named service.
// Zero items records nothing.
func (r *Recorder) Record(ctx context.Context, campaignID, service string, items int) error {
	if items <= 0 {
		return nil
	}

	var amount float64
	switch service {
	case model.ServiceListings:
		amount = r.calc.Listings(items)
	case model.ServicePagescan:
		amount = r.calc.Pages(items)
	case model.ServicePronet:
		amount = r.calc.Profiles(items)
	case model.ServiceVerifier:
		amount = r.calc.Verifications(items)
	case model.ServiceResearch:
		amount = r.calc.Research(items)
	default:
		return eris.Errorf("ledger: unknown service %q", service)
	}

	return r.sink.AppendCost(ctx, &model.CostRecord{
		CampaignID: campaignID,
		Service:    service,
		Items:      items,
		AmountUSD:  amount,
	})
}
