// Package export turns a campaign's verified results into deliverables: an
// XLSX workbook for manual outreach and Salesforce Lead records for the
// sales pipeline.
package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
	sfpkg "github.com/sells-group/outreach-engine/pkg/salesforce"
)

// Store defines the persistence operations export needs. The full store
// satisfies it.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListBusinesses(ctx context.Context, campaignID string, f store.BusinessFilter) ([]model.Business, error)
	ListPronetEnrichments(ctx context.Context, campaignID string) ([]model.PronetEnrichment, error)
	CostByService(ctx context.Context, campaignID string) (map[string]float64, error)
}

// Lead is one exportable row: a business joined with its decision-maker
// side record when the professional-network phase found one.
type Lead struct {
	Business    model.Business
	PersonName  string
	Title       string
	ProfileURL  string
	EmailSource model.EmailSource
}

// Options narrows which businesses are exported.
type Options struct {
	// SafeOnly keeps only rows whose email verified as safe to send.
	SafeOnly bool
}

// Exporter builds campaign deliverables.
type Exporter struct {
	store Store
}

// New creates an Exporter.
func New(st Store) *Exporter {
	return &Exporter{store: st}
}

// Leads assembles the export rows for a campaign, ordered by postal code
// then business name for stable output.
func (e *Exporter) Leads(ctx context.Context, campaignID string, opts Options) ([]Lead, error) {
	businesses, err := e.store.ListBusinesses(ctx, campaignID, store.BusinessFilter{WithEmail: true})
	if err != nil {
		return nil, eris.Wrap(err, "export: list businesses")
	}
	records, err := e.store.ListPronetEnrichments(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "export: list pronet records")
	}
	byBusiness := make(map[string]model.PronetEnrichment, len(records))
	for _, r := range records {
		byBusiness[r.BusinessID] = r
	}

	leads := make([]Lead, 0, len(businesses))
	for _, b := range businesses {
		if opts.SafeOnly && !b.VerifiedSafe {
			continue
		}
		lead := Lead{Business: b, EmailSource: b.EmailSource}
		if rec, ok := byBusiness[b.ID]; ok && rec.Email == b.Email {
			lead.PersonName = rec.PersonName
			lead.Title = rec.Title
			lead.ProfileURL = rec.ProfileURL
		}
		leads = append(leads, lead)
	}

	sort.Slice(leads, func(i, j int) bool {
		if leads[i].Business.PostalCode != leads[j].Business.PostalCode {
			return leads[i].Business.PostalCode < leads[j].Business.PostalCode
		}
		return leads[i].Business.Name < leads[j].Business.Name
	})
	return leads, nil
}

// WriteXLSX writes a workbook with a Leads sheet and a Summary sheet.
func (e *Exporter) WriteXLSX(ctx context.Context, campaignID, path string, opts Options) (int, error) {
	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	leads, err := e.Leads(ctx, campaignID, opts)
	if err != nil {
		return 0, err
	}
	costs, err := e.store.CostByService(ctx, campaignID)
	if err != nil {
		return 0, eris.Wrap(err, "export: cost by service")
	}

	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return 0, eris.Wrap(err, "export: add leads sheet")
	}
	header := sheet.AddRow()
	for _, h := range []string{
		"Business", "Contact", "Title", "Email", "Email Source",
		"Verified Safe", "Score", "Phone", "Website", "Street",
		"City", "State", "Postal Code", "Profile URL",
	} {
		header.AddCell().Value = h
	}
	for _, lead := range leads {
		b := lead.Business
		row := sheet.AddRow()
		row.AddCell().Value = b.Name
		row.AddCell().Value = lead.PersonName
		row.AddCell().Value = lead.Title
		row.AddCell().Value = b.Email
		row.AddCell().Value = string(lead.EmailSource)
		row.AddCell().SetBool(b.VerifiedSafe)
		row.AddCell().SetInt(b.VerifyScore)
		row.AddCell().Value = b.Phone
		row.AddCell().Value = b.Website
		row.AddCell().Value = b.Street
		row.AddCell().Value = b.City
		row.AddCell().Value = b.State
		row.AddCell().Value = b.PostalCode
		row.AddCell().Value = lead.ProfileURL
	}

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return 0, eris.Wrap(err, "export: add summary sheet")
	}
	addSummaryRow(summary, "Campaign", campaign.Name)
	addSummaryRow(summary, "Geography", campaign.Geography)
	addSummaryRow(summary, "Keywords", strings.Join(campaign.Keywords, ", "))
	addSummaryRow(summary, "Status", string(campaign.Status))
	addSummaryRow(summary, "Businesses", fmt.Sprintf("%d", campaign.TotalBusinesses))
	addSummaryRow(summary, "Emails", fmt.Sprintf("%d", campaign.TotalEmails))
	addSummaryRow(summary, "Exported leads", fmt.Sprintf("%d", len(leads)))
	addSummaryRow(summary, "Estimated cost (USD)", fmt.Sprintf("%.2f", campaign.EstimatedCost))
	addSummaryRow(summary, "Actual cost (USD)", fmt.Sprintf("%.2f", campaign.ActualCost))

	services := make([]string, 0, len(costs))
	for svc := range costs {
		services = append(services, svc)
	}
	sort.Strings(services)
	for _, svc := range services {
		addSummaryRow(summary, "Cost: "+svc, fmt.Sprintf("%.2f", costs[svc]))
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save workbook %s", path)
	}
	return len(leads), nil
}

func addSummaryRow(sheet *xlsx.Sheet, label, value string) {
	row := sheet.AddRow()
	row.AddCell().Value = label
	row.AddCell().Value = value
}

// PushSalesforce inserts the campaign's leads as Salesforce Lead records,
// skipping emails that already exist as leads. Returns created and skipped
// counts.
func (e *Exporter) PushSalesforce(ctx context.Context, sf sfpkg.Client, campaignID string, opts Options) (created, skipped int, err error) {
	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, 0, err
	}
	leads, err := e.Leads(ctx, campaignID, opts)
	if err != nil {
		return 0, 0, err
	}

	log := zap.L().With(zap.String("component", "export"), zap.String("campaign_id", campaignID))

	var records []map[string]any
	for _, lead := range leads {
		existing, err := sfpkg.FindLeadByEmail(ctx, sf, lead.Business.Email)
		if err != nil {
			return created, skipped, err
		}
		if existing != nil {
			skipped++
			continue
		}
		records = append(records, leadRecord(campaign, lead))
	}

	results, err := sfpkg.BulkInsertLeads(ctx, sf, records)
	for _, r := range results {
		if r.Success {
			created++
		}
	}
	if err != nil {
		return created, skipped, err
	}

	log.Info("salesforce export complete", zap.Int("created", created), zap.Int("skipped", skipped))
	return created, skipped, nil
}

// leadRecord maps one export row onto Salesforce Lead fields. A business
// without a decision maker gets the company name as LastName, which
// Salesforce requires.
func leadRecord(campaign *model.Campaign, lead Lead) map[string]any {
	b := lead.Business
	first, last := splitName(lead.PersonName)
	if last == "" {
		last = b.Name
	}

	rec := map[string]any{
		"Company":    b.Name,
		"LastName":   last,
		"Email":      b.Email,
		"LeadSource": "Outreach Engine: " + campaign.Name,
		"Status":     "Open - Not Contacted",
	}
	if first != "" {
		rec["FirstName"] = first
	}
	if lead.Title != "" {
		rec["Title"] = lead.Title
	}
	if b.Phone != "" {
		rec["Phone"] = b.Phone
	}
	if b.Website != "" {
		rec["Website"] = b.Website
	}
	if b.City != "" {
		rec["City"] = b.City
	}
	if b.State != "" {
		rec["State"] = b.State
	}
	if b.PostalCode != "" {
		rec["PostalCode"] = b.PostalCode
	}
	return rec
}

// splitName splits on the first space so compound last names survive.
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	idx := strings.Index(name, " ")
	if idx < 0 {
		return "", name
	}
	return name[:idx], strings.TrimSpace(name[idx+1:])
}
