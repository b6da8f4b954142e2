package export

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
	sfpkg "github.com/sells-group/outreach-engine/pkg/salesforce"
)

func newSeededStore(t *testing.T) (store.Store, *model.Campaign) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	c := &model.Campaign{
		Name:      "austin-coffee",
		Keywords:  []string{"coffee"},
		Geography: "Austin, TX",
		Profile:   model.ProfileBalanced,
	}
	require.NoError(t, st.CreateCampaign(ctx, c))

	businesses := []model.Business{
		{
			CampaignID: c.ID, ListingID: "l-1", Name: "Bouldin Beans",
			City: "Austin", State: "TX", PostalCode: "78704",
			Email: "info@bouldin.example.com", EmailSource: model.SourcePage,
		},
		{
			CampaignID: c.ID, ListingID: "l-2", Name: "Aldine Roasters",
			City: "Austin", State: "TX", PostalCode: "78701",
			Email: "jamie@aldine.example.com", EmailSource: model.SourcePronetDirect,
		},
		{
			CampaignID: c.ID, ListingID: "l-3", Name: "No Email Cafe",
			City: "Austin", State: "TX", PostalCode: "78745",
		},
	}
	_, err = st.UpsertBusinesses(ctx, businesses)
	require.NoError(t, err)

	// Mark the first two verified; only one clears the safety bar.
	listed, err := st.ListBusinesses(ctx, c.ID, store.BusinessFilter{WithEmail: true})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, b := range listed {
		safe := b.ListingID == "l-2"
		require.NoError(t, st.UpdateBusinessVerification(ctx, b.ID, true, safe, 90))
		if b.ListingID == "l-2" {
			require.NoError(t, st.SavePronetEnrichment(ctx, &model.PronetEnrichment{
				BusinessID: b.ID,
				CampaignID: c.ID,
				ProfileURL: "https://pn/jamie",
				PersonName: "Jamie Del Rio",
				Title:      "Owner",
				Email:      b.Email,
				Source:     model.SourcePronetDirect,
			}))
		}
	}
	return st, c
}

func TestLeadsJoinsAndOrders(t *testing.T) {
	st, c := newSeededStore(t)
	e := New(st)

	leads, err := e.Leads(context.Background(), c.ID, Options{})
	require.NoError(t, err)
	require.Len(t, leads, 2)

	// Ordered by postal code.
	assert.Equal(t, "Aldine Roasters", leads[0].Business.Name)
	assert.Equal(t, "Bouldin Beans", leads[1].Business.Name)

	// Decision-maker side record joined onto its business.
	assert.Equal(t, "Jamie Del Rio", leads[0].PersonName)
	assert.Equal(t, "Owner", leads[0].Title)
	assert.Empty(t, leads[1].PersonName)
}

func TestLeadsSafeOnly(t *testing.T) {
	st, c := newSeededStore(t)
	e := New(st)

	leads, err := e.Leads(context.Background(), c.ID, Options{SafeOnly: true})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "Aldine Roasters", leads[0].Business.Name)
}

func TestWriteXLSX(t *testing.T) {
	st, c := newSeededStore(t)
	e := New(st)

	path := filepath.Join(t.TempDir(), "leads.xlsx")
	n, err := e.WriteXLSX(context.Background(), c.ID, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	leadsSheet := f.Sheet["Leads"]
	require.NotNil(t, leadsSheet)
	require.Len(t, leadsSheet.Rows, 3) // header + 2 leads
	assert.Equal(t, "Business", leadsSheet.Rows[0].Cells[0].Value)
	assert.Equal(t, "Aldine Roasters", leadsSheet.Rows[1].Cells[0].Value)
	assert.Equal(t, "Jamie Del Rio", leadsSheet.Rows[1].Cells[1].Value)
	assert.Equal(t, "jamie@aldine.example.com", leadsSheet.Rows[1].Cells[3].Value)

	summary := f.Sheet["Summary"]
	require.NotNil(t, summary)
	assert.Equal(t, "Campaign", summary.Rows[0].Cells[0].Value)
	assert.Equal(t, "austin-coffee", summary.Rows[0].Cells[1].Value)
}

// mockSF implements the Salesforce client for push tests.
type mockSF struct {
	existing map[string]bool // emails already present as leads
	inserted []map[string]any
}

func (m *mockSF) Query(ctx context.Context, soql string, out any) error {
	leads := out.(*[]sfpkg.Lead)
	for email := range m.existing {
		if strings.Contains(soql, "'"+email+"'") {
			*leads = []sfpkg.Lead{{ID: "00Qxx", Email: email}}
			return nil
		}
	}
	return nil
}

func (m *mockSF) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	m.inserted = append(m.inserted, record)
	return "00Qnew", nil
}

func (m *mockSF) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]sfpkg.CollectionResult, error) {
	results := make([]sfpkg.CollectionResult, len(records))
	for i, r := range records {
		m.inserted = append(m.inserted, r)
		results[i] = sfpkg.CollectionResult{ID: "00Qnew", Success: true}
	}
	return results, nil
}

func (m *mockSF) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	return nil
}

func (m *mockSF) UpdateCollection(ctx context.Context, sObjectName string, records []sfpkg.CollectionRecord) ([]sfpkg.CollectionResult, error) {
	return nil, nil
}

func (m *mockSF) DescribeSObject(ctx context.Context, name string) (*sfpkg.SObjectDescription, error) {
	return nil, nil
}

func TestPushSalesforce(t *testing.T) {
	st, c := newSeededStore(t)
	e := New(st)

	sf := &mockSF{existing: map[string]bool{"info@bouldin.example.com": true}}
	created, skipped, err := e.PushSalesforce(context.Background(), sf, c.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, skipped)

	require.Len(t, sf.inserted, 1)
	rec := sf.inserted[0]
	assert.Equal(t, "Aldine Roasters", rec["Company"])
	assert.Equal(t, "Del Rio", rec["LastName"])
	assert.Equal(t, "Jamie", rec["FirstName"])
	assert.Equal(t, "Owner", rec["Title"])
	assert.Equal(t, "jamie@aldine.example.com", rec["Email"])
}

func TestLeadRecordFallsBackToCompanyName(t *testing.T) {
	campaign := &model.Campaign{Name: "c"}
	rec := leadRecord(campaign, Lead{Business: model.Business{
		Name: "No Contact LLC", Email: "info@nc.example.com",
	}})
	assert.Equal(t, "No Contact LLC", rec["LastName"])
	assert.Nil(t, rec["FirstName"])
}
