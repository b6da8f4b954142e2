package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/pkg/pronet"
)

func TestPronetPromotesDirectEmail(t *testing.T) {
	st := newMockStore()
	recorder, sink := newTestRecorder()

	b := st.addBusiness(&model.Business{CampaignID: "camp-1", ListingID: "l-1", Name: "Bouldin Beans", City: "Austin", State: "TX"})

	client := &mockPronet{responses: map[string]*pronet.SearchResponse{
		"Bouldin Beans": {Profiles: []pronet.Profile{
			{URL: "https://pronet.example.com/in/jdoe", Name: "Jamie Doe", Title: "Owner", Email: "jamie@bouldin.example.com", EmailIsDirect: true},
		}},
	}}
	p := NewPronetEnricher(st, client, recorder, 2)

	promoted, err := p.Run(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	got := st.business(b.ID)
	assert.Equal(t, "jamie@bouldin.example.com", got.Email)
	assert.Equal(t, model.SourcePronetDirect, got.EmailSource)
	assert.Equal(t, model.EnrichEnriched, got.EnrichmentStatus)

	rec := st.pronetRecs[b.ID]
	require.NotNil(t, rec)
	assert.Equal(t, "Jamie Doe", rec.PersonName)
	assert.Equal(t, model.SourcePronetDirect, rec.Source)

	assert.Equal(t, 1, sink.totalItems(model.ServicePronet))
}

func TestPronetTagsGeneratedEmail(t *testing.T) {
	st := newMockStore()
	recorder, _ := newTestRecorder()

	b := st.addBusiness(&model.Business{CampaignID: "camp-1", ListingID: "l-1", Name: "Manchaca Coffee"})

	client := &mockPronet{responses: map[string]*pronet.SearchResponse{
		"Manchaca Coffee": {Profiles: []pronet.Profile{
			{URL: "https://pronet.example.com/in/alee", Name: "Alex Lee", Title: "Founder", Email: "alex.lee@manchaca.example.com", EmailIsDirect: false},
		}},
	}}
	p := NewPronetEnricher(st, client, recorder, 1)

	promoted, err := p.Run(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	got := st.business(b.ID)
	assert.Equal(t, model.SourcePronetGenerated, got.EmailSource)
	assert.Equal(t, model.SourcePronetGenerated, st.pronetRecs[b.ID].Source)
}

func TestPronetNoProfilesFound(t *testing.T) {
	st := newMockStore()
	recorder, _ := newTestRecorder()

	b := st.addBusiness(&model.Business{CampaignID: "camp-1", ListingID: "l-1", Name: "Ghost LLC"})

	client := &mockPronet{}
	p := NewPronetEnricher(st, client, recorder, 1)

	promoted, err := p.Run(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)

	got := st.business(b.ID)
	assert.Empty(t, got.Email)
	assert.Equal(t, model.EnrichEnriched, got.EnrichmentStatus)
	assert.Nil(t, st.pronetRecs[b.ID])
}

func TestPronetRerunSkipsAttempted(t *testing.T) {
	st := newMockStore()
	recorder, sink := newTestRecorder()

	st.addBusiness(&model.Business{CampaignID: "camp-1", ListingID: "l-1", Name: "Ghost LLC"})

	client := &mockPronet{}
	p := NewPronetEnricher(st, client, recorder, 1)

	_, err := p.Run(context.Background(), "camp-1")
	require.NoError(t, err)

	// The first run left a terminal status, so a resumed run does not
	// search or bill the business again.
	_, err = p.Run(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Len(t, client.calls, 1)
	assert.Equal(t, 1, sink.totalItems(model.ServicePronet))
}

func TestPronetSearchFailureMarksBusinessFailed(t *testing.T) {
	st := newMockStore()
	recorder, _ := newTestRecorder()

	b := st.addBusiness(&model.Business{CampaignID: "camp-1", ListingID: "l-1", Name: "Flaky Inc"})

	client := &mockPronet{errs: map[string]error{
		"Flaky Inc": errors.New("pronet: unexpected status 400"),
	}}
	p := NewPronetEnricher(st, client, recorder, 1)

	promoted, err := p.Run(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Equal(t, model.EnrichFailed, st.business(b.ID).EnrichmentStatus)
}

func TestPronetQuotaAborts(t *testing.T) {
	st := newMockStore()
	recorder, _ := newTestRecorder()

	st.addBusiness(&model.Business{CampaignID: "camp-1", ListingID: "l-1", Name: "Broke Corp"})

	client := &mockPronet{errs: map[string]error{
		"Broke Corp": resilience.NewQuotaError("pronet", errors.New("payment required")),
	}}
	p := NewPronetEnricher(st, client, recorder, 1)

	_, err := p.Run(context.Background(), "camp-1")
	require.Error(t, err)
	assert.True(t, resilience.IsQuota(err))
}

func TestPickDecisionMaker(t *testing.T) {
	owner := pronet.Profile{URL: "https://p/owner", Title: "Owner", Email: "owner@x.com", EmailIsDirect: true}
	ceo := pronet.Profile{URL: "https://p/ceo", Title: "CEO", Email: "ceo@x.com"}
	director := pronet.Profile{URL: "https://p/dir", Title: "Marketing Director", Email: "dir@x.com"}
	manager := pronet.Profile{URL: "https://p/mgr", Title: "Office Manager", Email: "mgr@x.com"}
	staff := pronet.Profile{URL: "https://p/staff", Title: "Barista", Email: "staff@x.com"}
	ownerNoEmail := pronet.Profile{URL: "https://p/owner2", Title: "Owner"}

	tests := []struct {
		name     string
		profiles []pronet.Profile
		want     string
	}{
		{"empty", nil, ""},
		{"owner beats ceo", []pronet.Profile{ceo, owner}, owner.URL},
		{"ceo beats director", []pronet.Profile{director, ceo}, ceo.URL},
		{"director beats manager", []pronet.Profile{manager, director}, director.URL},
		{"manager beats staff", []pronet.Profile{staff, manager}, manager.URL},
		{"email wins over seniority", []pronet.Profile{ownerNoEmail, manager}, manager.URL},
		{"no email anywhere returns most senior", []pronet.Profile{{URL: "https://p/a", Title: "Clerk"}, ownerNoEmail}, ownerNoEmail.URL},
		{
			"direct email breaks rank tie",
			[]pronet.Profile{
				{URL: "https://p/b", Title: "Founder", Email: "b@x.com"},
				{URL: "https://p/a", Title: "Owner", Email: "a@x.com", EmailIsDirect: true},
			},
			"https://p/a",
		},
		{
			"url breaks remaining ties",
			[]pronet.Profile{
				{URL: "https://p/zz", Title: "Owner", Email: "z@x.com"},
				{URL: "https://p/aa", Title: "Owner", Email: "a@x.com"},
			},
			"https://p/aa",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickDecisionMaker(tt.profiles)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.URL)
		})
	}
}
