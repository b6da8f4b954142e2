package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/coverage"
	"github.com/sells-group/outreach-engine/internal/enrich"
	"github.com/sells-group/outreach-engine/internal/geoindex"
	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/bouncer"
	"github.com/sells-group/outreach-engine/pkg/listings"
	"github.com/sells-group/outreach-engine/pkg/pagescan"
	"github.com/sells-group/outreach-engine/pkg/pronet"
)

// stubResearcher scores every postal code the same so selections are
// deterministic and driven by density.
type stubResearcher struct {
	score float64
	est   int
	err   error
}

func (r *stubResearcher) Score(ctx context.Context, keywords []string, d model.Demographics) (coverage.Relevance, error) {
	if r.err != nil {
		return coverage.Relevance{}, r.err
	}
	return coverage.Relevance{Score: r.score, EstimatedBusinesses: r.est, Neighborhood: d.City}, nil
}

// stubListings serves a fixed number of listings per postal code and counts
// calls per postal code.
type stubListings struct {
	mu       sync.Mutex
	perCode  map[string][]listings.Listing
	calls    map[string]int
	err      error
	onSearch func(postal string)
}

func (s *stubListings) Search(ctx context.Context, req listings.SearchRequest) (*listings.SearchResponse, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[req.PostalCode]++
	hook := s.onSearch
	err := s.err
	found := s.perCode[req.PostalCode]
	s.mu.Unlock()

	if hook != nil {
		hook(req.PostalCode)
	}
	if err != nil {
		return nil, err
	}
	return &listings.SearchResponse{Listings: found, Total: len(found)}, nil
}

type stubScanner struct {
	mu     sync.Mutex
	emails map[string]string // website -> email
	scans  map[string]int
	onScan func(website string)
}

func (s *stubScanner) Scan(ctx context.Context, pageURL string) (*pagescan.Result, error) {
	s.mu.Lock()
	if s.scans == nil {
		s.scans = make(map[string]int)
	}
	s.scans[pageURL]++
	hook := s.onScan
	email := s.emails[pageURL]
	s.mu.Unlock()

	if hook != nil {
		hook(pageURL)
	}
	return &pagescan.Result{PageURL: pageURL, Email: email}, nil
}

type stubPronet struct {
	profiles map[string][]pronet.Profile // company -> profiles
	err      error
}

func (s *stubPronet) SearchProfiles(ctx context.Context, req pronet.SearchRequest) (*pronet.SearchResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &pronet.SearchResponse{Profiles: s.profiles[req.Company]}, nil
}

type stubBouncer struct{}

func (s *stubBouncer) Verify(ctx context.Context, email string) (*bouncer.Result, error) {
	res, err := s.VerifyBatch(ctx, []string{email})
	if err != nil {
		return nil, err
	}
	return &res[0], nil
}

func (s *stubBouncer) VerifyBatch(ctx context.Context, emails []string) ([]bouncer.Result, error) {
	out := make([]bouncer.Result, len(emails))
	for i, e := range emails {
		out[i] = bouncer.Result{Email: e, Status: bouncer.StatusDeliverable, Score: 92}
	}
	return out, nil
}

type engineStubs struct {
	listings *stubListings
	scanner  *stubScanner
	pronet   *stubPronet
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	seedDemographics(t, st)
	return st
}

func seedDemographics(t *testing.T, st store.Store) {
	t.Helper()
	_, err := st.UpsertDemographics(context.Background(), []model.Demographics{
		{PostalCode: "78701", City: "Austin", State: "TX", Population: 10000, Density: 4500},
		{PostalCode: "78704", City: "Austin", State: "TX", Population: 40000, Density: 3200},
		{PostalCode: "78745", City: "Austin", State: "TX", Population: 60000, Density: 2800},
	})
	require.NoError(t, err)
}

func newTestOrchestrator(t *testing.T, st store.Store, stubs engineStubs) *Orchestrator {
	t.Helper()
	if stubs.listings == nil {
		stubs.listings = &stubListings{}
	}
	if stubs.scanner == nil {
		stubs.scanner = &stubScanner{}
	}
	if stubs.pronet == nil {
		stubs.pronet = &stubPronet{}
	}

	calc := ledger.NewCalculator(ledger.DefaultRates())
	recorder := ledger.NewRecorder(calc, st)
	selector := coverage.NewSelector(geoindex.New(st, 0), &stubResearcher{score: 80, est: 50}, calc, 100)

	return New(
		st,
		selector,
		enrich.NewDiscoverer(st, stubs.listings, recorder, 2),
		enrich.NewPageEnricher(st, stubs.scanner, recorder, 2),
		enrich.NewPronetEnricher(st, stubs.pronet, recorder, 2),
		enrich.NewVerifier(st, &stubBouncer{}, recorder, 100, 0),
		recorder,
	)
}

func austinListings(n int, postal string, withEmail bool) []listings.Listing {
	out := make([]listings.Listing, n)
	for i := range out {
		out[i] = listings.Listing{
			ID:         fmt.Sprintf("%s-l%d", postal, i),
			Name:       fmt.Sprintf("Business %s-%d", postal, i),
			City:       "Austin",
			State:      "TX",
			PostalCode: postal,
			Website:    fmt.Sprintf("https://biz-%s-%d.example.com", postal, i),
		}
		if withEmail {
			out[i].Email = fmt.Sprintf("info@biz-%s-%d.example.com", postal, i)
		}
	}
	return out
}

func TestCreateSelectsTargetsAndRecordsResearch(t *testing.T) {
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, engineStubs{})

	campaign, selection, err := o.Create(context.Background(), CreateRequest{
		Name:      "austin-plumbers",
		Keywords:  []string{"plumber"},
		Geography: "Austin, TX",
		Profile:   model.ProfileBalanced,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, campaign.Status)
	assert.Equal(t, len(selection.Targets), campaign.TargetCount)
	assert.Greater(t, campaign.EstimatedCost, 0.0)
	assert.Equal(t, 3, selection.ResearchQueries)

	targets, err := st.ListTargets(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Len(t, targets, len(selection.Targets))

	// Research spend lands in the ledger at creation time.
	byService, err := st.CostByService(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3*0.02, byService[model.ServiceResearch], 1e-9)
}

func TestCreateValidation(t *testing.T) {
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, engineStubs{})
	ctx := context.Background()

	_, _, err := o.Create(ctx, CreateRequest{Keywords: []string{"x"}, Geography: "78704"})
	assert.Error(t, err)

	_, _, err = o.Create(ctx, CreateRequest{Name: "n", Geography: "78704"})
	assert.Error(t, err)

	_, _, err = o.Create(ctx, CreateRequest{Name: "n", Keywords: []string{"x"}})
	assert.Error(t, err)

	_, _, err = o.Create(ctx, CreateRequest{Name: "n", Keywords: []string{"x"}, Geography: "78704", Profile: "extreme"})
	assert.Error(t, err)
}

func TestExecuteRunsAllPhasesToCompletion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lst := &stubListings{perCode: map[string][]listings.Listing{
		"78701": austinListings(2, "78701", true),
		"78704": austinListings(3, "78704", false),
		"78745": austinListings(1, "78745", false),
	}}
	// One of the 78704 sites publishes an email; pronet covers one more.
	scanner := &stubScanner{emails: map[string]string{
		"https://biz-78704-0.example.com": "contact@biz-78704-0.example.com",
	}}
	pn := &stubPronet{profiles: map[string][]pronet.Profile{
		"Business 78704-1": {{URL: "https://pn/a", Name: "Pat Kim", Title: "Owner", Email: "pat@biz.example.com", EmailIsDirect: true}},
	}}

	o := newTestOrchestrator(t, st, engineStubs{listings: lst, scanner: scanner, pronet: pn})
	campaign, _, err := o.Create(ctx, CreateRequest{
		Name: "austin", Keywords: []string{"plumber"}, Geography: "Austin, TX", Profile: model.ProfileAggressive,
	})
	require.NoError(t, err)

	require.NoError(t, o.Execute(ctx, campaign.ID))

	final, err := st.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, final.Status)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, 6, final.TotalBusinesses)
	assert.Equal(t, 4, final.TotalEmails) // 2 discovery + 1 page + 1 pronet

	counts, err := st.CountBusinesses(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.VerifiedSafe)

	// Every billed service shows up in the ledger.
	byService, err := st.CostByService(ctx, campaign.ID)
	require.NoError(t, err)
	for _, svc := range []string{model.ServiceListings, model.ServicePagescan, model.ServicePronet, model.ServiceVerifier, model.ServiceResearch} {
		assert.Greater(t, byService[svc], 0.0, svc)
	}
	assert.Greater(t, final.ActualCost, 0.0)

	a, err := o.Analytics(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TargetsTotal)
	assert.Equal(t, 3, a.TargetsCompleted)
	assert.InDelta(t, 100.0, a.CoverageCompletion, 1e-9)
	assert.Equal(t, 6, a.BusinessesFound)
	assert.Equal(t, 4, a.EmailsFound)
	assert.Equal(t, 4, a.VerifiedSafe)
	assert.Greater(t, a.CostPerEmail, a.CostPerBusiness)
}

func TestPauseAndResumeDoesNotRepeatPaidWork(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lst := &stubListings{perCode: map[string][]listings.Listing{
		"78701": austinListings(2, "78701", true),
		"78704": austinListings(2, "78704", true),
		"78745": austinListings(2, "78745", true),
	}}
	o := newTestOrchestrator(t, st, engineStubs{listings: lst})

	campaign, _, err := o.Create(ctx, CreateRequest{
		Name: "austin", Keywords: []string{"plumber"}, Geography: "Austin, TX", Profile: model.ProfileAggressive,
	})
	require.NoError(t, err)

	// Pause as soon as the first discovery search lands.
	var once sync.Once
	lst.onSearch = func(string) {
		once.Do(func() {
			require.NoError(t, o.Pause(context.Background(), campaign.ID))
		})
	}

	require.NoError(t, o.Execute(ctx, campaign.ID))

	paused, err := st.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignPaused, paused.Status)

	lst.onSearch = nil
	require.NoError(t, o.Resume(ctx, campaign.ID))

	final, err := st.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, final.Status)
	assert.Equal(t, 6, final.TotalBusinesses)
	assert.Equal(t, 6, final.TotalEmails)

	// No postal target was searched twice across pause and resume.
	for code, n := range lst.calls {
		assert.Equal(t, 1, n, code)
	}

	// Ledger holds exactly one discovery record per target plus research.
	byService, err := st.CostByService(ctx, campaign.ID)
	require.NoError(t, err)
	assert.InDelta(t, 6.0/1000*7.50, byService[model.ServiceListings], 1e-9)
}

func TestPauseFreezesCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lst := &stubListings{perCode: map[string][]listings.Listing{
		"78701": austinListings(2, "78701", true),
		"78704": austinListings(2, "78704", true),
		"78745": austinListings(2, "78745", true),
	}}

	// Serial discovery so the pause lands deterministically after the first
	// target and the capture hook fires before any new work persists.
	calc := ledger.NewCalculator(ledger.DefaultRates())
	recorder := ledger.NewRecorder(calc, st)
	selector := coverage.NewSelector(geoindex.New(st, 0), &stubResearcher{score: 80, est: 50}, calc, 100)
	o := New(
		st,
		selector,
		enrich.NewDiscoverer(st, lst, recorder, 1),
		enrich.NewPageEnricher(st, &stubScanner{}, recorder, 1),
		enrich.NewPronetEnricher(st, &stubPronet{}, recorder, 1),
		enrich.NewVerifier(st, &stubBouncer{}, recorder, 100, 0),
		recorder,
	)

	campaign, _, err := o.Create(ctx, CreateRequest{
		Name: "austin", Keywords: []string{"plumber"}, Geography: "Austin, TX", Profile: model.ProfileAggressive,
	})
	require.NoError(t, err)

	var once sync.Once
	lst.onSearch = func(string) {
		once.Do(func() {
			require.NoError(t, o.Pause(context.Background(), campaign.ID))
		})
	}
	require.NoError(t, o.Execute(ctx, campaign.ID))

	countsBefore, err := st.CountBusinesses(ctx, campaign.ID)
	require.NoError(t, err)
	costBefore, err := st.CampaignCost(ctx, campaign.ID)
	require.NoError(t, err)

	// Capture again at the first unit of resumed work, before anything new
	// has persisted.
	var capturedCounts *store.BusinessCounts
	var capturedCost float64
	var captureOnce sync.Once
	lst.onSearch = func(string) {
		captureOnce.Do(func() {
			capturedCounts, err = st.CountBusinesses(context.Background(), campaign.ID)
			require.NoError(t, err)
			capturedCost, err = st.CampaignCost(context.Background(), campaign.ID)
			require.NoError(t, err)
		})
	}
	require.NoError(t, o.Resume(ctx, campaign.ID))

	require.NotNil(t, capturedCounts)
	assert.Equal(t, countsBefore, capturedCounts)
	assert.Equal(t, costBefore, capturedCost)
}

func TestResumeDoesNotRescanAttemptedPages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lst := &stubListings{perCode: map[string][]listings.Listing{
		"78704": austinListings(2, "78704", false),
	}}
	scanner := &stubScanner{}
	o := newTestOrchestrator(t, st, engineStubs{listings: lst, scanner: scanner})

	campaign, _, err := o.Create(ctx, CreateRequest{
		Name: "austin", Keywords: []string{"plumber"}, Geography: "78704",
	})
	require.NoError(t, err)

	// Pause once the page phase starts scanning.
	var once sync.Once
	scanner.onScan = func(string) {
		once.Do(func() {
			require.NoError(t, o.Pause(context.Background(), campaign.ID))
		})
	}
	require.NoError(t, o.Execute(ctx, campaign.ID))

	scanner.onScan = nil
	require.NoError(t, o.Resume(ctx, campaign.ID))

	final, err := st.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, final.Status)

	// No website was scanned and billed twice across pause and resume, even
	// though none of the scans produced an email.
	for site, n := range scanner.scans {
		assert.Equal(t, 1, n, site)
	}
}

func TestExecuteQuotaFailsCampaignWithNote(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lst := &stubListings{err: resilience.NewQuotaError("listings", errors.New("payment required"))}
	o := newTestOrchestrator(t, st, engineStubs{listings: lst})

	campaign, _, err := o.Create(ctx, CreateRequest{
		Name: "austin", Keywords: []string{"plumber"}, Geography: "78704",
	})
	require.NoError(t, err)

	err = o.Execute(ctx, campaign.ID)
	require.Error(t, err)
	assert.True(t, resilience.IsQuota(err))

	final, getErr := st.GetCampaign(ctx, campaign.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.CampaignFailed, final.Status)
	assert.Contains(t, final.ErrorNote, "quota exhausted")
}

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		from model.CampaignStatus
		to   model.CampaignStatus
		ok   bool
	}{
		{model.CampaignDraft, model.CampaignRunning, true},
		{model.CampaignDraft, model.CampaignPaused, false},
		{model.CampaignDraft, model.CampaignCompleted, false},
		{model.CampaignRunning, model.CampaignPaused, true},
		{model.CampaignRunning, model.CampaignCompleted, true},
		{model.CampaignRunning, model.CampaignFailed, true},
		{model.CampaignPaused, model.CampaignRunning, true},
		{model.CampaignPaused, model.CampaignCompleted, false},
		{model.CampaignCompleted, model.CampaignRunning, false},
		{model.CampaignFailed, model.CampaignRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestExecuteRejectsTerminalCampaign(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lst := &stubListings{perCode: map[string][]listings.Listing{
		"78704": austinListings(1, "78704", true),
	}}
	o := newTestOrchestrator(t, st, engineStubs{listings: lst})

	campaign, _, err := o.Create(ctx, CreateRequest{Name: "austin", Keywords: []string{"x"}, Geography: "78704"})
	require.NoError(t, err)
	require.NoError(t, o.Execute(ctx, campaign.ID))

	err = o.Execute(ctx, campaign.ID)
	require.Error(t, err)
	var trErr *TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, model.CampaignCompleted, trErr.From)
}

func TestExecuteZeroResultsFailsCampaign(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	// Every target searches clean but nothing is found.
	o := newTestOrchestrator(t, st, engineStubs{})

	campaign, _, err := o.Create(ctx, CreateRequest{Name: "austin", Keywords: []string{"x"}, Geography: "78704"})
	require.NoError(t, err)
	require.NoError(t, o.Execute(ctx, campaign.ID))

	final, err := st.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignFailed, final.Status)
	assert.Contains(t, final.ErrorNote, "no businesses discovered")
}

func TestPauseRejectsDraft(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := newTestOrchestrator(t, st, engineStubs{})

	campaign, _, err := o.Create(ctx, CreateRequest{Name: "austin", Keywords: []string{"x"}, Geography: "78704"})
	require.NoError(t, err)

	err = o.Pause(ctx, campaign.ID)
	var trErr *TransitionError
	require.ErrorAs(t, err, &trErr)
}

func TestReconcileStaleCampaigns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lst := &stubListings{perCode: map[string][]listings.Listing{
		"78704": austinListings(2, "78704", true),
	}}
	o := newTestOrchestrator(t, st, engineStubs{listings: lst})

	// A campaign with discovered businesses, stranded in running.
	withWork, _, err := o.Create(ctx, CreateRequest{Name: "with-work", Keywords: []string{"x"}, Geography: "78704"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateCampaignStatus(ctx, withWork.ID, model.CampaignRunning, ""))
	targets, err := st.ListTargets(ctx, withWork.ID)
	require.NoError(t, err)
	_, err = st.UpsertBusinesses(ctx, []model.Business{{
		CampaignID: withWork.ID, TargetID: targets[0].ID, ListingID: "l-1",
		Name: "Found Co", Email: "a@x.com", EmailSource: model.SourceDiscovery,
	}})
	require.NoError(t, err)

	// A campaign with nothing discovered, also stranded.
	empty, _, err := o.Create(ctx, CreateRequest{Name: "empty", Keywords: []string{"x"}, Geography: "78704"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateCampaignStatus(ctx, empty.ID, model.CampaignRunning, ""))

	touched, err := o.Reconcile(ctx, -time.Second)
	require.NoError(t, err)
	assert.Len(t, touched, 2)

	got, err := st.GetCampaign(ctx, withWork.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, got.Status)
	assert.Contains(t, got.ErrorNote, "reconciled")
	assert.Equal(t, 1, got.TotalBusinesses)

	got, err = st.GetCampaign(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignFailed, got.Status)
	assert.Contains(t, got.ErrorNote, "reconciled")
}
