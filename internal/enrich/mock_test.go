package enrich

import (
	"context"
	"fmt"
	"sync"

	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/bouncer"
	"github.com/sells-group/outreach-engine/pkg/listings"
	"github.com/sells-group/outreach-engine/pkg/pagescan"
	"github.com/sells-group/outreach-engine/pkg/pronet"
)

// mockStore is an in-memory Store for phase tests. Phases run work units
// concurrently, so every method takes the lock.
type mockStore struct {
	mu sync.Mutex

	businesses map[string]*model.Business // keyed by ID
	targets    map[string]*model.PostalTarget
	pageRecs   map[string]*model.PageEnrichment   // keyed by business ID
	pronetRecs map[string]*model.PronetEnrichment // keyed by business ID

	nextID int

	upsertErr error
	listErr   error
}

func newMockStore() *mockStore {
	return &mockStore{
		businesses: make(map[string]*model.Business),
		targets:    make(map[string]*model.PostalTarget),
		pageRecs:   make(map[string]*model.PageEnrichment),
		pronetRecs: make(map[string]*model.PronetEnrichment),
	}
}

func (m *mockStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *mockStore) addTarget(t *model.PostalTarget) *model.PostalTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = m.id("tgt")
	}
	m.targets[t.ID] = t
	return t
}

func (m *mockStore) addBusiness(b *model.Business) *model.Business {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = m.id("biz")
	}
	if b.EmailSource == "" {
		b.EmailSource = model.SourceNone
	}
	if b.EnrichmentStatus == "" {
		b.EnrichmentStatus = model.EnrichPending
	}
	m.businesses[b.ID] = b
	return b
}

func (m *mockStore) UpsertBusinesses(ctx context.Context, businesses []model.Business) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	for i := range businesses {
		b := businesses[i]
		existing := m.findByListing(b.CampaignID, b.ListingID)
		if existing == nil {
			b.ID = m.id("biz")
			if b.EmailSource == "" {
				b.EmailSource = model.SourceNone
			}
			if b.EnrichmentStatus == "" {
				b.EnrichmentStatus = model.EnrichPending
			}
			m.businesses[b.ID] = &b
			continue
		}
		existing.Name = b.Name
		existing.Website = b.Website
		existing.Phone = b.Phone
		if existing.Email == "" && b.Email != "" {
			existing.Email = b.Email
			existing.EmailSource = b.EmailSource
		}
	}
	return len(businesses), nil
}

func (m *mockStore) findByListing(campaignID, listingID string) *model.Business {
	for _, b := range m.businesses {
		if b.CampaignID == campaignID && b.ListingID == listingID {
			return b
		}
	}
	return nil
}

func (m *mockStore) ListBusinesses(ctx context.Context, campaignID string, f store.BusinessFilter) ([]model.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Business
	for _, b := range m.businesses {
		if b.CampaignID != campaignID {
			continue
		}
		if f.MissingEmail && b.Email != "" {
			continue
		}
		if f.WithEmail && b.Email == "" {
			continue
		}
		if f.Unverified && b.Verified {
			continue
		}
		if f.PageUnattempted {
			if _, ok := m.pageRecs[b.ID]; ok {
				continue
			}
		}
		if f.AwaitingPronet && b.EnrichmentStatus != model.EnrichPending && b.EnrichmentStatus != model.EnrichInProgress {
			continue
		}
		if f.TargetID != "" && b.TargetID != f.TargetID {
			continue
		}
		out = append(out, *b)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) UpdateBusinessEmail(ctx context.Context, id, email string, source model.EmailSource, status model.EnrichmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return fmt.Errorf("business %s not found", id)
	}
	b.Email = email
	b.EmailSource = source
	b.EnrichmentStatus = status
	return nil
}

func (m *mockStore) UpdateBusinessStatus(ctx context.Context, id string, status model.EnrichmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return fmt.Errorf("business %s not found", id)
	}
	b.EnrichmentStatus = status
	return nil
}

func (m *mockStore) UpdateBusinessVerification(ctx context.Context, id string, verified, safe bool, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return fmt.Errorf("business %s not found", id)
	}
	b.Verified = verified
	b.VerifiedSafe = safe
	b.VerifyScore = score
	return nil
}

func (m *mockStore) MarkTargetComplete(ctx context.Context, targetID string, businessesFound, emailsFound int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[targetID]
	if !ok {
		return fmt.Errorf("target %s not found", targetID)
	}
	t.Completed = true
	t.BusinessesFound = businessesFound
	t.EmailsFound = emailsFound
	return nil
}

func (m *mockStore) SavePageEnrichment(ctx context.Context, e *model.PageEnrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = m.id("page")
	}
	m.pageRecs[e.BusinessID] = e
	return nil
}

func (m *mockStore) SavePronetEnrichment(ctx context.Context, e *model.PronetEnrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = m.id("pronet")
	}
	m.pronetRecs[e.BusinessID] = e
	return nil
}

func (m *mockStore) ListPronetEnrichments(ctx context.Context, campaignID string) ([]model.PronetEnrichment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PronetEnrichment
	for _, r := range m.pronetRecs {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockStore) UpdatePronetVerification(ctx context.Context, id string, verified, safe bool, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.pronetRecs {
		if r.ID == id {
			r.Verified = verified
			r.Safe = safe
			r.Score = score
			return nil
		}
	}
	return fmt.Errorf("pronet record %s not found", id)
}

func (m *mockStore) business(id string) model.Business {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.businesses[id]
}

func (m *mockStore) target(id string) model.PostalTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.targets[id]
}

// mockCostSink collects ledger writes.
type mockCostSink struct {
	mu      sync.Mutex
	records []model.CostRecord
}

func (m *mockCostSink) AppendCost(ctx context.Context, rec *model.CostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *mockCostSink) totalItems(service string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Service == service {
			n += r.Items
		}
	}
	return n
}

func newTestRecorder() (*ledger.Recorder, *mockCostSink) {
	sink := &mockCostSink{}
	return ledger.NewRecorder(ledger.NewCalculator(ledger.DefaultRates()), sink), sink
}

// mockListings serves canned search responses keyed by postal code.
type mockListings struct {
	mu        sync.Mutex
	responses map[string]*listings.SearchResponse
	errs      map[string]error
	calls     []listings.SearchRequest
}

func (m *mockListings) Search(ctx context.Context, req listings.SearchRequest) (*listings.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if err, ok := m.errs[req.PostalCode]; ok {
		return nil, err
	}
	if resp, ok := m.responses[req.PostalCode]; ok {
		return resp, nil
	}
	return &listings.SearchResponse{}, nil
}

// mockScanner serves canned scan results keyed by website URL.
type mockScanner struct {
	mu      sync.Mutex
	results map[string]*pagescan.Result
	errs    map[string]error
	scanned []string
}

func (m *mockScanner) Scan(ctx context.Context, pageURL string) (*pagescan.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanned = append(m.scanned, pageURL)
	if err, ok := m.errs[pageURL]; ok {
		return nil, err
	}
	if res, ok := m.results[pageURL]; ok {
		return res, nil
	}
	return &pagescan.Result{PageURL: pageURL}, nil
}

// mockPronet serves canned profile searches keyed by company name.
type mockPronet struct {
	mu        sync.Mutex
	responses map[string]*pronet.SearchResponse
	errs      map[string]error
	calls     []pronet.SearchRequest
}

func (m *mockPronet) SearchProfiles(ctx context.Context, req pronet.SearchRequest) (*pronet.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if err, ok := m.errs[req.Company]; ok {
		return nil, err
	}
	if resp, ok := m.responses[req.Company]; ok {
		return resp, nil
	}
	return &pronet.SearchResponse{}, nil
}

// mockBouncer verifies from a canned result table and records batch sizes.
// errs fails any batch containing that email.
type mockBouncer struct {
	mu      sync.Mutex
	results map[string]bouncer.Result
	batches [][]string
	err     error
	errs    map[string]error
}

func (m *mockBouncer) Verify(ctx context.Context, email string) (*bouncer.Result, error) {
	results, err := m.VerifyBatch(ctx, []string{email})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

func (m *mockBouncer) VerifyBatch(ctx context.Context, emails []string) ([]bouncer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, e := range emails {
		if err, ok := m.errs[e]; ok {
			return nil, err
		}
	}
	batch := make([]string, len(emails))
	copy(batch, emails)
	m.batches = append(m.batches, batch)
	out := make([]bouncer.Result, 0, len(emails))
	for _, e := range emails {
		if res, ok := m.results[e]; ok {
			out = append(out, res)
			continue
		}
		out = append(out, bouncer.Result{Email: e, Status: bouncer.StatusUnknown})
	}
	return out, nil
}
