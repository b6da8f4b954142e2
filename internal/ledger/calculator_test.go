package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
)

func TestCalculator_UnitRates(t *testing.T) {
	c := NewCalculator(DefaultRates())

	assert.InDelta(t, 7.50, c.Listings(1000), 1e-9)
	assert.InDelta(t, 3.00, c.Pages(1000), 1e-9)
	assert.InDelta(t, 10.00, c.Profiles(1000), 1e-9)
	assert.InDelta(t, 2.50, c.Verifications(1000), 1e-9)
	assert.InDelta(t, 0.02, c.Research(1), 1e-9)
	assert.Zero(t, c.Listings(0))
}

func TestCalculator_EstimateCampaign(t *testing.T) {
	c := NewCalculator(DefaultRates())

	// 1000 businesses: 7.50 listings + 550 pages (1.65) + 300 profiles (3.00)
	// + 700 verifications (1.75).
	assert.InDelta(t, 13.90, c.EstimateCampaign(1000), 1e-9)
}

func TestLoadRates_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listings_per_k: 9.00\n"), 0o644))

	rates, err := LoadRates(path)
	require.NoError(t, err)
	assert.InDelta(t, 9.00, rates.ListingsPerK, 1e-9)
	// Unnamed fields keep defaults.
	assert.InDelta(t, 3.00, rates.PagesPerK, 1e-9)
}

func TestLoadRates_MissingFile(t *testing.T) {
	_, err := LoadRates(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

type mockCostSink struct {
	records []model.CostRecord
}

func (m *mockCostSink) AppendCost(_ context.Context, rec *model.CostRecord) error {
	m.records = append(m.records, *rec)
	return nil
}

func TestRecorder_Record(t *testing.T) {
	sink := &mockCostSink{}
	r := NewRecorder(NewCalculator(DefaultRates()), sink)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, "camp-1", model.ServiceListings, 200))
	require.NoError(t, r.Record(ctx, "camp-1", model.ServiceVerifier, 100))
	require.Len(t, sink.records, 2)
	assert.InDelta(t, 1.50, sink.records[0].AmountUSD, 1e-9)
	assert.Equal(t, 200, sink.records[0].Items)
	assert.InDelta(t, 0.25, sink.records[1].AmountUSD, 1e-9)
}

func TestRecorder_ZeroItemsSkipped(t *testing.T) {
	sink := &mockCostSink{}
	r := NewRecorder(NewCalculator(DefaultRates()), sink)

	require.NoError(t, r.Record(context.Background(), "camp-1", model.ServiceListings, 0))
	assert.Empty(t, sink.records)
}

func TestRecorder_UnknownService(t *testing.T) {
	r := NewRecorder(NewCalculator(DefaultRates()), &mockCostSink{})

	err := r.Record(context.Background(), "camp-1", "carrier-pigeon", 5)
	require.Error(t, err)
}
