package evidence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/testutil"
	"github.com/verity-ai/verity/internal/trust"
)

type fakeRetriever struct {
	name       string
	configured bool
	items      []model.EvidenceItem
	err        error
	failOnce   bool
	calls      atomic.Int32
}

func (f *fakeRetriever) Name() string       { return f.name }
func (f *fakeRetriever) IsConfigured() bool { return f.configured }

func (f *fakeRetriever) FetchEvidence(context.Context, Options) ([]model.EvidenceItem, error) {
	n := f.calls.Add(1)
	if f.failOnce && n == 1 {
		return nil, errors.New("transient")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func newManager(t *testing.T, retrievers ...Retriever) *Manager {
	t.Helper()
	return NewManager(retrievers, trust.NewRegistry(trust.DefaultThresholds()), 5*time.Minute, 0.35, 2, testutil.TestLogger())
}

func item(url string, reliability float64) model.EvidenceItem {
	return model.EvidenceItem{ID: url, Provider: "test", Title: "t", URL: url, Summary: "s", Reliability: reliability}
}

func TestRetrieveDeduplicatesByURL(t *testing.T) {
	a := &fakeRetriever{name: "a", configured: true, items: []model.EvidenceItem{
		item("https://example.com/one", 0.6),
	}}
	b := &fakeRetriever{name: "b", configured: true, items: []model.EvidenceItem{
		item("https://example.com/one", 0.9),
		item("https://other.org/two", 0.5),
	}}

	got := newManager(t, a, b).Retrieve(context.Background(), Options{Topic: "general", ClaimText: "claim", MaxResults: 10})
	require.Len(t, got, 2)
	for _, it := range got {
		if it.URL == "https://example.com/one" {
			// First occurrence wins: retriever a's copy.
			assert.InDelta(t, 0.6, it.Reliability, 1e-9)
		}
	}
}

func TestRetrieveDropsUnparseableAndBlacklisted(t *testing.T) {
	r := &fakeRetriever{name: "a", configured: true, items: []model.EvidenceItem{
		item("not a url at all", 0.9),
		item("https://infowars.com/story", 0.9),
		item("https://reuters.com/article", 0.5),
	}}

	got := newManager(t, r).Retrieve(context.Background(), Options{ClaimText: "claim", MaxResults: 10})
	require.Len(t, got, 1)
	// Canonical host lifts the baseline.
	assert.Equal(t, "https://reuters.com/article", got[0].URL)
	assert.InDelta(t, 0.95, got[0].Reliability, 1e-9)
}

func TestRetrieveDropsLowTrust(t *testing.T) {
	r := &fakeRetriever{name: "a", configured: true, items: []model.EvidenceItem{
		item("https://sketchy.example/one", 0.2),
		item("https://fine.example/two", 0.5),
	}}

	got := newManager(t, r).Retrieve(context.Background(), Options{ClaimText: "claim", MaxResults: 10})
	require.Len(t, got, 1)
	assert.Equal(t, "https://fine.example/two", got[0].URL)
}

func TestRetrievePerHostCap(t *testing.T) {
	r := &fakeRetriever{name: "a", configured: true, items: []model.EvidenceItem{
		item("https://example.com/a", 0.5),
		item("https://example.com/b", 0.8),
		item("https://example.com/c", 0.6),
	}}

	got := newManager(t, r).Retrieve(context.Background(), Options{ClaimText: "claim", MaxResults: 10})
	require.Len(t, got, 2)
	// Top two by reliability, sorted descending.
	assert.Equal(t, "https://example.com/b", got[0].URL)
	assert.Equal(t, "https://example.com/c", got[1].URL)
}

func TestRetrieveSkipsUnconfigured(t *testing.T) {
	off := &fakeRetriever{name: "off", configured: false, items: []model.EvidenceItem{item("https://a.example/x", 0.9)}}
	got := newManager(t, off).Retrieve(context.Background(), Options{ClaimText: "claim", MaxResults: 10})
	assert.Empty(t, got)
	assert.Equal(t, int32(0), off.calls.Load())
}

func TestRetrieveRetriesTransientFailure(t *testing.T) {
	r := &fakeRetriever{name: "a", configured: true, failOnce: true, items: []model.EvidenceItem{
		item("https://example.com/one", 0.6),
	}}

	got := newManager(t, r).Retrieve(context.Background(), Options{ClaimText: "claim", MaxResults: 10})
	require.Len(t, got, 1)
	assert.Equal(t, int32(2), r.calls.Load())
}

func TestRetrieveFailureDegradesToEmpty(t *testing.T) {
	r := &fakeRetriever{name: "a", configured: true, err: errors.New("down")}
	got := newManager(t, r).Retrieve(context.Background(), Options{ClaimText: "claim", MaxResults: 10})
	assert.Empty(t, got)
}

func TestRetrieveCaches(t *testing.T) {
	r := &fakeRetriever{name: "a", configured: true, items: []model.EvidenceItem{
		item("https://example.com/one", 0.6),
	}}
	m := newManager(t, r)

	opts := Options{Topic: "Health", ClaimText: "Claim Text", MaxResults: 5}
	first := m.Retrieve(context.Background(), opts)
	second := m.Retrieve(context.Background(), opts)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), r.calls.Load())
}
