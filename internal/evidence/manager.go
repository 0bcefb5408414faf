package evidence

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verity-ai/verity/internal/cache"
	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/trust"
)

const (
	// retryAttempts is the per-retriever call budget.
	retryAttempts = 2
	// retryBackoff is the linear backoff unit between attempts.
	retryBackoff = 250 * time.Millisecond
)

// Manager fans a retrieval request out to all configured retrievers and
// reduces the combined results to a trusted, deduplicated set.
type Manager struct {
	retrievers     []Retriever
	registry       *trust.Registry
	cache          *cache.Cache
	minReliability float64
	maxPerHost     int
	logger         *slog.Logger
}

// NewManager creates a retrieval manager. Items whose adjusted reliability
// falls below minReliability are dropped; each host contributes at most
// maxPerHost items.
func NewManager(retrievers []Retriever, registry *trust.Registry, ttl time.Duration, minReliability float64, maxPerHost int, logger *slog.Logger) *Manager {
	return &Manager{
		retrievers:     retrievers,
		registry:       registry,
		cache:          cache.New(ttl),
		minReliability: minReliability,
		maxPerHost:     maxPerHost,
		logger:         logger,
	}
}

// Retrieve gathers evidence for one claim. Retriever failures degrade to
// fewer results, never to an error.
func (m *Manager) Retrieve(ctx context.Context, opts Options) []model.EvidenceItem {
	key := cache.Key("evidence",
		strings.ToLower(opts.Topic),
		strings.ToLower(opts.ClaimText),
		strconv.Itoa(opts.MaxResults))

	var cached []model.EvidenceItem
	if m.cache.Get(key, &cached) {
		return cached
	}

	// Fan out to every configured retriever; collect by index so the
	// concatenation order is the registration order.
	results := make([][]model.EvidenceItem, len(m.retrievers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range m.retrievers {
		if !r.IsConfigured() {
			continue
		}
		g.Go(func() error {
			callCtx := gctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, opts.Timeout)
				defer cancel()
			}
			items, err := m.fetchWithRetry(callCtx, r, opts)
			if err != nil {
				m.logger.Warn("evidence: retriever failed", "retriever", r.Name(), "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var combined []model.EvidenceItem
	for _, items := range results {
		combined = append(combined, items...)
	}

	reduced := m.reduce(combined)
	m.cache.Set(key, reduced)
	return reduced
}

// fetchWithRetry calls the retriever up to retryAttempts times with a linear
// backoff of retryBackoff times the attempt number.
func (m *Manager) fetchWithRetry(ctx context.Context, r Retriever, opts Options) ([]model.EvidenceItem, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		items, err := r.FetchEvidence(ctx, opts)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if attempt < retryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
	}
	return nil, lastErr
}

// reduce applies the post-retrieval pipeline: URL dedupe, host extraction,
// blacklist filter, trust adjustment, low-trust drop, per-host cap.
func (m *Manager) reduce(items []model.EvidenceItem) []model.EvidenceItem {
	seen := make(map[string]bool, len(items))
	byHost := make(map[string][]model.EvidenceItem)
	var hostOrder []string

	for _, item := range items {
		if seen[item.URL] {
			continue
		}
		seen[item.URL] = true

		host := trust.NormalizeHost(item.URL)
		if host == "" {
			continue
		}
		if m.registry.IsBlacklisted(item.URL) {
			continue
		}

		item.Reliability = m.registry.AdjustReliability(item.URL, item.Reliability)
		if item.Reliability < m.minReliability {
			continue
		}

		if _, ok := byHost[host]; !ok {
			hostOrder = append(hostOrder, host)
		}
		byHost[host] = append(byHost[host], item)
	}

	var kept []model.EvidenceItem
	for _, host := range hostOrder {
		group := byHost[host]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Reliability > group[j].Reliability
		})
		if len(group) > m.maxPerHost {
			group = group[:m.maxPerHost]
		}
		kept = append(kept, group...)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Reliability > kept[j].Reliability
	})
	return kept
}
