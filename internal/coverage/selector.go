package coverage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/geoindex"
	"github.com/sells-group/outreach-engine/internal/ledger"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
)

// Score weighting between business density and keyword relevance.
const (
	densityWeight   = 0.4
	relevanceWeight = 0.6
)

// businessesPerCapita estimates listing counts from population when the
// researcher provides no estimate.
const businessesPerCapita = 0.025

// DefaultMaxResults caps listings pulled per postal target.
const DefaultMaxResults = 100

// degradedRelevance marks a target scored without relevance research.
const degradedRelevance = -1

// Relevance is one postal code's research result.
type Relevance struct {
	// Score is keyword relevance, 0-100.
	Score float64
	// EstimatedBusinesses is the researcher's listing count estimate; 0
	// falls back to a population heuristic.
	EstimatedBusinesses int
	// Neighborhood is a short human label for the area.
	Neighborhood string
}

// Researcher scores how relevant a postal code is to the campaign keywords.
type Researcher interface {
	Score(ctx context.Context, keywords []string, d model.Demographics) (Relevance, error)
}

// BulkResearcher scores a whole candidate set in one round trip. Researchers
// that implement it are preferred for wide geographies.
type BulkResearcher interface {
	ScoreMany(ctx context.Context, keywords []string, demos []model.Demographics) (map[string]Relevance, error)
}

// bulkResearchThreshold is the candidate count above which a BulkResearcher
// is used instead of per-candidate calls.
const bulkResearchThreshold = 25

// Expander expands a scope into candidate postal codes.
type Expander interface {
	Expand(ctx context.Context, scope geoindex.Scope) ([]model.Demographics, error)
}

// Selection is the outcome of target selection for one campaign.
type Selection struct {
	Targets             []model.PostalTarget
	EstimatedBusinesses int
	EstimatedCost       float64
	ResearchQueries     int
	// CoverageAchieved is the fraction of the scope's estimated businesses
	// the selected targets cover, 0 when the scope had no candidates.
	CoverageAchieved float64
	Degraded         bool
	Reasoning        string
}

// Selector ranks candidate postal codes and picks a budget-bounded subset.
type Selector struct {
	index       Expander
	researcher  Researcher
	calc        *ledger.Calculator
	maxResults  int
	concurrency int
}

// NewSelector creates a Selector. maxResults <= 0 selects DefaultMaxResults.
func NewSelector(index Expander, researcher Researcher, calc *ledger.Calculator, maxResults int) *Selector {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Selector{
		index:       index,
		researcher:  researcher,
		calc:        calc,
		maxResults:  maxResults,
		concurrency: 4,
	}
}

type candidate struct {
	demo      model.Demographics
	density   float64 // normalized 0-100
	relevance float64 // 0-100, or degradedRelevance
	combined  float64
	estimated int
}

// Select expands the campaign geography, scores every candidate postal code,
// and greedily picks the highest-combined targets until the profile's target
// cap or coverage fraction is reached.
//
// Relevance research failing for a candidate degrades that candidate to
// density-only scoring; a quota error aborts the whole selection so the
// caller can surface it instead of silently producing a worse plan.
func (s *Selector) Select(ctx context.Context, keywords []string, geography string, profile model.CoverageProfile) (*Selection, error) {
	scope := geoindex.ParseScope(geography)
	demos, err := s.index.Expand(ctx, scope)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "coverage.selector"), zap.String("geography", geography))
	log.Info("expanding candidates",
		zap.String("scope", scope.Kind),
		zap.Int("candidates", len(demos)),
	)

	candidates := make([]candidate, len(demos))
	maxDensity := 0.0
	for i, d := range demos {
		candidates[i] = candidate{demo: d}
		if d.Density > maxDensity {
			maxDensity = d.Density
		}
	}
	for i := range candidates {
		if maxDensity > 0 {
			candidates[i].density = candidates[i].demo.Density / maxDensity * 100
		}
	}

	queries, err := s.research(ctx, keywords, candidates)
	if err != nil {
		return nil, err
	}

	degraded := false
	totalEstimated := 0
	for i := range candidates {
		c := &candidates[i]
		if c.estimated <= 0 {
			c.estimated = fallbackEstimate(c.demo)
		}
		if c.relevance < 0 {
			degraded = true
			c.combined = c.density
		} else {
			c.combined = densityWeight*c.density + relevanceWeight*c.relevance
		}
		totalEstimated += c.estimated
	}

	// Deterministic ranking: combined score, then estimated businesses,
	// then postal code.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.combined != b.combined {
			return a.combined > b.combined
		}
		if a.estimated != b.estimated {
			return a.estimated > b.estimated
		}
		return a.demo.PostalCode < b.demo.PostalCode
	})

	spec := SpecFor(profile)
	var selected []candidate
	covered := 0
	for _, c := range candidates {
		if len(selected) >= spec.MaxTargets {
			break
		}
		if totalEstimated > 0 && float64(covered) >= spec.Fraction*float64(totalEstimated) {
			break
		}
		selected = append(selected, c)
		covered += c.estimated
	}

	targets := make([]model.PostalTarget, len(selected))
	for i, c := range selected {
		relevance := c.relevance
		if relevance < 0 {
			relevance = degradedRelevance
		}
		targets[i] = model.PostalTarget{
			PostalCode:          c.demo.PostalCode,
			Neighborhood:        neighborhoodLabel(c.demo),
			DensityScore:        c.density,
			RelevanceScore:      relevance,
			CombinedScore:       c.combined,
			EstimatedBusinesses: c.estimated,
			MaxResults:          s.maxResults,
		}
	}

	sel := &Selection{
		Targets:             targets,
		EstimatedBusinesses: covered,
		EstimatedCost:       s.calc.EstimateCampaign(covered) + s.calc.Research(queries),
		ResearchQueries:     queries,
		Degraded:            degraded,
		Reasoning:           reasoning(scope, profile, spec, len(demos), targets, covered, totalEstimated, degraded),
	}
	if totalEstimated > 0 {
		sel.CoverageAchieved = float64(covered) / float64(totalEstimated)
	}

	log.Info("targets selected",
		zap.Int("targets", len(targets)),
		zap.Int("estimated_businesses", covered),
		zap.Float64("estimated_cost_usd", sel.EstimatedCost),
		zap.Bool("degraded", degraded),
	)
	return sel, nil
}

// research scores all candidates concurrently, preserving slice order.
func (s *Selector) research(ctx context.Context, keywords []string, candidates []candidate) (int, error) {
	if s.researcher == nil {
		for i := range candidates {
			candidates[i].relevance = degradedRelevance
		}
		return 0, nil
	}

	if br, ok := s.researcher.(BulkResearcher); ok && len(candidates) >= bulkResearchThreshold {
		return s.researchBulk(ctx, br, keywords, candidates)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range candidates {
		g.Go(func() error {
			c := &candidates[i]
			rel, err := s.researcher.Score(gctx, keywords, c.demo)
			if err != nil {
				if resilience.IsQuota(err) {
					return eris.Wrapf(err, "coverage: research %s", c.demo.PostalCode)
				}
				zap.L().Warn("relevance research failed, scoring by density only",
					zap.String("postal_code", c.demo.PostalCode),
					zap.Error(err),
				)
				c.relevance = degradedRelevance
				return nil
			}
			c.relevance = clampScore(rel.Score)
			c.estimated = rel.EstimatedBusinesses
			if rel.Neighborhood != "" {
				c.demo.City = rel.Neighborhood
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(candidates), nil
}

// researchBulk scores the whole candidate set in one batch round trip.
// Candidates the batch could not score degrade to density-only; a quota
// error still aborts the selection.
func (s *Selector) researchBulk(ctx context.Context, br BulkResearcher, keywords []string, candidates []candidate) (int, error) {
	demos := make([]model.Demographics, len(candidates))
	for i, c := range candidates {
		demos[i] = c.demo
	}

	scores, err := br.ScoreMany(ctx, keywords, demos)
	if err != nil {
		if resilience.IsQuota(err) {
			return 0, eris.Wrap(err, "coverage: bulk research")
		}
		zap.L().Warn("bulk relevance research failed, scoring by density only", zap.Error(err))
		for i := range candidates {
			candidates[i].relevance = degradedRelevance
		}
		return 0, nil
	}

	for i := range candidates {
		c := &candidates[i]
		rel, ok := scores[c.demo.PostalCode]
		if !ok {
			c.relevance = degradedRelevance
			continue
		}
		c.relevance = clampScore(rel.Score)
		c.estimated = rel.EstimatedBusinesses
		if rel.Neighborhood != "" {
			c.demo.City = rel.Neighborhood
		}
	}
	return len(candidates), nil
}

func fallbackEstimate(d model.Demographics) int {
	est := int(float64(d.Population) * businessesPerCapita)
	if est < 10 {
		est = 10
	}
	return est
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func neighborhoodLabel(d model.Demographics) string {
	if d.City == "" {
		return d.PostalCode
	}
	if d.State == "" {
		return d.City
	}
	return d.City + ", " + d.State
}

func reasoning(scope geoindex.Scope, profile model.CoverageProfile, spec ProfileSpec, candidateCount int, targets []model.PostalTarget, covered, total int, degraded bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Expanded %s scope to %d candidate postal codes. ", scope.Kind, candidateCount)
	fmt.Fprintf(&b, "Profile %q allows up to %d targets covering %.0f%% of estimated businesses. ",
		profile, spec.MaxTargets, spec.Fraction*100)
	fmt.Fprintf(&b, "Selected %d targets covering an estimated %d of %d businesses.", len(targets), covered, total)
	if degraded {
		b.WriteString(" Relevance research was unavailable for some candidates; those were ranked by density alone.")
	}
	return b.String()
}
