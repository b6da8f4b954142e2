package coverage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/pkg/anthropic"
)

const (
	researchModel     = "claude-haiku-4-5-20251001"
	researchMaxTokens = 512
)

const researchSystemPrompt = `You score US postal codes for a business outreach campaign.
Given campaign keywords and the demographics of one postal code, respond with
ONLY a JSON object, no prose:
{"relevance_score": <0-100>, "estimated_businesses": <integer>, "neighborhood": "<short area label>"}
relevance_score reflects how likely the area is to contain businesses matching
the keywords. estimated_businesses is your best estimate of matching listings.`

// ClaudeResearcher scores postal code relevance with a Claude model. The
// system prompt carries a cache breakpoint; wide geographies go through the
// batch API after a primer request warms the cache.
type ClaudeResearcher struct {
	ai    anthropic.Client
	model string
	retry resilience.RetryConfig
}

// NewClaudeResearcher creates a researcher. model == "" selects the default.
func NewClaudeResearcher(ai anthropic.Client, model string) *ClaudeResearcher {
	if model == "" {
		model = researchModel
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("research", "score")
	return &ClaudeResearcher{ai: ai, model: model, retry: cfg}
}

type researchResult struct {
	RelevanceScore      float64 `json:"relevance_score"`
	EstimatedBusinesses int     `json:"estimated_businesses"`
	Neighborhood        string  `json:"neighborhood"`
}

func researchPrompt(keywords []string, d model.Demographics) string {
	return fmt.Sprintf(
		"Keywords: %s\nPostal code: %s\nCity: %s, %s\nPopulation: %d\nDensity: %.0f people per square km",
		strings.Join(keywords, ", "), d.PostalCode, d.City, d.State, d.Population, d.Density,
	)
}

// Score implements Researcher.
func (r *ClaudeResearcher) Score(ctx context.Context, keywords []string, d model.Demographics) (Relevance, error) {
	resp, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return r.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     r.model,
			MaxTokens: researchMaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(researchSystemPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: researchPrompt(keywords, d)}},
		})
	})
	if err != nil {
		return Relevance{}, eris.Wrapf(err, "research %s", d.PostalCode)
	}

	rel, err := parseRelevance(resp)
	if err != nil {
		return Relevance{}, eris.Wrapf(err, "parse research response for %s", d.PostalCode)
	}
	return rel, nil
}

// ScoreMany scores a candidate set through the batch API. The first candidate
// is sent as a sequential primer so the remaining requests hit a warm prompt
// cache. Candidates whose batch item failed are absent from the returned map.
func (r *ClaudeResearcher) ScoreMany(ctx context.Context, keywords []string, demos []model.Demographics) (map[string]Relevance, error) {
	if len(demos) == 0 {
		return map[string]Relevance{}, nil
	}

	log := zap.L().With(zap.String("component", "coverage.researcher"))
	scores := make(map[string]Relevance, len(demos))

	primer := demos[0]
	resp, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return anthropic.PrimerRequest(ctx, r.ai, r.messageRequest(keywords, primer))
	})
	if err != nil {
		return nil, eris.Wrapf(err, "research primer %s", primer.PostalCode)
	}
	resp.Usage.LogCost(r.model, "coverage.research")
	if rel, err := parseRelevance(resp); err == nil {
		scores[primer.PostalCode] = rel
	} else {
		log.Warn("primer response unparseable", zap.String("postal_code", primer.PostalCode), zap.Error(err))
	}

	rest := demos[1:]
	if len(rest) == 0 {
		return scores, nil
	}

	items := make([]anthropic.BatchRequestItem, len(rest))
	for i, d := range rest {
		items[i] = anthropic.BatchRequestItem{
			CustomID: d.PostalCode,
			Params:   r.messageRequest(keywords, d),
		}
	}

	batch, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*anthropic.BatchResponse, error) {
		return r.ai.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	})
	if err != nil {
		return nil, eris.Wrap(err, "research: create batch")
	}
	log.Info("research batch submitted", zap.String("batch_id", batch.ID), zap.Int("requests", len(items)))

	if _, err := anthropic.PollBatch(ctx, r.ai, batch.ID); err != nil {
		return nil, eris.Wrap(err, "research: await batch")
	}

	iter, err := r.ai.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "research: fetch batch results")
	}
	results, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return nil, err
	}

	for postal, msg := range results {
		rel, err := parseRelevance(msg)
		if err != nil {
			log.Warn("batch response unparseable", zap.String("postal_code", postal), zap.Error(err))
			continue
		}
		scores[postal] = rel
	}
	return scores, nil
}

func (r *ClaudeResearcher) messageRequest(keywords []string, d model.Demographics) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: researchMaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(researchSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: researchPrompt(keywords, d)}},
	}
}

func parseRelevance(resp *anthropic.MessageResponse) (Relevance, error) {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var result researchResult
	if err := json.Unmarshal([]byte(cleanJSON(text.String())), &result); err != nil {
		return Relevance{}, err
	}

	return Relevance{
		Score:               result.RelevanceScore,
		EstimatedBusinesses: result.EstimatedBusinesses,
		Neighborhood:        result.Neighborhood,
	}, nil
}

// cleanJSON strips markdown fences and surrounding prose from a model reply.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}
