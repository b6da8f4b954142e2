// Package pronet wraps the professional-network profile search API used to
// find decision makers at a business. Profiles may carry a directly listed
// email or a pattern-generated one; the distinction matters downstream.
package pronet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

const defaultBaseURL = "https://api.pronetsearch.com/v1"

// Client searches professional profiles.
type Client interface {
	SearchProfiles(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest finds people associated with one company.
type SearchRequest struct {
	Company string `json:"company"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
}

// Profile is one person at the company.
type Profile struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Title string `json:"title"`
	Email string `json:"email"`
	// EmailIsDirect is true when the email was listed on the profile and
	// false when the provider generated it from a name pattern.
	EmailIsDirect bool `json:"email_is_direct"`
}

// SearchResponse is the response from POST /profiles/search.
type SearchResponse struct {
	Profiles []Profile `json:"profiles"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the default request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a profile search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 2),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchProfiles(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "pronet: rate limit wait")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "pronet: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/profiles/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "pronet: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "pronet: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "pronet: read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("pronet: unexpected status %d: %s", resp.StatusCode, string(respBody))
		switch {
		case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, resilience.NewQuotaError("pronet", apiErr)
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		default:
			return nil, apiErr
		}
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "pronet: unmarshal response")
	}
	return &result, nil
}
