// Package listings wraps the business listings search API used for
// discovery: one query per postal code, paid per returned listing.
package listings

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

const defaultBaseURL = "https://api.bizlistings.io/v2"

// Client searches business listings.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest queries listings for a keyword within one postal code.
type SearchRequest struct {
	Query      string
	PostalCode string
	Limit      int
}

// Listing is one business returned by the API. Email is present only when
// the listing itself carries one.
type Listing struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone"`
	Website    string `json:"website"`
	Email      string `json:"email"`
}

// SearchResponse is the response from GET /listings/search.
type SearchResponse struct {
	Listings []Listing `json:"listings"`
	Total    int       `json:"total"`
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

// NewClient creates a listings API client.
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
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "listings: rate limit wait")
	}

	q := url.Values{}
	q.Set("query", req.Query)
	q.Set("postal_code", req.PostalCode)
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/listings/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "listings: create request")
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "listings: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "listings: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("listings", resp.StatusCode, body)
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "listings: unmarshal response")
	}
	return &result, nil
}

// classifyStatus maps a non-200 response onto the retry taxonomy.
func classifyStatus(service string, status int, body []byte) error {
	err := eris.Errorf("%s: unexpected status %d: %s", service, status, string(body))
	switch {
	case status == http.StatusPaymentRequired || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.NewQuotaError(service, err)
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(err, status)
	default:
		return err
	}
}
