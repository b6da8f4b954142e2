// Package bouncer wraps the Bouncer email verification API.
package bouncer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

const defaultBaseURL = "https://api.usebouncer.com/v1.1"

// Deliverability statuses returned by the API.
const (
	StatusDeliverable   = "deliverable"
	StatusUndeliverable = "undeliverable"
	StatusRisky         = "risky"
	StatusUnknown       = "unknown"
)

// Client verifies email deliverability.
type Client interface {
	Verify(ctx context.Context, email string) (*Result, error)
	VerifyBatch(ctx context.Context, emails []string) ([]Result, error)
}

// Result is the verification outcome for one address.
type Result struct {
	Email        string `json:"email"`
	Status       string `json:"status"`
	Score        int    `json:"score"`
	IsDisposable bool   `json:"is_disposable"`
	IsRoleBased  bool   `json:"is_role_based"`
	IsFreeEmail  bool   `json:"is_free_email"`
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

// NewClient creates a verification client.
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
		limiter: rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Verify(ctx context.Context, email string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "bouncer: rate limit wait")
	}

	q := url.Values{}
	q.Set("email", email)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/email/verify?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "bouncer: create request")
	}
	req.Header.Set("x-api-key", c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "bouncer: unmarshal response")
	}
	return &result, nil
}

func (c *httpClient) VerifyBatch(ctx context.Context, emails []string) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "bouncer: rate limit wait")
	}

	payload := make([]map[string]string, len(emails))
	for i, e := range emails {
		payload[i] = map[string]string{"email": e}
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "bouncer: marshal batch request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email/verify/batch", bytes.NewReader(reqBody))
	if err != nil {
		return nil, eris.Wrap(err, "bouncer: create batch request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var results []Result
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "bouncer: unmarshal batch response")
	}
	return results, nil
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "bouncer: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "bouncer: read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("bouncer: unexpected status %d: %s", resp.StatusCode, string(body))
		switch {
		case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, resilience.NewQuotaError("bouncer", apiErr)
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		default:
			return nil, apiErr
		}
	}
	return body, nil
}
