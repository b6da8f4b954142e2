// Package pagescan fetches a business website and extracts a contact email
// from the rendered HTML.
package pagescan

import (
	"context"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; OutreachEngine/1.0)"
	maxBodyBytes     = 2 << 20 // 2 MiB
)

// Result is one scanned page.
type Result struct {
	PageURL string
	Email   string
}

// Scanner fetches pages and extracts emails.
type Scanner interface {
	Scan(ctx context.Context, pageURL string) (*Result, error)
}

// Option configures the scanner.
type Option func(*httpScanner)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *httpScanner) { s.http = hc }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *httpScanner) { s.userAgent = ua }
}

// WithRateLimit overrides the default request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *httpScanner) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

type httpScanner struct {
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// NewScanner creates a page scanner.
func NewScanner(opts ...Option) Scanner {
	s := &httpScanner{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: defaultUserAgent,
		limiter:   rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *httpScanner) Scan(ctx context.Context, pageURL string) (*Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "pagescan: rate limit wait")
	}

	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		pageURL = "https://" + pageURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "pagescan: create request for %s", pageURL)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "pagescan: fetch %s", pageURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("pagescan: %s returned status %d", pageURL, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "pagescan: read %s", pageURL)
	}

	html := decodeBody(raw, resp.Header.Get("Content-Type"))
	return &Result{
		PageURL: resp.Request.URL.String(),
		Email:   ExtractEmail(html),
	}, nil
}

// decodeBody converts the body to UTF-8 using the charset declared in the
// Content-Type header. Unknown or missing charsets pass through unchanged.
func decodeBody(raw []byte, contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(raw)
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" {
		return string(raw)
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

var (
	mailtoRe = regexp.MustCompile(`(?i)mailto:([a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,})`)
	emailRe  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// junk suffixes that look like emails inside asset paths.
var junkSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// ExtractEmail returns the best contact email in an HTML document, or "".
// mailto: links win over plain-text matches.
func ExtractEmail(html string) string {
	if m := mailtoRe.FindStringSubmatch(html); m != nil {
		if email := sanitize(m[1]); email != "" {
			return email
		}
	}
	for _, m := range emailRe.FindAllString(html, 20) {
		if email := sanitize(m); email != "" {
			return email
		}
	}
	return ""
}

func sanitize(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, suffix := range junkSuffixes {
		if strings.HasSuffix(email, suffix) {
			return ""
		}
	}
	if strings.Contains(email, "@example.") || strings.Contains(email, "@sentry.") ||
		strings.HasPrefix(email, "noreply@") || strings.HasPrefix(email, "no-reply@") {
		return ""
	}
	return email
}
