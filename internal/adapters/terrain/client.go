package terrain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"rollcall/internal/domain/roster"
)

// MaxPages bounds how many pages one fetch follows.
const MaxPages = 500

// maxErrorBody caps how much of an error response is kept for the message.
const maxErrorBody = 2048

// ClientConfig configures the roster API client. Either Token, or ClientID with
// ClientSecret and TokenURL, supplies credentials; with neither, requests are anonymous.
type ClientConfig struct {
	BaseURL      string
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string

	// RequestsPerSecond limits outgoing requests; Burst defaults to 1.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient is the transport the oauth2 client wraps; nil uses a 30s-timeout client.
	HTTPClient *http.Client
}

// Client fetches unit rosters from the roster API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// APIError is a non-200 response from the roster API.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("roster api %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// NewClient builds a client from cfg.
// PRE: cfg.BaseURL is an absolute http(s) URL
// POST: Returns a ready client or an error naming the bad setting
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("roster api base url %q must be an absolute http(s) url", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	switch {
	case cfg.ClientID != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(ctx)
	case cfg.Token != "":
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}))
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// FetchMembers downloads every page of a unit's roster.
// Rows that fail to parse are returned in Batch.Rejected, numbered across pages.
// PRE: unitID is non-empty
// POST: Returns the complete roster, or an error if any page fails
func (c *Client) FetchMembers(ctx context.Context, unitID string) (roster.Batch, error) {
	if strings.TrimSpace(unitID) == "" {
		return roster.Batch{}, fmt.Errorf("unit id is required")
	}
	next := c.baseURL.JoinPath("units", unitID, "members").String()

	var batch roster.Batch
	seen := make(map[string]bool)
	row := 1
	start := time.Now()
	for pages := 0; next != ""; pages++ {
		if pages >= MaxPages {
			return roster.Batch{}, fmt.Errorf("roster for unit %s exceeds %d pages", unitID, MaxPages)
		}
		if seen[next] {
			return roster.Batch{}, fmt.Errorf("roster api pagination loops at %s", next)
		}
		seen[next] = true

		p, err := c.getPage(ctx, next)
		if err != nil {
			return roster.Batch{}, err
		}
		appendRows(&batch, p.Results, row)
		row += len(p.Results)

		next, err = c.resolve(p.Next)
		if err != nil {
			return roster.Batch{}, err
		}
	}

	slog.Info("roster_fetch",
		"unit", unitID,
		"records", len(batch.Records),
		"rejected", len(batch.Rejected),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return batch, nil
}

func (c *Client) getPage(ctx context.Context, pageURL string) (page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return page{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("fetch roster page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return page{}, &APIError{StatusCode: resp.StatusCode, URL: pageURL, Body: strings.TrimSpace(string(body))}
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page{}, &FormatError{Format: "json", Reason: err.Error()}
	}
	return p, nil
}

// resolve turns a next link into an absolute URL on the API host.
func (c *Client) resolve(next string) (string, error) {
	if next == "" {
		return "", nil
	}
	u, err := c.baseURL.Parse(next)
	if err != nil {
		return "", fmt.Errorf("bad next link %q: %w", next, err)
	}
	if u.Host != c.baseURL.Host {
		return "", fmt.Errorf("next link %q leaves the roster api host", next)
	}
	return u.String(), nil
}
