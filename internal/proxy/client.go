// Package proxy talks to the site-registration proxy service: it exchanges
// transient site codes for durable site credentials and builds the setup and
// permissions URLs the user is sent to.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sitegate/internal/scopes"
	"sitegate/pkg/logging"
)

// DefaultHTTPTimeout is the default timeout for proxy requests.
const DefaultHTTPTimeout = 30 * time.Second

// Proxy endpoint paths.
const (
	siteExchangePath = "/o/oauth2/site/"
	setupPath        = "/v2/site-management/setup/"
	permissionsPath  = "/site-management/permissions/"
)

// SiteCredentials are the durable OAuth client credentials issued for a site.
type SiteCredentials struct {
	SiteID     string `json:"site_id"`
	SiteSecret string `json:"site_secret"`
}

// Client performs the site-code exchange protocol against the proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the proxy client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a proxy client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeSiteCode exchanges a site code / code pair for site credentials.
//
// Authorization and site codes are single-use, so the call is never retried.
// Failures are classified: *MissingVerificationError is recoverable and must
// not surface to the user; *ExchangeError is terminal for this attempt.
func (c *Client) ExchangeSiteCode(ctx context.Context, siteCode, code string) (SiteCredentials, error) {
	data := url.Values{
		"site_code": {siteCode},
		"code":      {code},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+siteExchangePath, strings.NewReader(data.Encode()))
	if err != nil {
		return SiteCredentials{}, &ExchangeError{Code: "proxy_request_failed", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SiteCredentials{}, &ExchangeError{Code: "proxy_request_failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SiteCredentials{}, &ExchangeError{Code: "proxy_response_unreadable", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		code := parseErrorCode(body)
		logging.Debug("Proxy", "Site code exchange failed: status=%d error=%s", resp.StatusCode, code)
		if code == ErrCodeMissingVerification {
			return SiteCredentials{}, &MissingVerificationError{SiteCode: siteCode}
		}
		return SiteCredentials{}, &ExchangeError{Code: code}
	}

	var creds SiteCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return SiteCredentials{}, &ExchangeError{Code: "proxy_response_invalid", Err: err}
	}
	if creds.SiteID == "" || creds.SiteSecret == "" {
		return SiteCredentials{}, &ExchangeError{Code: "proxy_response_incomplete"}
	}

	logging.Info("Proxy", "Exchanged site code for site credentials (site_id=%s)", creds.SiteID)
	return creds, nil
}

// parseErrorCode extracts the proxy error code from a failure response body.
func parseErrorCode(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return "unknown_error"
}

// SetupParams carries the query parameters for the proxy setup URL.
type SetupParams struct {
	// AccessCode is the short-lived handle issued by the proxy.
	AccessCode string
	// SiteID is set once the site is registered.
	SiteID string
	// SiteCode is carried forward after a recoverable exchange failure so
	// the proxy can complete verification and retry.
	SiteCode string
	// Scopes is the scope list the site will request.
	Scopes []string
	// ReturnURL is where the proxy sends the user back to.
	ReturnURL string
}

// SetupURL builds the proxy setup URL from the given parameters. Empty
// parameters are omitted.
func (c *Client) SetupURL(p SetupParams) string {
	q := url.Values{}
	if p.AccessCode != "" {
		q.Set("code", p.AccessCode)
	}
	if p.SiteID != "" {
		q.Set("site_id", p.SiteID)
	}
	if p.SiteCode != "" {
		q.Set("site_code", p.SiteCode)
	}
	if len(p.Scopes) > 0 {
		q.Set("scope", scopes.Join(p.Scopes))
	}
	if p.ReturnURL != "" {
		q.Set("url", p.ReturnURL)
	}

	u := c.baseURL + setupPath
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// PermissionsURL builds the proxy permissions URL for a registered site.
func (c *Client) PermissionsURL(siteID string) string {
	u := c.baseURL + permissionsPath
	if siteID != "" {
		u += "?" + url.Values{"site_id": {siteID}}.Encode()
	}
	return u
}
