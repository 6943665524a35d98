// Package oauth owns the token lifecycle against the identity provider:
// authorization-URL construction, the code-for-token exchange, refresh,
// revocation, and the scope state that drives reauthentication.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"sitegate/internal/config"
	"sitegate/internal/credentials"
	"sitegate/internal/scopes"
	"sitegate/pkg/logging"
)

// ErrNotAuthenticated is returned when no usable token exists for the user.
var ErrNotAuthenticated = errors.New("not authenticated")

// DefaultHTTPTimeout is the default timeout for provider requests.
const DefaultHTTPTimeout = 30 * time.Second

// Client manages the OAuth token lifecycle for this site's users.
type Client struct {
	authURL     string
	tokenURL    string
	revokeURL   string
	redirectURI string
	usingProxy  bool

	// requiredScopes can be hot-reloaded from config changes.
	scopesMu       sync.RWMutex
	requiredScopes []string

	creds      *credentials.Store
	httpClient *http.Client

	// refreshGroup serializes concurrent refresh attempts per user so a
	// double-submitted request never burns the refresh token twice.
	refreshGroup singleflight.Group
}

// Option configures the OAuth client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates an OAuth client from the configuration. For direct
// (non-proxy) installations the configured client id/secret seed the
// credential store if it is still empty.
func NewClient(cfg config.Config, creds *credentials.Store, opts ...Option) (*Client, error) {
	c := &Client{
		authURL:        cfg.Provider.AuthURL,
		tokenURL:       cfg.Provider.TokenURL,
		revokeURL:      cfg.Provider.RevokeURL,
		redirectURI:    cfg.RedirectURI(),
		usingProxy:     cfg.Proxy.Enabled,
		requiredScopes: scopes.Normalize(cfg.Provider.RequiredScopes),
		creds:          creds,
		httpClient:     &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	if !c.usingProxy && cfg.Provider.ClientID != "" && !creds.Has() {
		err := creds.Set("", credentials.Update{
			ClientID:     &cfg.Provider.ClientID,
			ClientSecret: &cfg.Provider.ClientSecret,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to seed client credentials: %w", err)
		}
		logging.Info("OAuth", "Seeded client credentials from configuration")
	}

	return c, nil
}

// UsingProxy reports whether this installation uses the proxy flow.
func (c *Client) UsingProxy() bool {
	return c.usingProxy
}

// RequiredScopes returns the static scope configuration.
func (c *Client) RequiredScopes() []string {
	c.scopesMu.RLock()
	defer c.scopesMu.RUnlock()
	out := make([]string, len(c.requiredScopes))
	copy(out, c.requiredScopes)
	return out
}

// SetRequiredScopes replaces the required scope list (config hot-reload).
func (c *Client) SetRequiredScopes(list []string) {
	normalized := scopes.Normalize(list)
	c.scopesMu.Lock()
	c.requiredScopes = normalized
	c.scopesMu.Unlock()
	logging.Info("OAuth", "Required scopes updated (%d scopes)", len(normalized))
}

// GrantedScopes returns the scopes the provider last reported for the user.
func (c *Client) GrantedScopes(userID string) ([]string, error) {
	rec, err := c.creds.Get(userID)
	if err != nil {
		return nil, err
	}
	return rec.GrantedScopes, nil
}

// IsAuthenticated reports whether the user holds an access token.
func (c *Client) IsAuthenticated(userID string) bool {
	_, ok, err := c.creds.Token(userID)
	return err == nil && ok
}

// NeedsReauthentication reports whether the user holds a token whose granted
// scopes no longer cover the required set. The state is derived on every read
// from the latest token state, never persisted.
func (c *Client) NeedsReauthentication(userID string) (bool, error) {
	_, hasToken, err := c.creds.Token(userID)
	if err != nil {
		return false, err
	}
	granted, err := c.GrantedScopes(userID)
	if err != nil {
		return false, err
	}
	return scopes.NeedsReauth(granted, c.RequiredScopes(), hasToken), nil
}

// oauth2Config builds the provider oauth2.Config from stored credentials.
func (c *Client) oauth2Config() (*oauth2.Config, error) {
	id, secret, err := c.creds.ClientCredentials()
	if err != nil {
		return nil, err
	}
	if id == "" || secret == "" {
		return nil, fmt.Errorf("no client credentials configured")
	}
	return &oauth2.Config{
		ClientID:     id,
		ClientSecret: secret,
		RedirectURL:  c.redirectURI,
		Scopes:       c.RequiredScopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.authURL,
			TokenURL: c.tokenURL,
		},
	}, nil
}

// AuthenticationURL builds the provider authorization URL for userID.
// redirectTo, when present, is stored as the post-authentication redirect
// target; values that do not parse as absolute URLs are silently dropped
// rather than propagated.
func (c *Client) AuthenticationURL(userID, redirectTo string) (string, error) {
	cfg, err := c.oauth2Config()
	if err != nil {
		return "", err
	}

	if sanitized := SanitizeRedirect(redirectTo); sanitized != "" {
		if err := c.creds.SetRedirectURL(userID, sanitized); err != nil {
			return "", err
		}
	}

	authURL := cfg.AuthCodeURL("",
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	logging.Debug("OAuth", "Built authorization URL for user=%s (%d scopes)", userID, len(cfg.Scopes))
	return authURL, nil
}

// AuthorizeUser exchanges an inbound authorization code for tokens and
// persists them. The exchange is never retried: authorization codes are
// single-use and the user must re-initiate on failure.
func (c *Client) AuthorizeUser(ctx context.Context, userID, code string) error {
	cfg, err := c.oauth2Config()
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("code exchange failed: %w", err)
	}

	if err := c.creds.SaveToken(userID, token, grantedFromToken(token)); err != nil {
		return err
	}
	if err := c.creds.RecordFirstAdmin(userID); err != nil {
		return err
	}
	// The proxy access code has served its purpose once a token exists.
	if err := c.creds.ClearAccessCode(userID); err != nil {
		return err
	}

	logging.Info("OAuth", "User authenticated (user=%s, has_refresh_token=%v)",
		userID, token.RefreshToken != "")
	return nil
}

// AccessToken returns a valid access token for the user, refreshing it with
// the stored refresh token when expired. Returns ErrNotAuthenticated when no
// token exists.
func (c *Client) AccessToken(ctx context.Context, userID string) (string, error) {
	token, ok, err := c.creds.Token(userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAuthenticated
	}
	if token.Valid() {
		return token.AccessToken, nil
	}
	if token.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}

	refreshed, err, _ := c.refreshGroup.Do(userID, func() (interface{}, error) {
		return c.refresh(ctx, userID, token)
	})
	if err != nil {
		return "", err
	}
	return refreshed.(*oauth2.Token).AccessToken, nil
}

// refresh obtains a new access token with the refresh token and persists it.
func (c *Client) refresh(ctx context.Context, userID string, token *oauth2.Token) (*oauth2.Token, error) {
	cfg, err := c.oauth2Config()
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	refreshed, err := cfg.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	// The provider may omit the refresh token; SaveToken preserves the old one.
	if err := c.creds.SaveToken(userID, refreshed, grantedFromToken(refreshed)); err != nil {
		return nil, err
	}

	logging.Debug("OAuth", "Refreshed access token for user=%s", userID)
	return refreshed, nil
}

// RevokeToken revokes the user's access token at the provider. Callers in
// the disconnect flow log and ignore the returned error: local deletion is
// authoritative for "is authenticated" even when the remote revoke fails.
func (c *Client) RevokeToken(ctx context.Context, userID string) error {
	token, ok, err := c.creds.Token(userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthenticated
	}

	data := url.Values{"token": {token.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke failed with status %d", resp.StatusCode)
	}

	logging.Debug("OAuth", "Revoked token for user=%s", userID)
	return nil
}

// Disconnect revokes the remote token (best effort) and deletes every
// locally persisted per-user key. After Disconnect the user is
// unauthenticated regardless of the remote revoke outcome.
func (c *Client) Disconnect(ctx context.Context, userID string) error {
	if err := c.RevokeToken(ctx, userID); err != nil && !errors.Is(err, ErrNotAuthenticated) {
		logging.Warn("OAuth", "Remote token revocation failed for user=%s, proceeding with local disconnect: %v", userID, err)
	}

	if err := c.creds.Delete(userID); err != nil {
		return err
	}

	logging.Info("OAuth", "User disconnected (user=%s)", userID)
	return nil
}

// grantedFromToken extracts the granted scope list from a token response.
// Returns nil when the provider did not report scopes, leaving the previous
// grant untouched.
func grantedFromToken(token *oauth2.Token) []string {
	raw, ok := token.Extra("scope").(string)
	if !ok || raw == "" {
		return nil
	}
	return scopes.Split(raw)
}

// SanitizeRedirect returns redirectTo if it parses as a well-formed absolute
// URL, otherwise the empty string. Malformed values are dropped to prevent
// open-redirect and injection vectors.
func SanitizeRedirect(redirectTo string) string {
	if redirectTo == "" {
		return ""
	}
	u, err := url.Parse(redirectTo)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return redirectTo
}
