// Package controller owns the authentication entry points: it validates
// inbound requests (nonce, then capability), dispatches to the OAuth and
// proxy clients, and is the only component that issues redirects or
// terminates a request.
package controller

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"sitegate/internal/authz"
	"sitegate/internal/config"
	"sitegate/internal/credentials"
	"sitegate/internal/nonce"
	"sitegate/internal/oauth"
	"sitegate/internal/proxy"
	"sitegate/pkg/logging"
)

// Request parameters consumed by the action endpoint.
const (
	ParamCallback      = "oauth2callback"
	ParamCode          = "code"
	ParamProxyCode     = "googlesitekit_code"
	ParamProxySiteCode = "googlesitekit_site_code"
	ParamConnect       = "googlesitekit_connect"
	ParamDisconnect    = "googlesitekit_disconnect"
	ParamNonce         = "nonce"
	ParamRedirect      = "redirect"
	ParamError         = "error"
	ParamNotification  = "notification"
)

// Nonce actions guarding the state-changing entry points.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionProxySetup = "proxy-setup"
)

// Notification values appended to landing-page redirects.
const (
	NotificationAuthSuccess  = "authentication_success"
	NotificationAuthError    = "authentication_error"
	NotificationResetSession = "reset_session"
	NotificationSetupError   = "setup_error"
)

// UserHeader identifies the requesting user. The front proxy or session
// layer in front of this service is expected to set it.
const UserHeader = "X-User-ID"

type route struct {
	action string
	method string
}

// Controller dispatches authentication actions.
type Controller struct {
	oauth  *oauth.Client
	proxy  *proxy.Client
	creds  *credentials.Store
	nonces *nonce.Service
	caps   authz.Capabilities

	dashboardURL string

	routes map[route]http.HandlerFunc
}

// New creates the controller. proxyClient may be nil when the installation
// does not use the proxy flow.
func New(cfg config.Config, oauthClient *oauth.Client, proxyClient *proxy.Client, creds *credentials.Store, nonces *nonce.Service, caps authz.Capabilities) *Controller {
	c := &Controller{
		oauth:        oauthClient,
		proxy:        proxyClient,
		creds:        creds,
		nonces:       nonces,
		caps:         caps,
		dashboardURL: cfg.DashboardURL(),
	}

	// Explicit dispatch table: (action, method) to handler. Every action is
	// redirect-driven, so only GET is routable.
	c.routes = map[route]http.HandlerFunc{
		{"proxy-setup", http.MethodGet}: c.handleProxySetup,
		{"callback", http.MethodGet}:    c.handleCallback,
		{"connect", http.MethodGet}:     c.handleConnect,
		{"disconnect", http.MethodGet}:  c.handleDisconnect,
	}
	return c
}

// actionFor classifies the request by its parameters. The proxy setup
// callback is checked first because it also carries a code parameter that
// the direct callback path must not consume.
func actionFor(q url.Values) string {
	switch {
	case q.Has(ParamProxyCode):
		return "proxy-setup"
	case q.Has(ParamCallback):
		return "callback"
	case q.Has(ParamConnect):
		return "connect"
	case q.Has(ParamDisconnect):
		return "disconnect"
	default:
		return ""
	}
}

// ServeHTTP routes the request through the dispatch table.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := actionFor(r.URL.Query())
	if action == "" {
		http.NotFound(w, r)
		return
	}

	handler, ok := c.routes[route{action, r.Method}]
	if !ok {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r)
}

// requestUser returns the authenticated platform user for the request.
func requestUser(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

// requireUser terminates the request when no user identity is present.
func (c *Controller) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := requestUser(r)
	if userID == "" {
		http.Error(w, "unknown user", http.StatusForbidden)
		return "", false
	}
	return userID, true
}

// requireNonce verifies the single-use action nonce. Failure terminates the
// request with HTTP 400 before any token or credential logic runs.
func (c *Controller) requireNonce(w http.ResponseWriter, r *http.Request, userID, action string) bool {
	if !c.nonces.Verify(userID, action, r.URL.Query().Get(ParamNonce)) {
		logging.Warn("Controller", "Nonce verification failed (user=%s, action=%s)", userID, action)
		http.Error(w, "invalid nonce", http.StatusBadRequest)
		return false
	}
	return true
}

// requireCapability terminates the request with HTTP 403 when the user lacks
// the capability. Checked after the nonce.
func (c *Controller) requireCapability(w http.ResponseWriter, userID, capability string) bool {
	if !c.caps.Can(userID, capability) {
		logging.Warn("Controller", "Capability check failed (user=%s, capability=%s)", userID, capability)
		http.Error(w, "insufficient permissions", http.StatusForbidden)
		return false
	}
	return true
}

// handleCallback consumes the direct OAuth callback. No nonce is required:
// the provider-issued code is itself the proof of a legitimate round trip.
func (c *Controller) handleCallback(w http.ResponseWriter, r *http.Request) {
	userID, ok := c.requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	if providerErr := q.Get(ParamError); providerErr != "" {
		logging.Warn("Controller", "Provider returned error on callback (user=%s): %s", userID, providerErr)
		c.failWithError(w, r, userID, providerErr, NotificationAuthError)
		return
	}

	code := q.Get(ParamCode)
	if code == "" {
		c.failWithError(w, r, userID, "oauth_invalid_request", NotificationAuthError)
		return
	}

	if err := c.oauth.AuthorizeUser(r.Context(), userID, code); err != nil {
		logging.Warn("Controller", "Authorization failed (user=%s): %v", userID, err)
		c.failWithError(w, r, userID, "invalid_code", NotificationAuthError)
		return
	}

	target, err := c.creds.TakeRedirectURL(userID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if target == "" {
		target = appendQuery(c.dashboardURL, url.Values{ParamNotification: {NotificationAuthSuccess}})
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleConnect starts the authentication flow: nonce, capability, then a
// redirect to the authorization URL, or to the proxy setup flow when the
// site is not yet registered there.
func (c *Controller) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := c.requireUser(w, r)
	if !ok {
		return
	}
	if !c.requireNonce(w, r, userID, ActionConnect) {
		return
	}
	if !c.requireCapability(w, userID, authz.CapabilityAuthenticate) {
		return
	}

	redirectTo := r.URL.Query().Get(ParamRedirect)

	// A proxy installation without site credentials must register first. The
	// redirect target is stored now so it survives registration and the
	// eventual callback still lands the user where they started.
	if c.oauth.UsingProxy() && !c.creds.Has() {
		if sanitized := oauth.SanitizeRedirect(redirectTo); sanitized != "" {
			if err := c.creds.SetRedirectURL(userID, sanitized); err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}
		target, err := c.proxySetupRedirect(userID, "")
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	authURL, err := c.oauth.AuthenticationURL(userID, redirectTo)
	if err != nil {
		logging.Error("Controller", err, "Failed to build authorization URL (user=%s)", userID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleDisconnect revokes and deletes the user's credentials. The remote
// revoke outcome never blocks the local deletion.
func (c *Controller) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := c.requireUser(w, r)
	if !ok {
		return
	}
	if !c.requireNonce(w, r, userID, ActionDisconnect) {
		return
	}
	if !c.requireCapability(w, userID, authz.CapabilityAuthenticate) {
		return
	}

	if err := c.oauth.Disconnect(r.Context(), userID); err != nil {
		logging.Error("Controller", err, "Disconnect failed (user=%s)", userID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	target := appendQuery(c.dashboardURL, url.Values{ParamNotification: {NotificationResetSession}})
	http.Redirect(w, r, target, http.StatusFound)
}

// handleProxySetup consumes the proxy setup callback. The nonce gate runs
// before anything else and fails closed; after that the code/site-code pair
// drives the exchange, and the user is redirected back to the proxy's setup
// flow unless the exchange failed terminally.
func (c *Controller) handleProxySetup(w http.ResponseWriter, r *http.Request) {
	userID, ok := c.requireUser(w, r)
	if !ok {
		return
	}
	if !c.requireNonce(w, r, userID, ActionProxySetup) {
		return
	}
	if !c.requireCapability(w, userID, authz.CapabilitySetup) {
		return
	}
	if c.proxy == nil {
		http.Error(w, "proxy flow not configured", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	code := q.Get(ParamProxyCode)
	siteCode := q.Get(ParamProxySiteCode)

	if code != "" {
		if err := c.creds.SetAccessCode(userID, code); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	// Without both halves of the pair there is nothing to exchange yet; the
	// proxy drives verification, so send the user back there regardless.
	if code == "" || siteCode == "" {
		c.redirectToProxySetup(w, r, userID, siteCode)
		return
	}

	siteCreds, err := c.proxy.ExchangeSiteCode(r.Context(), siteCode, code)
	if err != nil {
		var missing *proxy.MissingVerificationError
		if errors.As(err, &missing) {
			// Recoverable: no credential or error writes, carry the site
			// code forward so the proxy can finish verification and the
			// user can land back here to retry.
			c.redirectToProxySetup(w, r, userID, missing.SiteCode)
			return
		}

		var terminal *proxy.ExchangeError
		errCode := "unknown_error"
		if errors.As(err, &terminal) {
			errCode = terminal.Code
		}
		logging.Error("Controller", err, "Site code exchange failed terminally (user=%s)", userID)
		if err := c.creds.ClearAccessCode(userID); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		c.failWithError(w, r, userID, errCode, NotificationSetupError)
		return
	}

	// Both halves of the site credential land in one atomic write.
	err = c.creds.Set(userID, credentials.Update{
		ClientID:     &siteCreds.SiteID,
		ClientSecret: &siteCreds.SiteSecret,
	})
	if err != nil {
		logging.Error("Controller", err, "Failed to persist site credentials (user=%s)", userID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	c.redirectToProxySetup(w, r, userID, "")
}

// redirectToProxySetup sends the user back into the proxy's setup flow,
// carrying the stored access code and, when present, the site code.
func (c *Controller) redirectToProxySetup(w http.ResponseWriter, r *http.Request, userID, siteCode string) {
	target, err := c.proxySetupRedirect(userID, siteCode)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// proxySetupRedirect builds the proxy setup URL from the current state.
func (c *Controller) proxySetupRedirect(userID, siteCode string) (string, error) {
	if c.proxy == nil {
		return "", fmt.Errorf("proxy flow not configured")
	}
	accessCode, err := c.creds.AccessCode(userID)
	if err != nil {
		return "", err
	}
	siteID, _, err := c.creds.ClientCredentials()
	if err != nil {
		return "", err
	}
	return c.proxy.SetupURL(proxy.SetupParams{
		AccessCode: accessCode,
		SiteID:     siteID,
		SiteCode:   siteCode,
		Scopes:     c.oauth.RequiredScopes(),
		ReturnURL:  c.dashboardURL,
	}), nil
}

// failWithError records the terminal error for the user and redirects to the
// landing page carrying the error code and a notification marker.
func (c *Controller) failWithError(w http.ResponseWriter, r *http.Request, userID, errCode, notification string) {
	if err := c.creds.SetErrorCode(userID, errCode); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	target := appendQuery(c.dashboardURL, url.Values{
		ParamError:        {errCode},
		ParamNotification: {notification},
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// PermissionsURL returns the proxy URL where additional scope grants are
// managed. Empty for direct installations and for proxy installations that
// have not registered yet.
func (c *Controller) PermissionsURL() (string, error) {
	if c.proxy == nil || !c.oauth.UsingProxy() {
		return "", nil
	}
	siteID, _, err := c.creds.ClientCredentials()
	if err != nil {
		return "", err
	}
	if siteID == "" {
		return "", nil
	}
	return c.proxy.PermissionsURL(siteID), nil
}

// ActionNonces issues fresh single-use nonces for the state-changing actions
// the user may invoke. Users without the matching capability get none.
func (c *Controller) ActionNonces(userID string) (map[string]string, error) {
	nonces := make(map[string]string)

	if c.caps.Can(userID, authz.CapabilityAuthenticate) {
		for _, action := range []string{ActionConnect, ActionDisconnect} {
			token, err := c.nonces.Create(userID, action)
			if err != nil {
				return nil, err
			}
			nonces[action] = token
		}
	}
	if c.proxy != nil && c.caps.Can(userID, authz.CapabilitySetup) {
		token, err := c.nonces.Create(userID, ActionProxySetup)
		if err != nil {
			return nil, err
		}
		nonces[ActionProxySetup] = token
	}
	return nonces, nil
}

// IsAuthenticated reports whether the user currently holds an access token.
func (c *Controller) IsAuthenticated(userID string) bool {
	return c.oauth.IsAuthenticated(userID)
}

// SiteConnected reports whether site client credentials are present.
func (c *Controller) SiteConnected() bool {
	return c.creds.Has()
}

// ConsumeError returns and clears the user's stored error code. The notice
// is surfaced once; a second read returns empty.
func (c *Controller) ConsumeError(userID string) (string, error) {
	return c.creds.TakeErrorCode(userID)
}

// NeedsReauthentication reports whether the user's notice surface should
// prompt for reauthentication: a token exists and its granted scopes no
// longer cover the required set.
func (c *Controller) NeedsReauthentication(userID string) (bool, error) {
	return c.oauth.NeedsReauthentication(userID)
}

// appendQuery adds params to rawURL, preserving any existing query.
func appendQuery(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	u.RawQuery = params.Encode()
	return u.String()
}
