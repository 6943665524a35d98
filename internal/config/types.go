package config

import "strings"

// Config is the top-level configuration structure for sitegate.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig defines the HTTP server settings.
type ServerConfig struct {
	// Host to bind to (default: localhost).
	Host string `yaml:"host,omitempty"`
	// Port for the admin endpoint (default: 8080).
	Port int `yaml:"port,omitempty"`
	// PublicURL is the externally reachable base URL of this site.
	PublicURL string `yaml:"publicURL,omitempty"`
	// ActionPath is the path serving the authentication actions
	// (default: /auth).
	ActionPath string `yaml:"actionPath,omitempty"`
	// DashboardPath is the landing page users are redirected to after
	// authentication actions (default: /dashboard).
	DashboardPath string `yaml:"dashboardPath,omitempty"`
}

// ProviderConfig defines the identity/API provider endpoints and client
// credentials for direct (non-proxy) installations.
type ProviderConfig struct {
	AuthURL   string `yaml:"authURL,omitempty"`
	TokenURL  string `yaml:"tokenURL,omitempty"`
	RevokeURL string `yaml:"revokeURL,omitempty"`

	// ClientID/ClientSecret seed the credential store for direct
	// installations. Proxy installations obtain these via site registration.
	ClientID     string `yaml:"clientID,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`

	// RequiredScopes is the static scope configuration requested on connect.
	RequiredScopes []string `yaml:"requiredScopes,omitempty"`
}

// ProxyConfig defines the site-registration proxy service.
type ProxyConfig struct {
	// Enabled switches the installation to the proxy flow: site credentials
	// come from the site-code exchange instead of the provider console.
	Enabled bool `yaml:"enabled,omitempty"`
	// BaseURL is the proxy service base URL.
	BaseURL string `yaml:"baseURL,omitempty"`
}

// AuthConfig defines who may run authentication actions.
type AuthConfig struct {
	// AdminIDs are the user IDs holding the authenticate/setup capabilities.
	AdminIDs []string `yaml:"adminIDs,omitempty"`
}

// StorageConfig defines where persisted state lives.
type StorageConfig struct {
	// Dir is the state directory. Empty selects the in-memory store.
	Dir string `yaml:"dir,omitempty"`
}

// LoggingConfig defines log output settings.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}

// RedirectURI returns the registered OAuth callback target: the action
// endpoint with the callback marker set.
func (c *Config) RedirectURI() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + c.Server.ActionPath + "?oauth2callback=1"
}

// DashboardURL returns the landing page URL.
func (c *Config) DashboardURL() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + c.Server.DashboardPath
}
