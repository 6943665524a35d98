package config

// Default provider endpoints. These point at Google's OAuth 2.0 surface and
// can be overridden for testing or alternative deployments.
const (
	DefaultAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL  = "https://oauth2.googleapis.com/token"
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

	// DefaultProxyBaseURL is the site-registration proxy service.
	DefaultProxyBaseURL = "https://sitekit.withgoogle.com"
)

// DefaultRequiredScopes is the static scope configuration requested from the
// provider on connect.
func DefaultRequiredScopes() []string {
	return []string{
		"openid",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
		"https://www.googleapis.com/auth/siteverification",
	}
}

// GetDefaultConfig returns the default configuration for sitegate.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:          "localhost",
			Port:          8080,
			PublicURL:     "http://localhost:8080",
			ActionPath:    "/auth",
			DashboardPath: "/dashboard",
		},
		Provider: ProviderConfig{
			AuthURL:        DefaultAuthURL,
			TokenURL:       DefaultTokenURL,
			RevokeURL:      DefaultRevokeURL,
			RequiredScopes: DefaultRequiredScopes(),
		},
		Proxy: ProxyConfig{
			Enabled: false,
			BaseURL: DefaultProxyBaseURL,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
