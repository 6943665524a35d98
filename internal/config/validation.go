package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if err := requireAbsoluteURL("server.publicURL", c.Server.PublicURL); err != nil {
		return err
	}
	if c.Server.ActionPath == "" || c.Server.ActionPath[0] != '/' {
		return fmt.Errorf("server.actionPath %q must start with /", c.Server.ActionPath)
	}

	for name, value := range map[string]string{
		"provider.authURL":   c.Provider.AuthURL,
		"provider.tokenURL":  c.Provider.TokenURL,
		"provider.revokeURL": c.Provider.RevokeURL,
	} {
		if err := requireAbsoluteURL(name, value); err != nil {
			return err
		}
	}

	if c.Proxy.Enabled {
		if err := requireAbsoluteURL("proxy.baseURL", c.Proxy.BaseURL); err != nil {
			return err
		}
	} else if c.Provider.ClientID == "" || c.Provider.ClientSecret == "" {
		return fmt.Errorf("provider.clientID and provider.clientSecret are required when the proxy is disabled")
	}

	if len(c.Auth.AdminIDs) == 0 {
		return fmt.Errorf("auth.adminIDs must name at least one administrator")
	}

	if len(c.Provider.RequiredScopes) == 0 {
		return fmt.Errorf("provider.requiredScopes must not be empty")
	}

	return nil
}

func requireAbsoluteURL(name, value string) error {
	u, err := url.Parse(value)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s %q is not an absolute URL", name, value)
	}
	return nil
}
