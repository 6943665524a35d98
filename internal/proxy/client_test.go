package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeSiteCode_Success(t *testing.T) {
	var gotSiteCode, gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, siteExchangePath, r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotSiteCode = r.PostForm.Get("site_code")
		gotCode = r.PostForm.Get("code")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"site_id":"S1","site_secret":"SEC1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	creds, err := c.ExchangeSiteCode(context.Background(), "xyz", "abc")
	require.NoError(t, err)

	assert.Equal(t, "S1", creds.SiteID)
	assert.Equal(t, "SEC1", creds.SiteSecret)
	assert.Equal(t, "xyz", gotSiteCode)
	assert.Equal(t, "abc", gotCode)
}

func TestExchangeSiteCode_MissingVerification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"missing_verification"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ExchangeSiteCode(context.Background(), "xyz", "abc")
	require.Error(t, err)

	var missing *MissingVerificationError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "xyz", missing.SiteCode)
}

func TestExchangeSiteCode_TerminalError(t *testing.T) {
	t.Run("proxy error code", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"invalid_site_code"}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		_, err := c.ExchangeSiteCode(context.Background(), "xyz", "abc")
		require.Error(t, err)

		var terminal *ExchangeError
		require.True(t, errors.As(err, &terminal))
		assert.Equal(t, "invalid_site_code", terminal.Code)
	})

	t.Run("unparseable failure body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("<html>nope</html>"))
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		_, err := c.ExchangeSiteCode(context.Background(), "xyz", "abc")

		var terminal *ExchangeError
		require.True(t, errors.As(err, &terminal))
		assert.Equal(t, "unknown_error", terminal.Code)
	})

	t.Run("network failure", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1")
		_, err := c.ExchangeSiteCode(context.Background(), "xyz", "abc")

		var terminal *ExchangeError
		require.True(t, errors.As(err, &terminal))
		assert.Equal(t, "proxy_request_failed", terminal.Code)
	})

	t.Run("incomplete success body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"site_id":"S1"}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		_, err := c.ExchangeSiteCode(context.Background(), "xyz", "abc")

		var terminal *ExchangeError
		require.True(t, errors.As(err, &terminal))
		assert.Equal(t, "proxy_response_incomplete", terminal.Code)
	})
}

func TestSetupURL(t *testing.T) {
	c := NewClient("https://proxy.example.com/")

	t.Run("all parameters", func(t *testing.T) {
		raw := c.SetupURL(SetupParams{
			AccessCode: "abc",
			SiteID:     "S1",
			SiteCode:   "xyz",
			Scopes:     []string{"a", "b"},
			ReturnURL:  "https://example.com/dashboard",
		})

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "https", u.Scheme)
		assert.Equal(t, "proxy.example.com", u.Host)
		assert.Equal(t, setupPath, u.Path)
		q := u.Query()
		assert.Equal(t, "abc", q.Get("code"))
		assert.Equal(t, "S1", q.Get("site_id"))
		assert.Equal(t, "xyz", q.Get("site_code"))
		assert.Equal(t, "a b", q.Get("scope"))
		assert.Equal(t, "https://example.com/dashboard", q.Get("url"))
	})

	t.Run("empty parameters are omitted", func(t *testing.T) {
		raw := c.SetupURL(SetupParams{AccessCode: "abc"})

		u, err := url.Parse(raw)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "abc", q.Get("code"))
		assert.NotContains(t, raw, "site_code")
		assert.NotContains(t, raw, "site_id")
		assert.NotContains(t, raw, "scope")
	})
}

func TestPermissionsURL(t *testing.T) {
	c := NewClient("https://proxy.example.com")

	assert.Equal(t,
		"https://proxy.example.com/site-management/permissions/?site_id=S1",
		c.PermissionsURL("S1"))
	assert.Equal(t,
		"https://proxy.example.com/site-management/permissions/",
		c.PermissionsURL(""))
}
