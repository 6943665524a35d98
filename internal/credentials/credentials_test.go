package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"sitegate/internal/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemoryStore())
}

func str(s string) *string { return &s }

func TestStore_SetMergesPartialFields(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Set("u1", Update{
		ClientID:     str("cid"),
		ClientSecret: str("csecret"),
	}))
	require.NoError(t, s.Set("u1", Update{
		AccessToken:   str("at"),
		GrantedScopes: []string{"a", "b"},
	}))

	c, err := s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "cid", c.ClientID)
	assert.Equal(t, "csecret", c.ClientSecret)
	assert.Equal(t, "at", c.AccessToken)
	assert.Equal(t, []string{"a", "b"}, c.GrantedScopes)
	assert.Empty(t, c.RefreshToken)

	// A later partial update leaves unspecified fields alone.
	require.NoError(t, s.Set("u1", Update{RefreshToken: str("rt")}))
	c, err = s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "at", c.AccessToken)
	assert.Equal(t, "rt", c.RefreshToken)
	assert.Equal(t, []string{"a", "b"}, c.GrantedScopes)
}

func TestStore_Has(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.Has())

	require.NoError(t, s.Set("u1", Update{ClientID: str("cid")}))
	assert.False(t, s.Has(), "secret still missing")

	require.NoError(t, s.Set("u1", Update{ClientSecret: str("csecret")}))
	assert.True(t, s.Has())
}

func TestStore_DeleteClearsUserKeysOnly(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Set("u1", Update{
		ClientID:     str("cid"),
		ClientSecret: str("csecret"),
		AccessToken:  str("at"),
	}))
	require.NoError(t, s.SetErrorCode("u1", "boom"))
	require.NoError(t, s.SetAccessCode("u1", "ac"))
	require.NoError(t, s.Set("u2", Update{AccessToken: str("other")}))

	require.NoError(t, s.Delete("u1"))

	c, err := s.Get("u1")
	require.NoError(t, err)
	assert.Empty(t, c.AccessToken)
	code, err := s.TakeErrorCode("u1")
	require.NoError(t, err)
	assert.Empty(t, code)
	ac, err := s.AccessCode("u1")
	require.NoError(t, err)
	assert.Empty(t, ac)

	// Site credentials and other users survive.
	assert.True(t, s.Has())
	c2, err := s.Get("u2")
	require.NoError(t, err)
	assert.Equal(t, "other", c2.AccessToken)
}

func TestStore_TokenRoundTrip(t *testing.T) {
	s := newStore(t)

	_, ok, err := s.Token("u1")
	require.NoError(t, err)
	assert.False(t, ok)

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.SaveToken("u1", &oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       expiry,
	}, []string{"a"}))

	token, ok, err := s.Token("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, "rt", token.RefreshToken)
	assert.True(t, token.Expiry.Equal(expiry))

	// A refresh response without a refresh token preserves the old one.
	require.NoError(t, s.SaveToken("u1", &oauth2.Token{
		AccessToken: "at2",
		Expiry:      expiry.Add(time.Hour),
	}, nil))

	token, ok, err = s.Token("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "at2", token.AccessToken)
	assert.Equal(t, "rt", token.RefreshToken)

	c, err := s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, c.GrantedScopes, "nil scopes leave prior grant untouched")
}

func TestStore_ErrorCodeReadOnce(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SetErrorCode("u1", "access_denied"))

	code, err := s.TakeErrorCode("u1")
	require.NoError(t, err)
	assert.Equal(t, "access_denied", code)

	code, err = s.TakeErrorCode("u1")
	require.NoError(t, err)
	assert.Empty(t, code, "error code is cleared on read")
}

func TestStore_AccessCodeLifecycle(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SetAccessCode("u1", "code-123"))
	code, err := s.AccessCode("u1")
	require.NoError(t, err)
	assert.Equal(t, "code-123", code)

	require.NoError(t, s.ClearAccessCode("u1"))
	code, err = s.AccessCode("u1")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestStore_FirstAdmin(t *testing.T) {
	s := newStore(t)

	id, err := s.FirstAdminID()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.RecordFirstAdmin("u1"))
	require.NoError(t, s.RecordFirstAdmin("u2"))

	id, err = s.FirstAdminID()
	require.NoError(t, err)
	assert.Equal(t, "u1", id, "first admin is never overwritten")
}

func TestStore_RedirectURLReadOnce(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SetRedirectURL("u1", "https://example.com/settings"))

	u, err := s.TakeRedirectURL("u1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/settings", u)

	u, err = s.TakeRedirectURL("u1")
	require.NoError(t, err)
	assert.Empty(t, u)
}

func TestStore_Users(t *testing.T) {
	s := newStore(t)

	users, err := s.Users()
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, s.Set("bob", Update{AccessToken: str("t1")}))
	require.NoError(t, s.SetErrorCode("team_lead", "invalid_code"))
	require.NoError(t, s.Set("", Update{ClientID: str("cid")}))

	users, err = s.Users()
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "team_lead"}, users, "user ids may contain underscores")
}
