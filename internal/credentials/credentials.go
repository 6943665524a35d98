// Package credentials owns the persisted OAuth credential record: site-wide
// client id/secret and per-user tokens, plus the small per-user values the
// authentication flow carries between requests.
package credentials

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"sitegate/internal/scopes"
	"sitegate/internal/storage"
	"sitegate/pkg/logging"
)

// Namespace prefixes every key this system persists.
const Namespace = "googlesitekit_"

// Site-wide keys.
const (
	keyClientID     = Namespace + "oauth2_client_id"
	keyClientSecret = Namespace + "oauth2_client_secret"
	keyFirstAdminID = Namespace + "first_admin_id"
)

// Per-user field names.
const (
	fieldAccessToken   = "access_token"
	fieldRefreshToken  = "refresh_token"
	fieldTokenExpiry   = "token_expiry"
	fieldGrantedScopes = "granted_scopes"
	fieldErrorCode     = "error_code"
	fieldAccessCode    = "proxy_access_code"
	fieldRedirectURL   = "redirect_url"
)

// Credentials is the assembled credential record for one user.
type Credentials struct {
	ClientID      string
	ClientSecret  string
	AccessToken   string
	RefreshToken  string
	Expiry        time.Time
	GrantedScopes []string
}

// Update is a partial credential write. Nil fields are left untouched, so a
// failed exchange that never builds an Update cannot disturb prior values.
type Update struct {
	ClientID      *string
	ClientSecret  *string
	AccessToken   *string
	RefreshToken  *string
	Expiry        *time.Time
	GrantedScopes []string
}

// Store persists credentials through the key-value storage contract.
type Store struct {
	kv storage.Store
}

// NewStore creates a credential store on top of the given key-value store.
func NewStore(kv storage.Store) *Store {
	return &Store{kv: kv}
}

func userKey(userID, field string) string {
	return Namespace + "user_" + userID + "_" + field
}

// UserPrefix returns the storage prefix holding all of a user's keys.
func UserPrefix(userID string) string {
	return Namespace + "user_" + userID + "_"
}

// Get assembles the credential record for userID. Missing fields are zero.
func (s *Store) Get(userID string) (Credentials, error) {
	var c Credentials
	var err error

	if c.ClientID, _, err = s.kv.Get(keyClientID); err != nil {
		return Credentials{}, fmt.Errorf("failed to read client id: %w", err)
	}
	if c.ClientSecret, _, err = s.kv.Get(keyClientSecret); err != nil {
		return Credentials{}, fmt.Errorf("failed to read client secret: %w", err)
	}
	if c.AccessToken, _, err = s.kv.Get(userKey(userID, fieldAccessToken)); err != nil {
		return Credentials{}, fmt.Errorf("failed to read access token: %w", err)
	}
	if c.RefreshToken, _, err = s.kv.Get(userKey(userID, fieldRefreshToken)); err != nil {
		return Credentials{}, fmt.Errorf("failed to read refresh token: %w", err)
	}

	if raw, ok, err := s.kv.Get(userKey(userID, fieldTokenExpiry)); err != nil {
		return Credentials{}, fmt.Errorf("failed to read token expiry: %w", err)
	} else if ok && raw != "" {
		if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
			c.Expiry = t
		}
	}

	if raw, _, err := s.kv.Get(userKey(userID, fieldGrantedScopes)); err != nil {
		return Credentials{}, fmt.Errorf("failed to read granted scopes: %w", err)
	} else {
		c.GrantedScopes = scopes.Split(raw)
	}

	return c, nil
}

// Set applies a partial update for userID. All provided fields are committed
// in a single atomic batch; unspecified fields keep their prior values.
func (s *Store) Set(userID string, u Update) error {
	values := make(map[string]string)

	if u.ClientID != nil {
		values[keyClientID] = *u.ClientID
	}
	if u.ClientSecret != nil {
		values[keyClientSecret] = *u.ClientSecret
	}
	if u.AccessToken != nil {
		values[userKey(userID, fieldAccessToken)] = *u.AccessToken
	}
	if u.RefreshToken != nil {
		values[userKey(userID, fieldRefreshToken)] = *u.RefreshToken
	}
	if u.Expiry != nil {
		values[userKey(userID, fieldTokenExpiry)] = u.Expiry.Format(time.RFC3339)
	}
	if u.GrantedScopes != nil {
		values[userKey(userID, fieldGrantedScopes)] = scopes.Join(u.GrantedScopes)
	}

	if len(values) == 0 {
		return nil
	}
	if err := s.kv.SetMulti(values); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}

	// Token and secret values are never logged.
	logging.Debug("Credentials", "Stored %d credential field(s) for user=%s", len(values), userID)
	return nil
}

// Delete removes every per-user key under this system's namespace.
// Site-wide client credentials are kept.
func (s *Store) Delete(userID string) error {
	if err := s.kv.DeleteAll(UserPrefix(userID)); err != nil {
		return fmt.Errorf("failed to delete user credentials: %w", err)
	}
	logging.Debug("Credentials", "Deleted all keys for user=%s", userID)
	return nil
}

// Has reports whether site client credentials are present.
func (s *Store) Has() bool {
	id, _, err := s.kv.Get(keyClientID)
	if err != nil || id == "" {
		return false
	}
	secret, _, err := s.kv.Get(keyClientSecret)
	return err == nil && secret != ""
}

// ClientCredentials returns the site-wide OAuth client id and secret.
func (s *Store) ClientCredentials() (id, secret string, err error) {
	if id, _, err = s.kv.Get(keyClientID); err != nil {
		return "", "", fmt.Errorf("failed to read client id: %w", err)
	}
	if secret, _, err = s.kv.Get(keyClientSecret); err != nil {
		return "", "", fmt.Errorf("failed to read client secret: %w", err)
	}
	return id, secret, nil
}

// Token returns the user's token as an oauth2.Token, or false when the user
// holds no access token.
func (s *Store) Token(userID string) (*oauth2.Token, bool, error) {
	c, err := s.Get(userID)
	if err != nil {
		return nil, false, err
	}
	if c.AccessToken == "" {
		return nil, false, nil
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.Expiry,
	}, true, nil
}

// SaveToken persists a token for userID, preserving the prior refresh token
// when the provider omitted one, and records the granted scopes when given.
func (s *Store) SaveToken(userID string, token *oauth2.Token, granted []string) error {
	u := Update{
		AccessToken: &token.AccessToken,
		Expiry:      &token.Expiry,
	}
	if token.RefreshToken != "" {
		u.RefreshToken = &token.RefreshToken
	}
	if granted != nil {
		u.GrantedScopes = granted
	}
	return s.Set(userID, u)
}

// TakeErrorCode returns and clears the user's stored error code (read-once).
func (s *Store) TakeErrorCode(userID string) (string, error) {
	return s.takeUserField(userID, fieldErrorCode)
}

// PeekErrorCode returns the stored error code without clearing it.
func (s *Store) PeekErrorCode(userID string) (string, error) {
	v, _, err := s.kv.Get(userKey(userID, fieldErrorCode))
	return v, err
}

// SetErrorCode records a terminal exchange failure for later notice display.
func (s *Store) SetErrorCode(userID, code string) error {
	return s.kv.Set(userKey(userID, fieldErrorCode), code)
}

// AccessCode returns the stored proxy access code, if any.
func (s *Store) AccessCode(userID string) (string, error) {
	v, _, err := s.kv.Get(userKey(userID, fieldAccessCode))
	return v, err
}

// SetAccessCode stores the proxy access code handed out on setup redirect.
func (s *Store) SetAccessCode(userID, code string) error {
	return s.kv.Set(userKey(userID, fieldAccessCode), code)
}

// ClearAccessCode removes the stored proxy access code.
func (s *Store) ClearAccessCode(userID string) error {
	return s.kv.Delete(userKey(userID, fieldAccessCode))
}

// SetRedirectURL stores the post-authentication redirect target.
func (s *Store) SetRedirectURL(userID, rawURL string) error {
	return s.kv.Set(userKey(userID, fieldRedirectURL), rawURL)
}

// TakeRedirectURL returns and clears the post-authentication redirect target.
func (s *Store) TakeRedirectURL(userID string) (string, error) {
	return s.takeUserField(userID, fieldRedirectURL)
}

// FirstAdminID returns the site's first authenticated administrator, if set.
func (s *Store) FirstAdminID() (string, error) {
	v, _, err := s.kv.Get(keyFirstAdminID)
	return v, err
}

// RecordFirstAdmin stores userID as the first administrator unless one is
// already recorded.
func (s *Store) RecordFirstAdmin(userID string) error {
	existing, err := s.FirstAdminID()
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	return s.kv.Set(keyFirstAdminID, userID)
}

// Users lists every user id with at least one persisted key.
func (s *Store) Users() ([]string, error) {
	prefix := Namespace + "user_"
	keys, err := s.kv.Keys(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list user keys: %w", err)
	}

	fields := []string{
		fieldAccessToken, fieldRefreshToken, fieldTokenExpiry,
		fieldGrantedScopes, fieldErrorCode, fieldAccessCode, fieldRedirectURL,
	}
	seen := make(map[string]bool)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		// User ids may contain underscores, so match against the known
		// field suffixes instead of splitting.
		for _, field := range fields {
			if strings.HasSuffix(rest, "_"+field) {
				seen[strings.TrimSuffix(rest, "_"+field)] = true
				break
			}
		}
	}

	users := make([]string, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) takeUserField(userID, field string) (string, error) {
	key := userKey(userID, field)
	v, ok, err := s.kv.Get(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	if err := s.kv.Delete(key); err != nil {
		return "", err
	}
	return v, nil
}
