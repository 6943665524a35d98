package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"sitegate/internal/credentials"
	"sitegate/internal/storage"
)

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")

	kv, err := storage.NewFileStore(stateDir)
	require.NoError(t, err)
	creds := credentials.NewStore(kv)

	clientID, clientSecret := "S1", "SEC1"
	require.NoError(t, creds.Set("", credentials.Update{
		ClientID:     &clientID,
		ClientSecret: &clientSecret,
	}))
	require.NoError(t, creds.SaveToken("admin", &oauth2.Token{
		AccessToken: "token-value-1",
		Expiry:      time.Now().Add(time.Hour),
	}, []string{"scope-a"}))
	require.NoError(t, creds.RecordFirstAdmin("admin"))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "storage:\n  dir: " + stateDir + "\nprovider:\n  requiredScopes:\n    - scope-a\n    - scope-b\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))

	statusConfigPath = cfgPath
	defer func() { statusConfigPath = "" }()

	var out bytes.Buffer
	statusCmd.SetOut(&out)
	require.NoError(t, runStatus(statusCmd, nil))

	report := out.String()
	assert.Contains(t, report, "S1")
	assert.Contains(t, report, "admin")
	assert.Contains(t, report, "1/2")
	// The secret never appears in the report.
	assert.NotContains(t, report, "SEC1")
	assert.NotContains(t, report, "token-value-1")
}

func TestStatusCommandRequiresStorageDir(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: info\n"), 0o600))

	statusConfigPath = cfgPath
	defer func() { statusConfigPath = "" }()

	statusCmd.SetOut(&bytes.Buffer{})
	require.Error(t, runStatus(statusCmd, nil))
}
