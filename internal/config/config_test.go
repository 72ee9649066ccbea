package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"DM_API_HOST",
		"DM_PUSH_HOST",
		"DM_ACCOUNTS_DB",
		"DM_ACCOUNT_UID",
		"DM_ACCOUNT_SESSION",
		"DM_ACCOUNT_CSRF",
		"DM_MESSAGE_PAGE_SIZE",
		"DEVICE_NAME",
		"ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DM_ACCOUNTS_DB", filepath.Join(t.TempDir(), "accounts.db"))

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "api.example.com", cfg.APIHost)
	assert.Equal(t, "broadcast.example.com", cfg.PushHost)
	assert.Equal(t, 20, cfg.MessagePageSize)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoad_CustomHosts(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DM_API_HOST", "api.other.example")
	t.Setenv("DM_PUSH_HOST", "push.other.example")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "api.other.example", cfg.APIHost)
	assert.Equal(t, "push.other.example", cfg.PushHost)
}

func TestLoad_SeedCredentials(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DM_ACCOUNT_UID", "1234")
	t.Setenv("DM_ACCOUNT_SESSION", "tok")
	t.Setenv("DM_ACCOUNT_CSRF", "csrf")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, int64(1234), cfg.SeedUID)
	assert.Equal(t, "tok", cfg.SeedSessionToken)
	assert.Equal(t, "csrf", cfg.SeedCSRF)
}

func TestLoad_SeedUIDWithoutSession(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DM_ACCOUNT_UID", "1234")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be set together")
}

func TestLoad_SeedSessionWithoutUID(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DM_ACCOUNT_SESSION", "tok")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be set together")
}

func TestLoad_PageSizeTooSmall(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DM_MESSAGE_PAGE_SIZE", "0")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DM_MESSAGE_PAGE_SIZE")
}

func TestLoad_DefaultDeviceName(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DeviceName)
}

func TestLoad_CustomDeviceName(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DEVICE_NAME", "test-device")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "test-device", cfg.DeviceName)
}

func TestLoad_DefaultAccountsDBPath(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(cfg.AccountsDB, filepath.Join(".dmclient", "accounts.db")))
}

// --- DefaultAccountsDB ---

func TestDefaultAccountsDB(t *testing.T) {
	path, err := DefaultAccountsDB()

	require.NoError(t, err)
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".dmclient", "accounts.db"), path)
}

// --- IsProduction ---

func TestIsProduction_True(t *testing.T) {
	cfg := &Config{Environment: "production"}
	assert.True(t, cfg.IsProduction())
}

func TestIsProduction_False(t *testing.T) {
	for _, env := range []string{"development", "staging", ""} {
		cfg := &Config{Environment: env}
		assert.False(t, cfg.IsProduction())
	}
}

// --- validate ---

func TestValidate_EmptyAPIHost(t *testing.T) {
	cfg := &Config{PushHost: "h", MessagePageSize: 1}

	err := cfg.validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DM_API_HOST")
}

func TestValidate_EmptyPushHost(t *testing.T) {
	cfg := &Config{APIHost: "h", MessagePageSize: 1}

	err := cfg.validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DM_PUSH_HOST")
}
