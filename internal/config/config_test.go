package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"listen": "0.0.0.0:9000",
		"timezone": "Europe/Amsterdam",
		"accounts": [
			{"name": "icloud", "url": "https://caldav.icloud.com/", "username": "user@example.com", "password": "app-pass"}
		]
	}`)

	config, err := LoadConfig(path, "", "")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", config.Listen)
	assert.Equal(t, "Europe/Amsterdam", config.Timezone)
	require.Len(t, config.Accounts, 1)
	assert.Equal(t, "icloud", config.Accounts[0].Name)
	assert.Equal(t, DefaultDaysToSync, config.Accounts[0].DaysToSync)
	assert.True(t, config.Accounts[0].AutoRefreshEnabled())
}

func TestLoadConfig_EnvAccount(t *testing.T) {
	t.Setenv("CALDAV_URL", "https://dav.example.com/")
	t.Setenv("CALDAV_USERNAME", "env-user")
	t.Setenv("CALDAV_PASSWORD", "env-pass")
	t.Setenv("CALDAV_DAYS_TO_SYNC", "14")

	config, err := LoadConfig("", "", "")
	require.NoError(t, err)

	require.Len(t, config.Accounts, 1)
	assert.Equal(t, "default", config.Accounts[0].Name)
	assert.Equal(t, 14, config.Accounts[0].DaysToSync)
	assert.Equal(t, DefaultListen, config.Listen)
	assert.Equal(t, DefaultRefreshCron, config.RefreshCron)
}

func TestLoadConfig_FlagOverridesEnv(t *testing.T) {
	t.Setenv("CALAGENDA_LISTEN", "127.0.0.1:1111")
	t.Setenv("CALDAV_URL", "https://dav.example.com/")
	t.Setenv("CALDAV_USERNAME", "user")
	t.Setenv("CALDAV_PASSWORD", "pass")

	config, err := LoadConfig("", "127.0.0.1:2222", "UTC")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:2222", config.Listen)
	assert.Equal(t, "UTC", config.Timezone)
}

func TestLoadConfig_NoAccounts(t *testing.T) {
	_, err := LoadConfig("", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one account")
}

func TestLoadConfig_DaysToSyncRange(t *testing.T) {
	path := writeConfigFile(t, `{
		"accounts": [
			{"name": "a", "url": "https://dav.example.com/", "username": "u", "password": "p", "days_to_sync": 31}
		]
	}`)

	_, err := LoadConfig(path, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "days_to_sync")
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	path := writeConfigFile(t, `{
		"accounts": [
			{"name": "a", "url": "https://dav.example.com/", "username": "u"}
		]
	}`)

	_, err := LoadConfig(path, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestLoadConfig_DuplicateNames(t *testing.T) {
	path := writeConfigFile(t, `{
		"accounts": [
			{"name": "a", "url": "https://one.example.com/", "username": "u", "password": "p"},
			{"name": "a", "url": "https://two.example.com/", "username": "u", "password": "p"}
		]
	}`)

	_, err := LoadConfig(path, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate account name")
}

func TestLocation(t *testing.T) {
	config := &Config{Timezone: "America/New_York"}
	loc, err := config.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	config.Timezone = "Not/AZone"
	_, err = config.Location()
	require.Error(t, err)
}
