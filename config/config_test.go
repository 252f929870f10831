package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFresh(t *testing.T) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return LoadConfig()
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadFresh(t)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, 100, cfg.API.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.API.RateLimit.Burst)

	assert.Equal(t, "http://api:8080", cfg.Store.URL)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)

	assert.Equal(t, "/app/rules", cfg.Rules.Dir)
	assert.Equal(t, "git", cfg.Rules.Mode)
	assert.Equal(t, "https://github.com/SigmaHQ/sigma.git", cfg.Rules.RepoURL)
	assert.Equal(t, "master", cfg.Rules.Branch)
	assert.Equal(t, 5*time.Second, cfg.Rules.StartupDelay)
	assert.Equal(t, 3, cfg.Rules.LoadRetries)
	assert.Equal(t, 5*time.Second, cfg.Rules.LoadRetryDelay)
	assert.Equal(t, 5, cfg.Rules.StateFetchRetries)
	assert.Equal(t, 2*time.Second, cfg.Rules.StateFetchDelay)
	assert.Equal(t, 60*time.Second, cfg.Rules.RefreshInterval)
	assert.Empty(t, cfg.Rules.SynonymsFile)

	assert.Equal(t, 1000, cfg.Engine.DedupCacheSize)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SIEMBOX_API_PORT", "9100")
	t.Setenv("SIEMBOX_RULES_MODE", "external")
	t.Setenv("SIEMBOX_STORE_URL", "http://store:9000")

	cfg, err := loadFresh(t)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.API.Port)
	assert.Equal(t, "external", cfg.Rules.Mode)
	assert.Equal(t, "http://store:9000", cfg.Store.URL)
}

func TestLoadConfigRejectsInvalidPort(t *testing.T) {
	t.Setenv("SIEMBOX_API_PORT", "70000")
	_, err := loadFresh(t)
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidMode(t *testing.T) {
	t.Setenv("SIEMBOX_RULES_MODE", "ftp")
	_, err := loadFresh(t)
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadRepoScheme(t *testing.T) {
	t.Setenv("SIEMBOX_RULES_REPO_URL", "http://example.com/rules.git")
	_, err := loadFresh(t)
	assert.Error(t, err)
}

func TestLoadConfigIgnoresRepoURLInExternalMode(t *testing.T) {
	t.Setenv("SIEMBOX_RULES_MODE", "external")
	t.Setenv("SIEMBOX_RULES_REPO_URL", "http://example.com/rules.git")

	_, err := loadFresh(t)
	assert.NoError(t, err)
}

func TestLoadConfigRejectsZeroRetries(t *testing.T) {
	t.Setenv("SIEMBOX_RULES_LOAD_RETRIES", "0")
	_, err := loadFresh(t)
	assert.Error(t, err)
}

func TestLoadConfigRejectsShortRefreshInterval(t *testing.T) {
	t.Setenv("SIEMBOX_RULES_REFRESH_INTERVAL", "100ms")
	_, err := loadFresh(t)
	assert.Error(t, err)
}

func TestLoadConfigRejectsZeroDedupCache(t *testing.T) {
	t.Setenv("SIEMBOX_ENGINE_DEDUP_CACHE_SIZE", "0")
	_, err := loadFresh(t)
	assert.Error(t, err)
}
