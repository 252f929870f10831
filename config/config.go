package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the detection engine service.
type Config struct {
	API struct {
		Port      int `mapstructure:"port"`
		RateLimit struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	// Store is the log/alert store service that owns the authoritative
	// rule-enabled state.
	Store struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"store"`

	Rules struct {
		// Dir is the rules repository root. A "rules/" subdirectory
		// with the YAML corpus is expected beneath it.
		Dir string `mapstructure:"dir"`

		// Mode is "external" (a co-deployed process provisions Dir)
		// or "git" (the engine clones/pulls RepoURL itself).
		Mode    string `mapstructure:"mode"`
		RepoURL string `mapstructure:"repo_url"`
		Branch  string `mapstructure:"branch"`

		// StartupDelay gives a corpus-provisioning sidecar time to
		// populate Dir before the first load attempt.
		StartupDelay time.Duration `mapstructure:"startup_delay"`

		LoadRetries    int           `mapstructure:"load_retries"`
		LoadRetryDelay time.Duration `mapstructure:"load_retry_delay"`

		StateFetchRetries int           `mapstructure:"state_fetch_retries"`
		StateFetchDelay   time.Duration `mapstructure:"state_fetch_delay"`
		RefreshInterval   time.Duration `mapstructure:"refresh_interval"`

		// SynonymsFile optionally overrides the built-in Sigma-to-OCSF
		// category synonym table.
		SynonymsFile string `mapstructure:"synonyms_file"`
	} `mapstructure:"rules"`

	Engine struct {
		DedupCacheSize int `mapstructure:"dedup_cache_size"`
	} `mapstructure:"engine"`
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("api.port", 8000)
	viper.SetDefault("api.rate_limit.requests_per_second", 100)
	viper.SetDefault("api.rate_limit.burst", 200)

	viper.SetDefault("store.url", "http://api:8080")
	viper.SetDefault("store.timeout", 10*time.Second)

	viper.SetDefault("rules.dir", "/app/rules")
	viper.SetDefault("rules.mode", "git")
	viper.SetDefault("rules.repo_url", "https://github.com/SigmaHQ/sigma.git")
	viper.SetDefault("rules.branch", "master")
	viper.SetDefault("rules.startup_delay", 5*time.Second)
	viper.SetDefault("rules.load_retries", 3)
	viper.SetDefault("rules.load_retry_delay", 5*time.Second)
	viper.SetDefault("rules.state_fetch_retries", 5)
	viper.SetDefault("rules.state_fetch_delay", 2*time.Second)
	viper.SetDefault("rules.refresh_interval", 60*time.Second)
	viper.SetDefault("rules.synonyms_file", "")

	viper.SetDefault("engine.dedup_cache_size", 1000)
}

// LoadConfig reads configuration from config.yaml (optional) and the
// environment (SIEMBOX_ prefix).
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("SIEMBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig checks configuration invariants.
func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid api.port: %d", config.API.Port)
	}

	if config.Rules.Mode != "external" && config.Rules.Mode != "git" {
		return fmt.Errorf("invalid rules.mode %q: must be \"external\" or \"git\"", config.Rules.Mode)
	}

	if config.Rules.Mode == "git" {
		u, err := url.Parse(config.Rules.RepoURL)
		if err != nil {
			return fmt.Errorf("invalid rules.repo_url: %w", err)
		}
		if u.Scheme != "https" && u.Scheme != "git" {
			return fmt.Errorf("invalid rules.repo_url scheme %q: only https and git are allowed", u.Scheme)
		}
	}

	if _, err := url.Parse(config.Store.URL); err != nil {
		return fmt.Errorf("invalid store.url: %w", err)
	}

	if config.Rules.LoadRetries < 1 {
		return fmt.Errorf("rules.load_retries must be at least 1, got %d", config.Rules.LoadRetries)
	}
	if config.Rules.StateFetchRetries < 1 {
		return fmt.Errorf("rules.state_fetch_retries must be at least 1, got %d", config.Rules.StateFetchRetries)
	}
	if config.Rules.RefreshInterval < time.Second {
		return fmt.Errorf("rules.refresh_interval must be at least 1s, got %s", config.Rules.RefreshInterval)
	}
	if config.Engine.DedupCacheSize < 1 {
		return fmt.Errorf("engine.dedup_cache_size must be at least 1, got %d", config.Engine.DedupCacheSize)
	}

	return nil
}
