package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SERPER_LIMIT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, 70, cfg.TrustedCap)
	assert.Equal(t, 60, cfg.TrustedGovCap)
	assert.Equal(t, 0.9, cfg.SnippetConfidenceFactor)
	assert.Equal(t, 3, cfg.MaxBackupProviders)
	assert.Equal(t, 8, cfg.TopicWorkers)
	assert.Equal(t, 2500, cfg.Limits[ProviderSerper])
	assert.Equal(t, 10*time.Minute, cfg.SearchCacheTTL)
	assert.False(t, cfg.ProviderKeys()[ProviderOpenAI])
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GOOGLE_SEARCH_API_KEY", "g-key")
	t.Setenv("GOOGLE_SEARCH_ENGINE_ID", "")
	t.Setenv("SERPER_LIMIT", "5")
	t.Setenv("TRUSTED_CAP", "65")
	t.Setenv("SEARCH_CACHE_TTL", "30s")
	t.Setenv("ENSEMBLE_SERVICE_URL", "http://ensemble:5001/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5, cfg.Limits[ProviderSerper])
	assert.Equal(t, 65, cfg.TrustedCap)
	assert.Equal(t, 30*time.Second, cfg.SearchCacheTTL)
	assert.Equal(t, "http://ensemble:5001", cfg.EnsembleServiceURL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)

	keys := cfg.ProviderKeys()
	assert.True(t, keys[ProviderOpenAI])
	// Google search needs both key and engine ID.
	assert.False(t, keys[ProviderGoogleSearch])
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                    "5000",
			EnsembleRetryAttempts:   1,
			TrustedCap:              70,
			TrustedGovCap:           60,
			SnippetConfidenceFactor: 0.9,
			MaxBackupProviders:      3,
			Limits:                  DefaultLimits(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"zero retry attempts", func(c *Config) { c.EnsembleRetryAttempts = 0 }, true},
		{"cap above 100", func(c *Config) { c.TrustedCap = 120 }, true},
		{"gov cap above cap", func(c *Config) { c.TrustedGovCap = 80 }, true},
		{"snippet factor zero", func(c *Config) { c.SnippetConfidenceFactor = 0 }, true},
		{"negative backups", func(c *Config) { c.MaxBackupProviders = -1 }, true},
		{"zero backups", func(c *Config) { c.MaxBackupProviders = 0 }, true},
		{"negative topic workers", func(c *Config) { c.TopicWorkers = -1 }, true},
		{"unbounded topic workers", func(c *Config) { c.TopicWorkers = 0 }, false},
		{"negative limit", func(c *Config) { c.Limits[ProviderGroq] = -3 }, true},
		{"missing keys are fine", func(c *Config) { c.OpenAIAPIKey = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
