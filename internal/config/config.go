// Package config loads runtime settings from the environment (and an optional .env file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP settings
	Port               string
	CORSAllowedOrigins []string

	// Primary ensemble service
	EnsembleServiceURL    string
	EnsembleTimeout       time.Duration
	EnsembleRetryAttempts int

	// Backup verdict providers (an empty key disables the provider)
	OpenAIAPIKey      string
	OpenAIModel       string
	GroqAPIKey        string
	GroqModel         string
	HuggingFaceAPIKey string
	HuggingFaceModel  string
	GeminiAPIKey      string
	GeminiModel       string

	// Search providers
	GoogleSearchAPIKey   string
	GoogleSearchEngineID string
	SerperAPIKey         string
	SearchCacheTTL       time.Duration

	// Soft per-process call budgets
	Limits map[string]int

	// Verdict policy
	TrustedCap              int     // confidence cap for trusted domains
	TrustedGovCap           int     // cap when government language is present
	TrustedAdjustThreshold  int     // only verdicts above this confidence are capped
	SnippetConfidenceFactor float64 // applied to snippet-only topic analyses
	MaxBackupProviders      int
	EnableWebVerification   bool
	TrustedDomainsPath      string // optional YAML override of the allowlist

	// RSS settings
	FeedsConfigPath string
	FeedTimeout     time.Duration
	FeedItemLimit   int
	TopicWorkers    int // concurrent topic analyses, 0 means unbounded

	// Extraction settings
	ExtractTimeout      time.Duration
	ExtractMaxRedirects int

	// App settings
	Debug bool
}

// Provider names used as usage-tracker keys.
const (
	ProviderEnsemble     = "ensemble"
	ProviderOpenAI       = "openai"
	ProviderGroq         = "groq"
	ProviderHuggingFace  = "huggingface"
	ProviderGemini       = "gemini"
	ProviderGoogleSearch = "google_search"
	ProviderSerper       = "serper"
)

// DefaultLimits are the soft call budgets per process lifetime.
func DefaultLimits() map[string]int {
	return map[string]int{
		ProviderEnsemble:     0, // 0 = unlimited
		ProviderOpenAI:       100,
		ProviderGroq:         1000,
		ProviderHuggingFace:  1000,
		ProviderGemini:       50,
		ProviderGoogleSearch: 100,
		ProviderSerper:       2500,
	}
}

func Load() (*Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	cfg := &Config{
		// Default values
		Port:                    "5000",
		CORSAllowedOrigins:      []string{"*"},
		EnsembleServiceURL:      "http://localhost:5001",
		EnsembleTimeout:         30 * time.Second,
		EnsembleRetryAttempts:   1,
		OpenAIModel:             "gpt-3.5-turbo",
		GroqModel:               "llama-3.1-8b-instant",
		HuggingFaceModel:        "facebook/bart-large-mnli",
		GeminiModel:             "gemini-1.5-flash",
		SearchCacheTTL:          10 * time.Minute,
		Limits:                  DefaultLimits(),
		TrustedCap:              70,
		TrustedGovCap:           60,
		TrustedAdjustThreshold:  75,
		SnippetConfidenceFactor: 0.9,
		MaxBackupProviders:      3,
		EnableWebVerification:   true,
		FeedsConfigPath:         "configs/feeds.yaml",
		FeedTimeout:             8 * time.Second,
		FeedItemLimit:           10,
		TopicWorkers:            8,
		ExtractTimeout:          10 * time.Second,
		ExtractMaxRedirects:     3,
	}

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORSAllowedOrigins = splitList(origins)
	}

	cfg.EnsembleServiceURL = strings.TrimRight(getEnvOrDefault("ENSEMBLE_SERVICE_URL", cfg.EnsembleServiceURL), "/")
	cfg.EnsembleTimeout = getEnvDurationOrDefault("ENSEMBLE_TIMEOUT", cfg.EnsembleTimeout)
	cfg.EnsembleRetryAttempts = getEnvIntOrDefault("ENSEMBLE_RETRY_ATTEMPTS", cfg.EnsembleRetryAttempts)

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.GroqModel = getEnvOrDefault("GROQ_MODEL", cfg.GroqModel)
	cfg.HuggingFaceAPIKey = os.Getenv("HUGGINGFACE_API_KEY")
	cfg.HuggingFaceModel = getEnvOrDefault("HUGGINGFACE_MODEL", cfg.HuggingFaceModel)
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvOrDefault("GEMINI_MODEL", cfg.GeminiModel)

	cfg.GoogleSearchAPIKey = os.Getenv("GOOGLE_SEARCH_API_KEY")
	cfg.GoogleSearchEngineID = os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	cfg.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	cfg.SearchCacheTTL = getEnvDurationOrDefault("SEARCH_CACHE_TTL", cfg.SearchCacheTTL)

	for name := range cfg.Limits {
		key := strings.ToUpper(name) + "_LIMIT"
		cfg.Limits[name] = getEnvIntOrDefault(key, cfg.Limits[name])
	}

	cfg.TrustedCap = getEnvIntOrDefault("TRUSTED_CAP", cfg.TrustedCap)
	cfg.TrustedGovCap = getEnvIntOrDefault("TRUSTED_GOV_CAP", cfg.TrustedGovCap)
	cfg.TrustedAdjustThreshold = getEnvIntOrDefault("TRUSTED_ADJUST_THRESHOLD", cfg.TrustedAdjustThreshold)
	if v := os.Getenv("SNIPPET_CONFIDENCE_FACTOR"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SnippetConfidenceFactor = val
		}
	}
	cfg.MaxBackupProviders = getEnvIntOrDefault("MAX_BACKUP_PROVIDERS", cfg.MaxBackupProviders)
	if v := os.Getenv("ENABLE_WEB_VERIFICATION"); v != "" {
		cfg.EnableWebVerification = v == "true"
	}
	cfg.TrustedDomainsPath = os.Getenv("TRUSTED_DOMAINS_PATH")

	cfg.FeedsConfigPath = getEnvOrDefault("FEEDS_CONFIG_PATH", cfg.FeedsConfigPath)
	cfg.FeedTimeout = getEnvDurationOrDefault("FEED_TIMEOUT", cfg.FeedTimeout)
	cfg.FeedItemLimit = getEnvIntOrDefault("FEED_ITEM_LIMIT", cfg.FeedItemLimit)
	cfg.TopicWorkers = getEnvIntOrDefault("TOPIC_WORKERS", cfg.TopicWorkers)

	cfg.ExtractTimeout = getEnvDurationOrDefault("EXTRACT_TIMEOUT", cfg.ExtractTimeout)
	cfg.ExtractMaxRedirects = getEnvIntOrDefault("EXTRACT_MAX_REDIRECTS", cfg.ExtractMaxRedirects)

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects settings that cannot work. Missing API keys are not
// errors: they only disable the matching provider.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.EnsembleRetryAttempts < 1 {
		return fmt.Errorf("ENSEMBLE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.TrustedCap < 0 || c.TrustedCap > 100 {
		return fmt.Errorf("TRUSTED_CAP must be between 0 and 100")
	}
	if c.TrustedGovCap < 0 || c.TrustedGovCap > c.TrustedCap {
		return fmt.Errorf("TRUSTED_GOV_CAP must be between 0 and TRUSTED_CAP")
	}
	if c.SnippetConfidenceFactor <= 0 || c.SnippetConfidenceFactor > 1 {
		return fmt.Errorf("SNIPPET_CONFIDENCE_FACTOR must be in (0, 1]")
	}
	if c.TopicWorkers < 0 {
		return fmt.Errorf("TOPIC_WORKERS must not be negative")
	}
	if c.MaxBackupProviders < 1 {
		return fmt.Errorf("MAX_BACKUP_PROVIDERS must be at least 1")
	}
	for name, limit := range c.Limits {
		if limit < 0 {
			return fmt.Errorf("%s_LIMIT must not be negative", strings.ToUpper(name))
		}
	}
	return nil
}

// ProviderKeys reports which providers have credentials, keyed by tracker name.
func (c *Config) ProviderKeys() map[string]bool {
	return map[string]bool{
		ProviderEnsemble:     c.EnsembleServiceURL != "",
		ProviderOpenAI:       c.OpenAIAPIKey != "",
		ProviderGroq:         c.GroqAPIKey != "",
		ProviderHuggingFace:  c.HuggingFaceAPIKey != "",
		ProviderGemini:       c.GeminiAPIKey != "",
		ProviderGoogleSearch: c.GoogleSearchAPIKey != "" && c.GoogleSearchEngineID != "",
		ProviderSerper:       c.SerperAPIKey != "",
	}
}
