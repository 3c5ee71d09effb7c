// Package app wires configuration, providers and services into the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deusflow/truthly/internal/analyzer"
	"github.com/deusflow/truthly/internal/api"
	"github.com/deusflow/truthly/internal/config"
	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/provider"
	"github.com/deusflow/truthly/internal/ratelimit"
	"github.com/deusflow/truthly/internal/rss"
	"github.com/deusflow/truthly/internal/scraper"
	"github.com/deusflow/truthly/internal/search"
	"github.com/deusflow/truthly/internal/topic"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	cfg     *config.Config
	tracker *ratelimit.Tracker
	gemini  *provider.Gemini
	smart   *search.Smart
	server  *api.Server
}

// New builds every component from cfg. Providers without credentials are
// created unconfigured and skipped at call time.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	tracker := ratelimit.NewTracker(cfg.Limits, cfg.ProviderKeys())

	ensemble := provider.NewEnsemble(cfg.EnsembleServiceURL, cfg.EnsembleTimeout, cfg.EnsembleRetryAttempts, tracker)
	openai := provider.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, tracker)
	groq := provider.NewGroq(cfg.GroqAPIKey, cfg.GroqModel, tracker)
	hf := provider.NewHuggingFace(cfg.HuggingFaceAPIKey, cfg.HuggingFaceModel, tracker)
	gemini, err := provider.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, tracker)
	if err != nil {
		return nil, err
	}

	google, err := search.NewGoogle(ctx, cfg.GoogleSearchAPIKey, cfg.GoogleSearchEngineID)
	if err != nil {
		gemini.Close()
		return nil, err
	}
	serper := search.NewSerper(cfg.SerperAPIKey)

	trusted, err := search.LoadTrustedDomains(cfg.TrustedDomainsPath)
	if err != nil {
		gemini.Close()
		return nil, fmt.Errorf("failed to load trusted domains: %w", err)
	}
	searchProviders := []search.Provider{google, serper}
	smart := search.NewSmart(searchProviders, tracker, trusted, cfg.SearchCacheTTL)

	feeds, err := rss.LoadFeeds(cfg.FeedsConfigPath)
	if err != nil {
		gemini.Close()
		smart.Close()
		return nil, fmt.Errorf("failed to load feeds: %w", err)
	}
	aggregator := rss.NewAggregator(feeds, cfg.FeedTimeout, cfg.FeedItemLimit)
	extractor := scraper.NewExtractor(cfg.ExtractTimeout, cfg.ExtractMaxRedirects)

	backups := []provider.VerdictProvider{openai, groq, hf, gemini}
	an := analyzer.New(ensemble, backups, extractor, smart, trusted, analyzer.Policy{
		TrustedCap:      cfg.TrustedCap,
		TrustedGovCap:   cfg.TrustedGovCap,
		AdjustThreshold: cfg.TrustedAdjustThreshold,
		SnippetFactor:   cfg.SnippetConfidenceFactor,
		MaxBackups:      cfg.MaxBackupProviders,
		WebVerification: cfg.EnableWebVerification,
	})
	topics := topic.NewService(aggregator, an, extractor)
	topics.SetWorkers(cfg.TopicWorkers)

	var probes []api.Probe
	for _, p := range append([]provider.VerdictProvider{ensemble}, backups...) {
		probes = append(probes, verdictProbe(p))
	}
	for _, p := range searchProviders {
		probes = append(probes, searchProbe(p, tracker))
	}

	feedNames := make([]string, 0, len(feeds))
	for _, f := range feeds {
		feedNames = append(feedNames, f.Name)
	}

	server := api.NewServer(":"+cfg.Port, api.Deps{
		Analyzer:       an,
		Topics:         topics,
		Verifier:       smart,
		Usage:          tracker,
		Ensemble:       ensemble,
		Probes:         probes,
		FeedNames:      feedNames,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	logConfigured(cfg)

	return &App{
		cfg:     cfg,
		tracker: tracker,
		gemini:  gemini,
		smart:   smart,
		server:  server,
	}, nil
}

// Run serves until ctx is cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// Close releases provider clients and logs final usage.
func (a *App) Close() {
	a.tracker.PrintStats()
	a.gemini.Close()
	a.smart.Close()
}

func verdictProbe(p provider.VerdictProvider) api.Probe {
	return api.Probe{
		Name: p.Name(),
		Check: func(ctx context.Context) error {
			if !p.Configured() {
				return provider.ErrNotConfigured
			}
			prober, ok := p.(provider.Prober)
			if !ok {
				return fmt.Errorf("%s: connectivity check not supported", p.Name())
			}
			return prober.Probe(ctx)
		},
	}
}

// searchProbe runs a one-result query. It spends one call of the budget.
func searchProbe(p search.Provider, usage search.Usage) api.Probe {
	return api.Probe{
		Name: p.Name(),
		Check: func(ctx context.Context) error {
			if !p.Configured() {
				return search.ErrNotConfigured
			}
			if !usage.Allow(p.Name()) {
				return fmt.Errorf("%s: soft limit reached", p.Name())
			}
			if _, err := p.Search(ctx, "test", 1); err != nil {
				return err
			}
			usage.Record(p.Name())
			return nil
		},
	}
}

func logConfigured(cfg *config.Config) {
	for name, ok := range cfg.ProviderKeys() {
		if ok {
			logger.Info("Provider configured", "provider", name, "limit", cfg.Limits[name])
		} else {
			logger.Warn("Provider not configured, it will be skipped", "provider", name)
		}
	}
}
