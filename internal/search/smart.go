// Package search wraps the web-search APIs used for source verification.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deusflow/truthly/internal/cache"
	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/metrics"
	"github.com/deusflow/truthly/internal/models"
)

var (
	ErrNotConfigured        = errors.New("search provider not configured")
	ErrUnavailable          = errors.New("search provider unavailable")
	ErrNoProvidersAvailable = errors.New("no search providers available")
)

// DefaultResultCount is how many results a verification pass asks for.
const DefaultResultCount = 10

// Provider is one web-search backend.
type Provider interface {
	Name() string
	Configured() bool
	Search(ctx context.Context, query string, n int) ([]models.SearchResult, error)
}

// Usage is the slice of the usage tracker search needs.
type Usage interface {
	Allow(name string) bool
	Record(name string)
}

type cachedResult struct {
	provider string
	results  []models.SearchResult
}

// Smart tries providers in order while they have quota and returns the
// first success. Results are cached per query when ttl > 0.
type Smart struct {
	providers []Provider
	usage     Usage
	trusted   *TrustedDomains
	cache     *cache.Cache[cachedResult]
	ttl       time.Duration
}

func NewSmart(providers []Provider, usage Usage, trusted *TrustedDomains, ttl time.Duration) *Smart {
	s := &Smart{providers: providers, usage: usage, trusted: trusted, ttl: ttl}
	if ttl > 0 {
		s.cache = cache.New[cachedResult](ttl)
	}
	return s
}

func (s *Smart) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// Order lists provider names in preference order.
func (s *Smart) Order() []string {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name())
	}
	return names
}

// Available reports whether any configured provider has quota left.
func (s *Smart) Available() bool {
	for _, p := range s.providers {
		if p.Configured() && (s.usage == nil || s.usage.Allow(p.Name())) {
			return true
		}
	}
	return false
}

// Search returns results from the first provider that succeeds, with each
// result's Trusted flag set. One attempt per provider.
func (s *Smart) Search(ctx context.Context, query string, n int) (string, []models.SearchResult, error) {
	key := cache.GenerateKey(query, fmt.Sprint(n))
	if s.cache != nil {
		if hit, ok := s.cache.Get(key); ok {
			logger.Debug("Search cache hit", "query", query, "provider", hit.provider)
			return hit.provider, hit.results, nil
		}
	}

	var errs []error
	for _, p := range s.providers {
		name := p.Name()
		if !p.Configured() {
			continue
		}
		if s.usage != nil && !s.usage.Allow(name) {
			metrics.ObserveProviderCall(name, "quota")
			continue
		}

		results, err := p.Search(ctx, query, n)
		if err != nil {
			metrics.ObserveProviderCall(name, "error")
			logger.Warn("Search provider failed", "provider", name, "error", err)
			errs = append(errs, err)
			continue
		}
		if s.usage != nil {
			s.usage.Record(name)
		}
		metrics.ObserveProviderCall(name, "success")

		s.markTrusted(results)
		logger.Info("Search complete", "provider", name, "query", query, "results", len(results))

		if s.cache != nil {
			s.cache.Set(key, cachedResult{provider: name, results: results}, s.ttl)
		}
		return name, results, nil
	}

	if len(errs) > 0 {
		return "", nil, fmt.Errorf("%w: %w", ErrNoProvidersAvailable, errors.Join(errs...))
	}
	return "", nil, ErrNoProvidersAvailable
}

func (s *Smart) markTrusted(results []models.SearchResult) {
	if s.trusted == nil {
		return
	}
	for i := range results {
		results[i].Trusted = s.trusted.IsTrusted(results[i].Link)
	}
}

// BuildQuery prefers the title; without one it uses the opening words of
// the content.
func BuildQuery(title, content string) string {
	if t := strings.TrimSpace(title); t != "" {
		r := []rune(t)
		if len(r) > 100 {
			r = r[:100]
		}
		return string(r)
	}
	words := strings.Fields(content)
	if len(words) > 12 {
		words = words[:12]
	}
	return strings.Join(words, " ")
}

// Verify searches for the query and scores how many results come from
// trusted domains.
func (s *Smart) Verify(ctx context.Context, query string) (*models.WebVerification, error) {
	provider, results, err := s.Search(ctx, query, DefaultResultCount)
	if err != nil {
		return nil, err
	}
	return Score(provider, query, results), nil
}

// Score computes the verification summary for a result set.
func Score(provider, query string, results []models.SearchResult) *models.WebVerification {
	wv := &models.WebVerification{
		Performed:           true,
		Provider:            provider,
		Query:               query,
		TotalResults:        len(results),
		TrustedDomainsFound: []string{},
		Results:             results,
	}
	if wv.Results == nil {
		wv.Results = []models.SearchResult{}
	}

	seen := make(map[string]bool)
	for _, r := range results {
		if !r.Trusted {
			continue
		}
		wv.TrustedSources++
		if !seen[r.Domain] {
			seen[r.Domain] = true
			wv.TrustedDomainsFound = append(wv.TrustedDomainsFound, r.Domain)
		}
	}

	wv.VerificationScore = float64(wv.TrustedSources) / float64(max(wv.TotalResults, 1))
	return wv
}
