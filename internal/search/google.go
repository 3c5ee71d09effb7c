package search

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/deusflow/truthly/internal/models"
)

const googleName = "google_search"

// Google queries the Custom Search JSON API.
type Google struct {
	svc      *customsearch.Service
	engineID string
	timeout  time.Duration
}

// NewGoogle needs both an API key and a search engine ID; without either
// it returns an unconfigured client.
func NewGoogle(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*Google, error) {
	g := &Google{engineID: engineID, timeout: 10 * time.Second}
	if apiKey == "" || engineID == "" {
		return g, nil
	}

	svc, err := customsearch.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search client: %w", err)
	}
	g.svc = svc
	return g, nil
}

func (g *Google) Name() string     { return googleName }
func (g *Google) Configured() bool { return g.svc != nil }

func (g *Google) Search(ctx context.Context, query string, n int) ([]models.SearchResult, error) {
	if !g.Configured() {
		return nil, fmt.Errorf("%s: %w", googleName, ErrNotConfigured)
	}
	if n < 1 || n > 10 {
		n = 10 // API maximum per page
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.svc.Cse.List().Cx(g.engineID).Q(query).Num(int64(n)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", googleName, ErrUnavailable, err)
	}

	results := make([]models.SearchResult, 0, len(resp.Items))
	for _, it := range resp.Items {
		results = append(results, models.SearchResult{
			Title:   it.Title,
			Link:    it.Link,
			Snippet: it.Snippet,
			Domain:  Domain(it.Link),
		})
	}
	return results, nil
}
