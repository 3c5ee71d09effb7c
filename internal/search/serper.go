package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/deusflow/truthly/internal/models"
)

const (
	serperName = "serper"
	serperURL  = "https://google.serper.dev/search"
)

// Serper queries the serper.dev Google SERP API. Requests are paced to two
// per second.
type Serper struct {
	apiKey   string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewSerper(apiKey string) *Serper {
	return &Serper{
		apiKey:   apiKey,
		endpoint: serperURL,
		client:   &http.Client{Timeout: 8 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// WithEndpoint overrides the search URL.
func (s *Serper) WithEndpoint(endpoint string) *Serper {
	s.endpoint = endpoint
	return s
}

func (s *Serper) Name() string     { return serperName }
func (s *Serper) Configured() bool { return s.apiKey != "" }

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, query string, n int) ([]models.SearchResult, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("%s: %w", serperName, ErrNotConfigured)
	}
	if n < 1 {
		n = 10
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", serperName, ErrUnavailable, err)
	}

	payload, err := json.Marshal(map[string]any{"q": query, "num": n})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", serperName, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: status %d", serperName, ErrUnavailable, resp.StatusCode)
	}

	var out serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: %w: decode: %v", serperName, ErrUnavailable, err)
	}

	results := make([]models.SearchResult, 0, len(out.Organic))
	for _, o := range out.Organic {
		results = append(results, models.SearchResult{
			Title:   strings.TrimSpace(o.Title),
			Link:    o.Link,
			Snippet: strings.TrimSpace(o.Snippet),
			Domain:  Domain(o.Link),
		})
	}
	return results, nil
}
