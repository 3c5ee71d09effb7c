// Package topic searches the configured feeds for a topic and returns the
// articles the verdict chain considers trustworthy.
package topic

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/truthly/internal/analyzer"
	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/metrics"
	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/rss"
	"github.com/deusflow/truthly/internal/scraper"
)

var ErrTopicTooShort = errors.New("topic must be at least 3 characters long")

const (
	DefaultMaxResults    = 10
	DefaultMinConfidence = 70
	maxResultsCeiling    = 50
	minTopicChars        = 3
	minSnippetChars      = 20
	DefaultWorkers       = 8

	fullCredibility    = 95
	snippetCredibility = 90
	fullModel          = "Full-Content-Analysis"
	snippetModel       = "RSS-Snippet-Analysis"
)

// FeedSource supplies the articles to search.
type FeedSource interface {
	FetchAll(ctx context.Context) []models.FeedArticle
	Feeds() []rss.Feed
}

// Verdicts is the part of the analyzer topic search uses.
type Verdicts interface {
	Analyze(ctx context.Context, req analyzer.Request) (*models.EnsembleResult, error)
	AnalyzeSnippet(ctx context.Context, title, snippet string) (*models.EnsembleResult, error)
}

type Service struct {
	feeds     FeedSource
	verdicts  Verdicts
	extractor analyzer.Extractor
	workers   int
	now       func() time.Time
}

// NewService builds a topic search. extractor may be nil, in which case
// every article is judged on its snippet.
func NewService(feeds FeedSource, verdicts Verdicts, extractor analyzer.Extractor) *Service {
	return &Service{feeds: feeds, verdicts: verdicts, extractor: extractor, workers: DefaultWorkers, now: time.Now}
}

// SetWorkers bounds how many articles are analyzed at once. n <= 0 removes
// the bound.
func (s *Service) SetWorkers(n int) {
	if n <= 0 {
		n = -1
	}
	s.workers = n
}

type Request struct {
	Topic         string
	MaxResults    int
	MinConfidence int
}

type Result struct {
	Topic         string
	Articles      []models.TopicArticle
	Stats         models.TopicStats
	MaxResults    int
	MinConfidence int
	Message       string
}

// Search fetches every feed, keeps articles mentioning the topic and judges
// up to twice MaxResults of them concurrently. Only Trustworthy verdicts at
// or above MinConfidence are returned, most confident first.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	topic := strings.TrimSpace(req.Topic)
	if utf8.RuneCountInString(topic) < minTopicChars {
		return nil, ErrTopicTooShort
	}
	if req.MaxResults <= 0 {
		req.MaxResults = DefaultMaxResults
	}
	req.MaxResults = min(req.MaxResults, maxResultsCeiling)
	if req.MinConfidence < 0 {
		req.MinConfidence = DefaultMinConfidence
	}

	metrics.Global.IncrementTopicSearches()
	logger.Info("Searching feeds for topic", "topic", topic)

	all := s.feeds.FetchAll(ctx)
	relevant := rss.FilterByTopic(all, topic)
	logger.Info("Relevant articles found", "topic", topic, "total", len(all), "relevant", len(relevant))

	candidates := relevant
	if len(candidates) > req.MaxResults*2 {
		candidates = candidates[:req.MaxResults*2]
	}

	analyzed := make([]*models.TopicArticle, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, article := range candidates {
		g.Go(func() error {
			analyzed[i] = s.analyzeArticle(gctx, i, article)
			return nil
		})
	}
	_ = g.Wait()

	var valid []models.TopicArticle
	for _, a := range analyzed {
		if a != nil {
			valid = append(valid, *a)
		}
	}

	trusted := make([]models.TopicArticle, 0, len(valid))
	for _, a := range valid {
		if a.Analysis.IsTrusted && a.Analysis.Confidence >= req.MinConfidence {
			trusted = append(trusted, a)
		}
	}
	slices.SortStableFunc(trusted, func(a, b models.TopicArticle) int {
		return b.Analysis.Confidence - a.Analysis.Confidence
	})
	if len(trusted) > req.MaxResults {
		trusted = trusted[:req.MaxResults]
	}

	stats := buildStats(topic, len(all), len(relevant), valid, trusted, len(s.feeds.Feeds()))
	logger.Info("Topic search complete", "topic", topic, "trusted", stats.TrustedFound,
		"full", stats.AnalysisMethods.FullContent, "snippet", stats.AnalysisMethods.SnippetOnly)

	return &Result{
		Topic:         topic,
		Articles:      trusted,
		Stats:         stats,
		MaxResults:    req.MaxResults,
		MinConfidence: req.MinConfidence,
		Message:       message(len(trusted), topic, req.MinConfidence),
	}, nil
}

// analyzeArticle prefers the full page and falls back to the feed snippet.
// It returns nil when neither could be judged.
func (s *Service) analyzeArticle(ctx context.Context, index int, article models.FeedArticle) *models.TopicArticle {
	if s.extractor != nil && len(article.URL) > 10 && strings.HasPrefix(article.URL, "http") {
		out, err := s.analyzeFull(ctx, index, article)
		if err == nil {
			return out
		}
		logger.Warn("Full article analysis failed, using snippet", "url", article.URL, "error", err)
	}

	out, err := s.analyzeSnippet(ctx, index, article)
	if err != nil {
		logger.Warn("Snippet analysis failed", "title", article.Title, "error", err)
		return nil
	}
	return out
}

func (s *Service) analyzeFull(ctx context.Context, index int, article models.FeedArticle) (*models.TopicArticle, error) {
	content, err := s.extractor.Extract(ctx, article.URL, scraper.TopicLimits)
	if err != nil {
		return nil, err
	}
	res, err := s.verdicts.Analyze(ctx, analyzer.Request{Title: content.Title, Body: content.Body, SourceURL: article.URL})
	if err != nil {
		return nil, err
	}

	model := res.Model
	if model == "" {
		model = fullModel
	}
	return &models.TopicArticle{
		ID:                fmt.Sprintf("%s_%d_%d", models.ModeFull, s.now().UnixMilli(), index),
		Title:             content.Title,
		URL:               article.URL,
		Source:            article.Source,
		Domain:            article.Domain,
		Snippet:           prefix(content.Body, 200) + "...",
		PublishedDate:     article.PubDate,
		Analysis:          topicAnalysis(res, model),
		SourceCredibility: credibility(article.Domain, fullCredibility),
		ExtractedContent:  prefix(content.Body, 500),
		AnalysisMode:      models.ModeFull,
		WordCount:         content.WordCount,
	}, nil
}

func (s *Service) analyzeSnippet(ctx context.Context, index int, article models.FeedArticle) (*models.TopicArticle, error) {
	text := strings.TrimSpace(article.Title + ". " + article.Snippet)
	if utf8.RuneCountInString(text) < minSnippetChars {
		return nil, fmt.Errorf("snippet too short (%d chars)", utf8.RuneCountInString(text))
	}

	res, err := s.verdicts.AnalyzeSnippet(ctx, article.Title, text)
	if err != nil {
		return nil, err
	}

	url := article.URL
	if url == "" {
		url = "#"
	}
	return &models.TopicArticle{
		ID:                fmt.Sprintf("%s_%d_%d", models.ModeSnippet, s.now().UnixMilli(), index),
		Title:             article.Title,
		URL:               url,
		Source:            article.Source,
		Domain:            article.Domain,
		Snippet:           article.Snippet,
		PublishedDate:     article.PubDate,
		Analysis:          topicAnalysis(res, snippetModel),
		SourceCredibility: credibility(article.Domain, snippetCredibility),
		ExtractedContent:  text,
		AnalysisMode:      models.ModeSnippet,
		WordCount:         len(strings.Split(text, " ")),
	}, nil
}

func topicAnalysis(res *models.EnsembleResult, model string) models.TopicAnalysis {
	return models.TopicAnalysis{
		Label:      res.Label,
		Confidence: res.Confidence,
		Summary:    res.Summary,
		Reasoning:  res.Reasoning,
		IsTrusted:  res.Label == models.LabelTrustworthy,
		TrustScore: res.Confidence,
		ModelUsed:  model,
	}
}

// Every configured feed is a curated outlet, so its articles come from a
// trusted domain.
func credibility(domain string, score int) models.SourceCredibility {
	return models.SourceCredibility{Domain: domain, IsTrustedDomain: true, CredibilityScore: score}
}

func buildStats(topic string, total, relevant int, valid, trusted []models.TopicArticle, sources int) models.TopicStats {
	st := models.TopicStats{
		SearchTopic:      topic,
		TotalRSSArticles: total,
		TopicRelevant:    relevant,
		TotalAnalyzed:    len(valid),
		TrustedFound:     len(trusted),
		RSSSources:       sources,
		AnalysisFailures: relevant - len(valid),
	}

	for _, a := range valid {
		if !a.Analysis.IsTrusted {
			st.UntrustedFiltered++
		}
		switch a.AnalysisMode {
		case models.ModeFull:
			st.AnalysisMethods.FullContent++
		case models.ModeSnippet:
			st.AnalysisMethods.SnippetOnly++
		}
	}

	sum := 0
	for _, a := range trusted {
		c := a.Analysis.Confidence
		sum += c
		switch {
		case c >= 80:
			st.HighConfidenceCount++
		case c >= 70:
			st.MediumConfidenceCount++
		}
	}
	if len(trusted) > 0 {
		st.AverageConfidence = int(float64(sum)/float64(len(trusted)) + 0.5)
	}
	return st
}

func message(found int, topic string, minConfidence int) string {
	if found > 0 {
		return fmt.Sprintf("Found %d trusted articles about %q from RSS feeds", found, topic)
	}
	return fmt.Sprintf("No trusted articles found for %q with confidence >= %d%% in RSS feeds. Try a different search term.", topic, minConfidence)
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
