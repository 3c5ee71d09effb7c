package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/metrics"
	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/search"
	"github.com/deusflow/truthly/internal/topic"
)

type extractionInfo struct {
	ExtractedLength int    `json:"extractedLength,omitempty"`
	WordCount       int    `json:"wordCount,omitempty"`
	Method          string `json:"method,omitempty"`
}

type analyzeData struct {
	Title           string                  `json:"title"`
	URL             *string                 `json:"url"`
	Label           string                  `json:"label"`
	Confidence      int                     `json:"confidence"`
	Summary         string                  `json:"summary"`
	Reasoning       string                  `json:"reasoning"`
	Probabilities   models.Probabilities    `json:"probabilities"`
	Model           string                  `json:"model"`
	AnalyzedAt      time.Time               `json:"analyzedAt"`
	Source          string                  `json:"source"`
	ExtractionInfo  extractionInfo          `json:"extractionInfo"`
	WebVerification *models.WebVerification `json:"webVerification,omitempty"`
	EnsembleDetails map[string]any          `json:"ensembleDetails,omitempty"`
	APIUsage        map[string]models.Usage `json:"apiUsage"`
	TrackingInfo    map[string]string       `json:"tracking_info"`
}

// handleAnalyze judges one article given as a URL or as raw text.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var in models.ArticleInput
	if err := decodeBody(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(in.URL) == "" && strings.TrimSpace(in.Text) == "" {
		respondError(w, http.StatusBadRequest, "Either URL or text content is required")
		return
	}

	requestID := uuid.NewString()
	log := logger.With("request_id", requestID)
	// Upstream calls finish even if the client goes away.
	ctx := context.WithoutCancel(r.Context())

	report, err := s.deps.Analyzer.AnalyzeInput(ctx, in)
	if err != nil {
		log.Warn("Analysis failed", "error", err)
		respondFailure(w, err)
		return
	}
	metrics.Global.SetHealthy()

	v := report.Verdict
	data := analyzeData{
		Title:           report.Title,
		Label:           v.Label,
		Confidence:      v.Confidence,
		Summary:         v.Summary,
		Reasoning:       v.Reasoning,
		Probabilities:   v.Probabilities,
		Model:           v.Model,
		AnalyzedAt:      time.Now().UTC(),
		Source:          report.Source,
		WebVerification: report.WebVerification,
		EnsembleDetails: v.EnsembleDetails,
		APIUsage:        s.usage(),
		TrackingInfo:    map[string]string{"request_id": requestID},
	}
	if report.URL != "" {
		data.URL = &report.URL
	}
	if ex := report.Extraction; ex != nil {
		data.ExtractionInfo = extractionInfo{
			ExtractedLength: ex.CharCount,
			WordCount:       ex.WordCount,
			Method:          ex.ExtractionMethod,
		}
	}

	log.Info("Analysis served", "label", v.Label, "confidence", v.Confidence, "path", v.Path)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

type searchTopicRequest struct {
	Topic         string `json:"topic"`
	MaxResults    *int   `json:"maxResults"`
	MinConfidence *int   `json:"minConfidence"`
}

func (s *Server) handleSearchTopic(w http.ResponseWriter, r *http.Request) {
	var in searchTopicRequest
	if err := decodeBody(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := topic.Request{
		Topic:         in.Topic,
		MaxResults:    topic.DefaultMaxResults,
		MinConfidence: topic.DefaultMinConfidence,
	}
	if in.MaxResults != nil {
		req.MaxResults = *in.MaxResults
	}
	if in.MinConfidence != nil {
		req.MinConfidence = *in.MinConfidence
	}

	res, err := s.deps.Topics.Search(context.WithoutCancel(r.Context()), req)
	if err != nil {
		respondFailure(w, err)
		return
	}

	articles := res.Articles
	if articles == nil {
		articles = []models.TopicArticle{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"searchType": "rss_topic",
		"topic":      res.Topic,
		"articles":   articles,
		"stats":      res.Stats,
		"filters": map[string]int{
			"minConfidence": res.MinConfidence,
			"maxResults":    res.MaxResults,
		},
		"timestamp": time.Now().UTC(),
		"message":   res.Message,
	})
}

type webVerifyRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleWebVerify(w http.ResponseWriter, r *http.Request) {
	var in webVerifyRequest
	if err := decodeBody(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query := search.BuildQuery(in.Title, in.Content)
	if query == "" {
		respondError(w, http.StatusBadRequest, "Title or content is required")
		return
	}
	if s.deps.Verifier == nil || !s.deps.Verifier.Available() {
		respondFailure(w, search.ErrNoProvidersAvailable)
		return
	}

	wv, err := s.deps.Verifier.Verify(context.WithoutCancel(r.Context()), query)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": wv})
}

// handleHealth reports configuration and usage. It never calls a paid API.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var ensemble any = "unavailable"
	if s.deps.Ensemble != nil {
		if h, err := s.deps.Ensemble.Health(r.Context()); err == nil {
			ensemble = h
		} else {
			logger.Debug("Ensemble health check failed", "error", err)
		}
	}

	providers := make(map[string]map[string]any)
	for name, u := range s.usage() {
		providers[name] = map[string]any{
			"configured": u.Configured,
			"calls_used": u.CallsUsed,
			"limit":      u.Limit,
		}
	}

	webVerification := s.deps.Verifier != nil && s.deps.Verifier.Available()
	feeds := s.deps.FeedNames
	if feeds == nil {
		feeds = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"backend":          "healthy",
		"ensemble_service": ensemble,
		"providers":        providers,
		"rss_sources":      len(feeds),
		"capabilities": map[string]any{
			"url_analysis":     true,
			"text_analysis":    true,
			"rss_topic_search": true,
			"web_verification": webVerification,
			"trusted_sources":  feeds,
		},
		"stats":     metrics.Global.GetStats(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearchUsage(w http.ResponseWriter, r *http.Request) {
	var order []string
	if s.deps.Verifier != nil {
		order = s.deps.Verifier.Order()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"usage":           s.usage(),
		"preferred_order": order,
		"timestamp":       time.Now().UTC(),
	})
}

type probeResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// handleTestAPIs probes every provider concurrently.
func (s *Server) handleTestAPIs(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(s.deps.Probes))
		g       errgroup.Group
	)
	for _, p := range s.deps.Probes {
		g.Go(func() error {
			res := probeResult{Success: true}
			if err := p.Check(ctx); err != nil {
				res = probeResult{Error: err.Error()}
			}
			mu.Lock()
			results[p.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"results":   results,
		"timestamp": time.Now().UTC(),
	})
}

// handleFeedback logs whatever the client sends. Only a body that is not
// JSON at all is rejected.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := uuid.NewString()
	metrics.Global.IncrementFeedback()
	logger.Info("Feedback received", append([]any{"feedback_id", id}, feedbackAttrs(raw)...)...)

	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"feedbackId": id,
		"message":    "Feedback received",
	})
}

// feedbackAttrs pulls the known fields out of a feedback body and falls back
// to the raw JSON for anything else.
func feedbackAttrs(raw json.RawMessage) []any {
	var fb models.Feedback
	if err := json.Unmarshal(raw, &fb); err != nil {
		return []any{"raw", string(raw)}
	}

	var c models.FeedbackContent
	if err := json.Unmarshal(fb.Content, &c); err != nil {
		return []any{"type", fb.Type, "content", string(fb.Content)}
	}
	return []any{
		"type", fb.Type,
		"url", c.URL,
		"original_label", c.OriginalLabel,
		"user_label", c.UserLabel,
		"confidence", c.Confidence,
		"request_id", c.RequestID,
	}
}

func (s *Server) usage() map[string]models.Usage {
	if s.deps.Usage == nil {
		return map[string]models.Usage{}
	}
	return s.deps.Usage.Snapshot()
}
