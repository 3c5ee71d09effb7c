// Package analyzer turns an article into one verdict. The primary ensemble
// service is asked first; when it fails, configured backup providers vote.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/metrics"
	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/provider"
	"github.com/deusflow/truthly/internal/scraper"
	"github.com/deusflow/truthly/internal/search"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrAllServicesUnavailable = errors.New("all analysis services are currently unavailable")
)

// Input sources reported back to clients.
const (
	SourceURL    = "url"
	SourceDirect = "direct"

	directTitle = "Direct text input"
	snippetNote = "RSS snippet analysis: "
)

// Extractor fetches an article page and returns its readable content.
type Extractor interface {
	Extract(ctx context.Context, rawURL string, limits scraper.Limits) (*models.ExtractedContent, error)
}

// Verifier cross-checks a query against web search results.
type Verifier interface {
	Available() bool
	Verify(ctx context.Context, query string) (*models.WebVerification, error)
}

// Policy holds the tunable numbers of the verdict chain.
type Policy struct {
	TrustedCap      int
	TrustedGovCap   int
	AdjustThreshold int
	SnippetFactor   float64
	MaxBackups      int
	WebVerification bool
}

func DefaultPolicy() Policy {
	return Policy{
		TrustedCap:      70,
		TrustedGovCap:   60,
		AdjustThreshold: 75,
		SnippetFactor:   0.9,
		MaxBackups:      3,
		WebVerification: true,
	}
}

type Analyzer struct {
	primary   provider.VerdictProvider
	backups   []provider.VerdictProvider
	extractor Extractor
	verifier  Verifier
	trusted   *search.TrustedDomains
	policy    Policy
}

// New builds an analyzer. primary, verifier and trusted may be nil.
func New(primary provider.VerdictProvider, backups []provider.VerdictProvider, extractor Extractor, verifier Verifier, trusted *search.TrustedDomains, policy Policy) *Analyzer {
	if policy.MaxBackups < 1 {
		policy.MaxBackups = 1
	}
	if policy.SnippetFactor <= 0 || policy.SnippetFactor > 1 {
		policy.SnippetFactor = 1
	}
	return &Analyzer{
		primary:   primary,
		backups:   backups,
		extractor: extractor,
		verifier:  verifier,
		trusted:   trusted,
		policy:    policy,
	}
}

// Request is one article to judge.
type Request struct {
	Title     string
	Body      string
	SourceURL string
}

// Report is the outcome of AnalyzeInput.
type Report struct {
	Title           string
	Body            string
	URL             string
	Source          string
	Extraction      *models.ExtractedContent
	Verdict         *models.EnsembleResult
	WebVerification *models.WebVerification
}

// AnalyzeInput resolves the input to a title and body, runs the verdict
// chain and, when enabled, a web verification pass. A URL takes precedence
// over text.
func (a *Analyzer) AnalyzeInput(ctx context.Context, in models.ArticleInput) (*Report, error) {
	var r Report

	switch {
	case strings.TrimSpace(in.URL) != "":
		if a.extractor == nil {
			return nil, fmt.Errorf("%w: url analysis is not available", ErrInvalidInput)
		}
		content, err := a.extractor.Extract(ctx, strings.TrimSpace(in.URL), scraper.AnalysisLimits)
		if err != nil {
			if errors.Is(err, scraper.ErrInvalidInput) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			return nil, err
		}
		r = Report{
			Title:      content.Title,
			Body:       content.Body,
			URL:        strings.TrimSpace(in.URL),
			Source:     SourceURL,
			Extraction: content,
		}

	case strings.TrimSpace(in.Text) != "":
		title := strings.TrimSpace(in.Title)
		if title == "" {
			title = directTitle
		}
		r = Report{
			Title:  title,
			Body:   scraper.CleanText(in.Text, scraper.DirectTextMax),
			Source: SourceDirect,
		}

	default:
		return nil, fmt.Errorf("%w: either url or text content is required", ErrInvalidInput)
	}

	logger.Info("Analyzing article", "title", r.Title, "source", r.Source, "chars", len(r.Body))

	verdict, err := a.Analyze(ctx, Request{Title: r.Title, Body: r.Body, SourceURL: r.URL})
	if err != nil {
		return nil, err
	}
	r.Verdict = verdict

	if a.policy.WebVerification {
		r.WebVerification = a.VerifyOnWeb(ctx, r.Title, r.Body)
	}
	return &r, nil
}

// Analyze runs the verdict chain for one article: the primary provider,
// then the backup vote when the primary fails.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*models.EnsembleResult, error) {
	start := time.Now()

	res, err := a.primaryVerdict(ctx, req)
	if err != nil {
		logger.Warn("Primary analysis failed, trying backup providers", "error", err)

		res, err = a.backupVerdict(ctx, req)
		if err != nil {
			metrics.Global.RecordAnalysis("failed", time.Since(start))
			logger.Error("All analysis services failed", "error", err)
			return nil, err
		}
	}

	metrics.Global.RecordAnalysis(res.Path, time.Since(start))
	logger.Info("Analysis complete", "path", res.Path, "label", res.Label, "confidence", res.Confidence, "elapsed", time.Since(start))
	return res, nil
}

// AnalyzeSnippet judges a short feed snippet. The verdict confidence is
// scaled down since the model saw only a fragment of the story.
func (a *Analyzer) AnalyzeSnippet(ctx context.Context, title, snippet string) (*models.EnsembleResult, error) {
	res, err := a.Analyze(ctx, Request{Title: title, Body: snippet})
	if err != nil {
		return nil, err
	}

	res.Confidence = int(math.Round(float64(res.Confidence) * a.policy.SnippetFactor))
	res.Reasoning = snippetNote + res.Reasoning
	res.Probabilities = deriveProbabilities(res.Label, res.Confidence)
	return res, nil
}

// VerifyOnWeb searches for the article and scores the trusted hits. Search
// failures never fail the analysis; they are reported in the result.
func (a *Analyzer) VerifyOnWeb(ctx context.Context, title, body string) *models.WebVerification {
	query := search.BuildQuery(title, body)
	skipped := func(reason string) *models.WebVerification {
		return &models.WebVerification{
			Query:               query,
			TrustedDomainsFound: []string{},
			Results:             []models.SearchResult{},
			Error:               reason,
		}
	}

	if a.verifier == nil || !a.verifier.Available() {
		return skipped(search.ErrNoProvidersAvailable.Error())
	}
	wv, err := a.verifier.Verify(ctx, query)
	if err != nil {
		logger.Warn("Web verification failed", "query", query, "error", err)
		return skipped(err.Error())
	}
	return wv
}

func (a *Analyzer) primaryVerdict(ctx context.Context, req Request) (*models.EnsembleResult, error) {
	if a.primary == nil || !a.primary.Configured() {
		return nil, provider.ErrNotConfigured
	}

	v, err := a.primary.TryAnalyze(ctx, req.Title, req.Body)
	if err != nil {
		return nil, err
	}
	label, ok := models.NormalizeLabel(v.Label)
	if !ok {
		return nil, fmt.Errorf("%s: %w: unrecognized label %q", a.primary.Name(), provider.ErrUnavailable, v.Label)
	}

	res := &models.EnsembleResult{
		Label:           label,
		Confidence:      clamp(v.Confidence),
		Reasoning:       v.Reasoning,
		Model:           v.Model,
		EnsembleDetails: v.EnsembleDetails,
		Path:            "primary",
	}
	a.adjustForTrustedSource(res, req)

	res.Summary = pickSummary(v.Summary, req.Title, req.Body, res.Label, res.Confidence)
	res.Probabilities = probabilities(v.Probabilities, res)
	return res, nil
}

// adjustForTrustedSource caps a confident Untrustworthy verdict on an
// article from an allowlisted outlet. Official-government reporting gets
// the lower cap.
func (a *Analyzer) adjustForTrustedSource(res *models.EnsembleResult, req Request) {
	if req.SourceURL == "" || a.trusted == nil {
		return
	}
	if res.Label != models.LabelUntrustworthy || res.Confidence <= a.policy.AdjustThreshold {
		return
	}
	domain, ok := a.trusted.Match(req.SourceURL)
	if !ok {
		return
	}

	limit := a.policy.TrustedCap
	kind := "trusted source"
	if MentionsGovernment(req.Title + " " + req.Body) {
		limit = a.policy.TrustedGovCap
		kind = "trusted source reporting official information"
	}

	from := res.Confidence
	res.Confidence = min(res.Confidence, limit)
	res.Adjusted = true
	res.Reasoning = strings.TrimSpace(fmt.Sprintf("%s [Adjusted: %s (%s); confidence lowered from %d%% to %d%%.]",
		res.Reasoning, kind, domain, from, res.Confidence))

	logger.Info("Trusted source adjustment", "domain", domain, "from", from, "to", res.Confidence)
}

func (a *Analyzer) backupVerdict(ctx context.Context, req Request) (*models.EnsembleResult, error) {
	var (
		verdicts []*models.ProviderVerdict
		errs     []error
		invoked  int
	)

	for _, p := range a.backups {
		if invoked >= a.policy.MaxBackups {
			break
		}
		if !p.Configured() {
			continue
		}

		v, err := p.TryAnalyze(ctx, req.Title, req.Body)
		if errors.Is(err, provider.ErrNotConfigured) || errors.Is(err, provider.ErrQuotaExceeded) {
			errs = append(errs, err)
			continue
		}
		invoked++
		if err != nil {
			errs = append(errs, err)
			continue
		}

		label, ok := models.NormalizeLabel(v.Label)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: unrecognized label %q", p.Name(), v.Label))
			continue
		}
		v.Label = label
		v.Confidence = clamp(v.Confidence)
		verdicts = append(verdicts, v)
	}

	if len(verdicts) == 0 {
		if len(errs) == 0 {
			return nil, ErrAllServicesUnavailable
		}
		return nil, fmt.Errorf("%w: %w", ErrAllServicesUnavailable, errors.Join(errs...))
	}

	res := combineVotes(verdicts)
	res.Summary = pickSummary(agreeingSummary(verdicts, res.Label), req.Title, req.Body, res.Label, res.Confidence)
	return res, nil
}

// combineVotes labels the article Trustworthy only on a strict majority of
// Trustworthy votes; confidence is the rounded mean of all votes.
func combineVotes(verdicts []*models.ProviderVerdict) *models.EnsembleResult {
	var trustworthy, untrustworthy, total int
	names := make([]string, 0, len(verdicts))
	predictions := make([]map[string]any, 0, len(verdicts))

	for _, v := range verdicts {
		if v.Label == models.LabelTrustworthy {
			trustworthy++
		} else {
			untrustworthy++
		}
		total += v.Confidence
		names = append(names, v.Provider)
		predictions = append(predictions, map[string]any{
			"provider":   v.Provider,
			"model":      v.Model,
			"label":      v.Label,
			"confidence": v.Confidence,
		})
	}

	label := models.LabelUntrustworthy
	if trustworthy > untrustworthy {
		label = models.LabelTrustworthy
	}
	mean := float64(total) / float64(len(verdicts))
	confidence := clamp(int(math.Round(mean)))

	reasoning := fmt.Sprintf("Backup analysis: %d trustworthy votes, %d untrustworthy votes. Average confidence: %.1f%%. Providers used: %s.",
		trustworthy, untrustworthy, mean, strings.Join(names, ", "))
	if len(verdicts) == 1 && verdicts[0].Reasoning != "" {
		reasoning += " " + verdicts[0].Reasoning
	}

	return &models.EnsembleResult{
		Label:         label,
		Confidence:    confidence,
		Reasoning:     reasoning,
		Probabilities: deriveProbabilities(label, confidence),
		Model:         "Backup-Ensemble (" + strings.Join(names, ", ") + ")",
		EnsembleDetails: map[string]any{
			"mode":                "backup",
			"total_predictions":   len(verdicts),
			"trustworthy_votes":   trustworthy,
			"untrustworthy_votes": untrustworthy,
			"predictions":         predictions,
		},
		Path: "backup",
	}
}

func agreeingSummary(verdicts []*models.ProviderVerdict, label string) string {
	for _, v := range verdicts {
		if v.Label == label && v.Summary != "" {
			return v.Summary
		}
	}
	return ""
}

// probabilities keeps the provider's split when it is usable and the
// verdict was not adjusted; otherwise it derives one from the verdict.
func probabilities(p *models.Probabilities, res *models.EnsembleResult) models.Probabilities {
	if p != nil && !res.Adjusted && math.Abs(p.Fake+p.Real-100) <= 1 {
		return *p
	}
	return deriveProbabilities(res.Label, res.Confidence)
}

func deriveProbabilities(label string, confidence int) models.Probabilities {
	c := float64(clamp(confidence))
	if label == models.LabelTrustworthy {
		return models.Probabilities{Real: c, Fake: 100 - c}
	}
	return models.Probabilities{Fake: c, Real: 100 - c}
}

func clamp(c int) int {
	return max(0, min(100, c))
}
