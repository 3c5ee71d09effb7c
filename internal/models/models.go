// Package models holds the request-scoped data shapes shared across packages.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Canonical verdict labels.
const (
	LabelTrustworthy   = "Trustworthy"
	LabelUntrustworthy = "Untrustworthy"
)

// NormalizeLabel maps provider vocabularies onto the two canonical labels.
// Unknown labels are returned unchanged with ok=false.
func NormalizeLabel(label string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "real", "reliable", "trustworthy", "true", "reliable news":
		return LabelTrustworthy, true
	case "fake", "unreliable", "untrustworthy", "false", "fake news":
		return LabelUntrustworthy, true
	}
	return label, false
}

// ArticleInput is the body of an analyze request. URL wins when both URL and
// Text are present.
type ArticleInput struct {
	URL   string `json:"url,omitempty"`
	Text  string `json:"text,omitempty"`
	Title string `json:"title,omitempty"`
}

type ExtractedContent struct {
	Title            string `json:"title"`
	Body             string `json:"body"`
	ExtractionMethod string `json:"extractionMethod"`
	WordCount        int    `json:"wordCount"`
	CharCount        int    `json:"charCount"`
}

// Probabilities are percentages; Fake+Real is 100 within rounding.
type Probabilities struct {
	Fake float64 `json:"fake"`
	Real float64 `json:"real"`
}

type ProviderVerdict struct {
	Label           string         `json:"label"`
	Confidence      int            `json:"confidence"`
	Reasoning       string         `json:"reasoning"`
	Summary         string         `json:"summary,omitempty"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model,omitempty"`
	Probabilities   *Probabilities `json:"probabilities,omitempty"`
	EnsembleDetails map[string]any `json:"ensembleDetails,omitempty"`
}

// EnsembleResult is the single verdict produced for one article.
type EnsembleResult struct {
	Label           string         `json:"label"`
	Confidence      int            `json:"confidence"`
	Reasoning       string         `json:"reasoning"`
	Summary         string         `json:"summary"`
	Probabilities   Probabilities  `json:"probabilities"`
	Model           string         `json:"model"`
	EnsembleDetails map[string]any `json:"ensembleDetails,omitempty"`
	// Path is "primary" or "backup".
	Path     string `json:"-"`
	Adjusted bool   `json:"-"`
}

type Usage struct {
	CallsUsed  int  `json:"calls_used"`
	Limit      int  `json:"limit"`
	Remaining  int  `json:"remaining"`
	Configured bool `json:"configured"`
}

type FeedArticle struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Snippet string    `json:"snippet"`
	PubDate time.Time `json:"pubDate"`
	Source  string    `json:"source"`
	Domain  string    `json:"domain"`
}

type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Domain  string `json:"domain"`
	Trusted bool   `json:"trusted"`
}

type WebVerification struct {
	Performed           bool           `json:"performed"`
	Provider            string         `json:"provider,omitempty"`
	Query               string         `json:"query,omitempty"`
	TrustedSources      int            `json:"trustedSources"`
	TotalResults        int            `json:"totalResults"`
	VerificationScore   float64        `json:"verificationScore"`
	TrustedDomainsFound []string       `json:"trustedDomainsFound"`
	Results             []SearchResult `json:"results"`
	Error               string         `json:"error,omitempty"`
}

type TopicAnalysis struct {
	Label      string `json:"label"`
	Confidence int    `json:"confidence"`
	Summary    string `json:"summary"`
	Reasoning  string `json:"reasoning"`
	IsTrusted  bool   `json:"isTrusted"`
	TrustScore int    `json:"trustScore"`
	ModelUsed  string `json:"modelUsed"`
}

type SourceCredibility struct {
	Domain           string `json:"domain"`
	IsTrustedDomain  bool   `json:"isTrustedDomain"`
	CredibilityScore int    `json:"credibilityScore"`
}

// Analysis modes for topic articles.
const (
	ModeFull    = "rss_full"
	ModeSnippet = "rss_snippet"
)

type TopicArticle struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	URL               string            `json:"url"`
	Source            string            `json:"source"`
	Domain            string            `json:"domain"`
	Snippet           string            `json:"snippet"`
	PublishedDate     time.Time         `json:"publishedDate"`
	Analysis          TopicAnalysis     `json:"analysis"`
	SourceCredibility SourceCredibility `json:"sourceCredibility"`
	ExtractedContent  string            `json:"extractedContent"`
	AnalysisMode      string            `json:"analysisMode"`
	WordCount         int               `json:"wordCount"`
}

type AnalysisMethods struct {
	FullContent int `json:"fullContent"`
	SnippetOnly int `json:"snippetOnly"`
}

type TopicStats struct {
	SearchTopic           string          `json:"searchTopic"`
	TotalRSSArticles      int             `json:"totalRSSArticles"`
	TopicRelevant         int             `json:"topicRelevant"`
	TotalAnalyzed         int             `json:"totalAnalyzed"`
	TrustedFound          int             `json:"trustedFound"`
	UntrustedFiltered     int             `json:"untrustedFiltered"`
	AverageConfidence     int             `json:"averageConfidence"`
	HighConfidenceCount   int             `json:"highConfidenceCount"`
	MediumConfidenceCount int             `json:"mediumConfidenceCount"`
	RSSSources            int             `json:"rssSources"`
	AnalysisFailures      int             `json:"analysisFailures"`
	AnalysisMethods       AnalysisMethods `json:"analysisMethods"`
}

// FeedbackContent is the usual shape of feedback content. Clients may send
// anything else, which is logged as-is.
type FeedbackContent struct {
	URL           string  `json:"url,omitempty"`
	Feedback      string  `json:"feedback,omitempty"`
	OriginalLabel string  `json:"originalLabel,omitempty"`
	UserLabel     string  `json:"userLabel,omitempty"`
	Evidence      string  `json:"evidence,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	Model         string  `json:"model,omitempty"`
	RequestID     string  `json:"request_id,omitempty"`
}

type Feedback struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}
