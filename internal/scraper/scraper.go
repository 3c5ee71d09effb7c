package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/models"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrInsufficientContent = errors.New("insufficient content")
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	noTitle        = "No title available"
	maxTitleChars  = 200
	minParagraph   = 30
	minWords       = 20
	minChars       = 100
	DirectTextMax  = 4000
	defaultTimeout = 10 * time.Second
)

// Limits bound the body accepted from a page. Call sites differ: analysis
// accepts a shorter container than topic search does.
type Limits struct {
	MinBodyChars int
	MaxBodyChars int
}

var (
	AnalysisLimits = Limits{MinBodyChars: 150, MaxBodyChars: 3000}
	TopicLimits    = Limits{MinBodyChars: 200, MaxBodyChars: 3000}
)

// Boilerplate removed before any text is read.
var removeSelectors = []string{
	"script, style, nav, header, footer, aside, noscript, iframe",
	".advertisement, .ads, .ad, .promo, .social-share, .social, .share",
	".comments, .related-articles, .sidebar, .newsletter, .subscription",
	".menu, .navigation, .trending, .recommended",
}

// Content containers, most specific first.
var contentSelectors = []string{
	"article .content, article .body, article .text",
	".article-body, .article-content, .article-text",
	".story-content, .story-body, .story-text",
	".post-content, .post-body, .post-text",
	".entry-content, .entry-body",
	`[data-module="ArticleBody"]`,
	"main article, main .content",
	".content .text, .main-content",
	"article",
	".content",
	"main",
}

// Site suffixes like " | BBC News" or " - Reuters". A bare hyphen inside a
// word ("Covid-19") or an en dash in a range ("2024–2025") is not a separator.
var titleSuffix = regexp.MustCompile(`(\s*\|\s*|\s+[-–]\s+).*$`)

var whitespace = regexp.MustCompile(`\s+`)

type Extractor struct {
	client *http.Client
}

// NewExtractor builds an extractor whose client follows at most maxRedirects.
func NewExtractor(timeout time.Duration, maxRedirects int) *Extractor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Extractor{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// ValidateURL rejects anything that is not an absolute http(s) URL.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "#" || len(raw) < 10 {
		return fmt.Errorf("%w: URL is missing or too short", ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format: %s", ErrInvalidInput, raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: URL must be http or https: %s", ErrInvalidInput, raw)
	}
	return nil
}

// Extract fetches rawURL and returns its cleaned title and body. There are
// no retries: a failed fetch or quality gate is terminal for the request.
func (e *Extractor) Extract(ctx context.Context, rawURL string, limits Limits) (*models.ExtractedContent, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	logger.Debug("Extracting content", "url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(rawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: error loading page: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP error: %d", ErrExtractionFailed, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: error parsing HTML: %v", ErrExtractionFailed, err)
	}

	content, err := ExtractFromDocument(doc, limits)
	if err != nil {
		logger.Warn("Content extraction rejected", "url", rawURL, "error", err)
		return nil, err
	}

	logger.Info("Content extracted",
		"url", rawURL,
		"method", content.ExtractionMethod,
		"words", content.WordCount,
		"chars", content.CharCount)

	return content, nil
}

// ExtractFromDocument runs the boilerplate removal, title and body steps on
// an already-parsed page.
func ExtractFromDocument(doc *goquery.Document, limits Limits) (*models.ExtractedContent, error) {
	for _, sel := range removeSelectors {
		doc.Find(sel).Remove()
	}

	title := extractTitle(doc)
	body, method := extractBody(doc, limits.MinBodyChars)
	body = CleanText(body, limits.MaxBodyChars)

	words, chars := Counts(body)
	if words <= minWords || chars <= minChars {
		return nil, fmt.Errorf("%w (%d words, %d chars)", ErrInsufficientContent, words, chars)
	}

	return &models.ExtractedContent{
		Title:            title,
		Body:             body,
		ExtractionMethod: method,
		WordCount:        words,
		CharCount:        chars,
	}, nil
}

// extractTitle prefers social meta tags over the document title.
func extractTitle(doc *goquery.Document) string {
	candidates := []func() string{
		func() string { return doc.Find(`meta[property="og:title"]`).AttrOr("content", "") },
		func() string { return doc.Find(`meta[name="twitter:title"]`).AttrOr("content", "") },
		func() string { return doc.Find("title").First().Text() },
		func() string { return doc.Find("h1").First().Text() },
	}

	title := noTitle
	for _, c := range candidates {
		if t := strings.TrimSpace(c()); t != "" {
			title = t
			break
		}
	}

	return CleanTitle(title)
}

// CleanTitle strips a trailing site name and caps the length.
func CleanTitle(title string) string {
	stripped := strings.TrimSpace(titleSuffix.ReplaceAllString(title, ""))
	if stripped == "" {
		stripped = strings.TrimSpace(title)
	}
	return truncateRunes(stripped, maxTitleChars)
}

func extractBody(doc *goquery.Document, minChars int) (string, string) {
	for _, sel := range contentSelectors {
		nodes := doc.Find(sel)
		if nodes.Length() == 0 {
			continue
		}

		var sb strings.Builder
		nodes.Each(func(_ int, s *goquery.Selection) {
			sb.WriteString(s.Text())
			sb.WriteString(" ")
		})

		candidate := strings.TrimSpace(sb.String())
		if utf8.RuneCountInString(candidate) > minChars {
			return candidate, sel
		}
	}

	var paragraphs []string
	doc.Find("body p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if utf8.RuneCountInString(text) > minParagraph {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, " "), "body paragraphs"
	}

	return doc.Find("body").Text(), "body fallback"
}

// CleanText collapses whitespace, drops control characters and truncates
// to max runes (0 means no limit).
func CleanText(text string, max int) string {
	text = whitespace.ReplaceAllString(text, " ")
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if max > 0 {
		text = strings.TrimSpace(truncateRunes(text, max))
	}
	return text
}

// Counts returns the number of words longer than two characters and the
// total character count.
func Counts(text string) (words, chars int) {
	for _, w := range strings.Split(text, " ") {
		if utf8.RuneCountInString(w) > 2 {
			words++
		}
	}
	return words, utf8.RuneCountInString(text)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
