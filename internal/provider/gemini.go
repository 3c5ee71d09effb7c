package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/deusflow/truthly/internal/models"
)

const geminiName = "gemini"

type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	usage   Usage
}

// NewGemini returns an unconfigured provider when apiKey is empty.
func NewGemini(ctx context.Context, apiKey, model string, usage Usage, opts ...option.ClientOption) (*Gemini, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	g := &Gemini{model: model, timeout: 15 * time.Second, usage: usage}
	if apiKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *Gemini) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

func (g *Gemini) Name() string     { return geminiName }
func (g *Gemini) Configured() bool { return g.client != nil }

func (g *Gemini) TryAnalyze(ctx context.Context, title, body string) (*models.ProviderVerdict, error) {
	if !g.Configured() {
		return nil, notConfigured(geminiName)
	}

	return guard(ctx, g.usage, geminiName, g.timeout, func(ctx context.Context) (*models.ProviderVerdict, error) {
		model := g.client.GenerativeModel(g.model)
		model.SetTemperature(0.1)

		resp, err := model.GenerateContent(ctx, genai.Text(geminiPrompt(title, body)))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to generate content: %v", ErrUnavailable, err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return nil, fmt.Errorf("%w: no response from Gemini", ErrUnavailable)
		}

		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}

		v := ParseVerdictText(sb.String()).Verdict(DefaultConfidence)
		v.Model = g.model
		return v, nil
	})
}

func geminiPrompt(title, content string) string {
	// Collapse whitespace and keep the prompt short
	content = strings.Join(strings.Fields(content), " ")
	const maxChars = 3000
	if utf8.RuneCountInString(content) > maxChars {
		trimmed := string([]rune(content)[:maxChars])
		if idx := strings.LastIndex(trimmed, ". "); idx > 1200 {
			trimmed = trimmed[:idx+1]
		}
		content = trimmed + " [TRUNCATED]"
	}

	return fmt.Sprintf(`You are a news credibility analyst. Judge whether this article is reliable.

ARTICLE:
Title: %s
Content: %s

Reply strictly in this format, one field per line:

VERDICT: Reliable or Unreliable
CONFIDENCE: <0-100>
SUMMARY: <one or two sentences on why>
REASONING: <the signals you used>
`, title, content)
}

// Probe lists models without spending generation quota.
func (g *Gemini) Probe(ctx context.Context) error {
	if !g.Configured() {
		return notConfigured(geminiName)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	it := g.client.ListModels(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("%s: %w: %v", geminiName, ErrUnavailable, err)
	}
	return nil
}
