package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/deusflow/truthly/internal/models"
)

const (
	openAIName  = "openai"
	groqName    = "groq"
	groqBaseURL = "https://api.groq.com/openai/v1"
)

// ChatConfig describes one OpenAI-compatible chat completion backend.
type ChatConfig struct {
	Name    string
	APIKey  string
	BaseURL string // empty uses the OpenAI default
	Model   string
	Timeout time.Duration
	// JSONMode asks for a JSON object reply; otherwise the reply is
	// free text with VERDICT/CONFIDENCE/SUMMARY/REASONING tokens.
	JSONMode bool
}

// Chat is a verdict provider backed by an OpenAI-compatible API.
type Chat struct {
	cfg    ChatConfig
	client *openai.Client
	usage  Usage
}

func NewChat(cfg ChatConfig, usage Usage) *Chat {
	c := &Chat{cfg: cfg, usage: usage}
	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		c.client = openai.NewClientWithConfig(oc)
	}
	return c
}

// NewOpenAI uses JSON mode against the OpenAI API.
func NewOpenAI(apiKey, model string, usage Usage) *Chat {
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return NewChat(ChatConfig{
		Name:     openAIName,
		APIKey:   apiKey,
		Model:    model,
		Timeout:  15 * time.Second,
		JSONMode: true,
	}, usage)
}

// NewGroq talks to Groq's OpenAI-compatible endpoint with a free-text prompt.
func NewGroq(apiKey, model string, usage Usage) *Chat {
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	return NewChat(ChatConfig{
		Name:    groqName,
		APIKey:  apiKey,
		BaseURL: groqBaseURL,
		Model:   model,
		Timeout: 10 * time.Second,
	}, usage)
}

func (c *Chat) Name() string     { return c.cfg.Name }
func (c *Chat) Configured() bool { return c.client != nil }

func (c *Chat) TryAnalyze(ctx context.Context, title, body string) (*models.ProviderVerdict, error) {
	if !c.Configured() {
		return nil, notConfigured(c.cfg.Name)
	}

	return guard(ctx, c.usage, c.cfg.Name, c.cfg.Timeout, func(ctx context.Context) (*models.ProviderVerdict, error) {
		req := openai.ChatCompletionRequest{
			Model: c.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: c.prompt(title, body)},
			},
			Temperature: 0.1,
			MaxTokens:   300,
		}
		if c.cfg.JSONMode {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: empty completion", ErrUnavailable)
		}

		text := strings.TrimSpace(resp.Choices[0].Message.Content)

		var v *models.ProviderVerdict
		if c.cfg.JSONMode {
			v = parseJSONVerdict(text)
		} else {
			v = ParseVerdictText(text).Verdict(DefaultConfidence)
		}
		v.Model = c.cfg.Model
		return v, nil
	})
}

func (c *Chat) prompt(title, body string) string {
	body = truncate(body, 1500)

	if c.cfg.JSONMode {
		return fmt.Sprintf(`Analyze this news content for truthfulness and reliability. Return only a JSON response.

Title: %s
Content: %s

Analyze for factual accuracy indicators, source credibility signals, language bias or manipulation and logical consistency.

Return JSON format:
{
  "label": "Trustworthy" or "Untrustworthy",
  "confidence": 0-100,
  "summary": "one or two sentence summary of the assessment",
  "reasoning": "brief explanation"
}`, title, body)
	}

	return fmt.Sprintf(`Fact-check this news content. Be concise and analytical.

Title: %s
Content: %s

Answer strictly in this format:
VERDICT: Reliable or Unreliable
CONFIDENCE: 0-100
SUMMARY: one or two sentences
REASONING: brief analysis`, title, body)
}

// Probe lists models, which does not spend completion quota.
func (c *Chat) Probe(ctx context.Context) error {
	if !c.Configured() {
		return notConfigured(c.cfg.Name)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s: %w: %v", c.cfg.Name, ErrUnavailable, err)
	}
	return nil
}
