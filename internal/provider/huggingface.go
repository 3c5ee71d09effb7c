package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deusflow/truthly/internal/models"
)

const (
	huggingFaceName    = "huggingface"
	huggingFaceBaseURL = "https://router.huggingface.co/hf-inference/models"
	huggingFaceWhoAmI  = "https://huggingface.co/api/whoami-v2"

	labelReliable = "reliable news"
	labelFake     = "fake news"
)

// HuggingFace runs zero-shot classification with reliable/fake candidate labels.
type HuggingFace struct {
	apiKey    string
	model     string
	baseURL   string
	whoamiURL string
	timeout   time.Duration
	client    *http.Client
	usage     Usage
}

func NewHuggingFace(apiKey, model string, usage Usage) *HuggingFace {
	if model == "" {
		model = "facebook/bart-large-mnli"
	}
	return &HuggingFace{
		apiKey:    apiKey,
		model:     model,
		baseURL:   huggingFaceBaseURL,
		whoamiURL: huggingFaceWhoAmI,
		timeout:   15 * time.Second,
		client:    &http.Client{},
		usage:     usage,
	}
}

// WithBaseURL points the client at another inference host.
func (h *HuggingFace) WithBaseURL(inference, whoami string) *HuggingFace {
	h.baseURL = strings.TrimRight(inference, "/")
	h.whoamiURL = whoami
	return h
}

func (h *HuggingFace) Name() string     { return huggingFaceName }
func (h *HuggingFace) Configured() bool { return h.apiKey != "" }

type zeroShotRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		CandidateLabels []string `json:"candidate_labels"`
	} `json:"parameters"`
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (h *HuggingFace) TryAnalyze(ctx context.Context, title, body string) (*models.ProviderVerdict, error) {
	if !h.Configured() {
		return nil, notConfigured(huggingFaceName)
	}

	return guard(ctx, h.usage, huggingFaceName, h.timeout, func(ctx context.Context) (*models.ProviderVerdict, error) {
		var in zeroShotRequest
		in.Inputs = truncate(strings.TrimSpace(title+". "+body), 1000)
		in.Parameters.CandidateLabels = []string{labelReliable, labelFake}

		payload, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/"+h.model, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: huggingface returned %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(raw), 200))
		}

		scores, err := decodeZeroShot(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return zeroShotVerdict(scores, h.model)
	})
}

// decodeZeroShot accepts both the list form [{label, score}] and the older
// {labels: [], scores: []} form.
func decodeZeroShot(raw []byte) (map[string]float64, error) {
	out := make(map[string]float64)

	var list []labelScore
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, ls := range list {
			out[strings.ToLower(ls.Label)] = ls.Score
		}
		return out, nil
	}

	var legacy struct {
		Labels []string  `json:"labels"`
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("decode zero-shot response: %w", err)
	}
	if len(legacy.Labels) != len(legacy.Scores) {
		return nil, fmt.Errorf("zero-shot response has %d labels and %d scores", len(legacy.Labels), len(legacy.Scores))
	}
	for i, l := range legacy.Labels {
		out[strings.ToLower(l)] = legacy.Scores[i]
	}
	return out, nil
}

func zeroShotVerdict(scores map[string]float64, model string) (*models.ProviderVerdict, error) {
	reliable, okR := scores[labelReliable]
	fake, okF := scores[labelFake]
	if !okR && !okF {
		return nil, fmt.Errorf("%w: zero-shot response has no candidate labels", ErrUnavailable)
	}

	label, top := models.LabelTrustworthy, reliable
	if fake > reliable {
		label, top = models.LabelUntrustworthy, fake
	}

	v := &models.ProviderVerdict{
		Label:      label,
		Confidence: clampConfidence(top * 100),
		Reasoning:  fmt.Sprintf("Zero-shot classification: %.0f%% reliable news, %.0f%% fake news.", reliable*100, fake*100),
		Model:      model,
	}
	if okR && okF && reliable+fake > 0 {
		r := reliable / (reliable + fake) * 100
		v.Probabilities = &models.Probabilities{Real: r, Fake: 100 - r}
	}
	return v, nil
}

func (h *HuggingFace) Probe(ctx context.Context) error {
	if !h.Configured() {
		return notConfigured(huggingFaceName)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.whoamiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", huggingFaceName, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: whoami returned %d", huggingFaceName, ErrUnavailable, resp.StatusCode)
	}
	return nil
}
