package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/retry"
)

const ensembleName = "ensemble"

// Ensemble calls the external ensemble classification service.
type Ensemble struct {
	baseURL  string
	timeout  time.Duration
	attempts int
	client   *http.Client
	usage    Usage
}

func NewEnsemble(baseURL string, timeout time.Duration, attempts int, usage Usage) *Ensemble {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ensemble{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
		attempts: attempts,
		client:   &http.Client{},
		usage:    usage,
	}
}

func (e *Ensemble) Name() string     { return ensembleName }
func (e *Ensemble) Configured() bool { return e.baseURL != "" }

type ensembleRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type ensembleResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Analysis *struct {
		Label           string         `json:"label"`
		Confidence      float64        `json:"confidence"`
		Summary         string         `json:"summary"`
		Reasoning       string         `json:"reasoning"`
		Model           string         `json:"model"`
		RealProbability *float64       `json:"real_probability"`
		FakeProbability *float64       `json:"fake_probability"`
		EnsembleDetails map[string]any `json:"ensemble_details"`
	} `json:"analysis"`
}

func (e *Ensemble) TryAnalyze(ctx context.Context, title, body string) (*models.ProviderVerdict, error) {
	if !e.Configured() {
		return nil, notConfigured(ensembleName)
	}

	attempts := max(e.attempts, 1)
	// Room for every attempt plus the linear backoff between them.
	budget := e.timeout*time.Duration(attempts) + time.Duration(attempts*(attempts-1)/2)*time.Second

	return guard(ctx, e.usage, ensembleName, budget, func(ctx context.Context) (*models.ProviderVerdict, error) {
		var v *models.ProviderVerdict
		err := retry.WithRetry(ctx, retry.RetryConfig{
			MaxAttempts: attempts,
			Delay:       time.Second,
			Backoff:     true,
			ShouldRetry: func(err error) bool { return ctx.Err() == nil },
		}, func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			var err error
			v, err = e.analyze(callCtx, title, body)
			return err
		})
		return v, err
	})
}

func (e *Ensemble) analyze(ctx context.Context, title, body string) (*models.ProviderVerdict, error) {
	payload, err := json.Marshal(ensembleRequest{Title: title, Content: body})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: ensemble returned %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out ensembleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode ensemble response: %v", ErrUnavailable, err)
	}
	if !out.Success || out.Analysis == nil {
		msg := out.Error
		if msg == "" {
			msg = "analysis service failed"
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}

	a := out.Analysis
	label, ok := models.NormalizeLabel(a.Label)
	if !ok {
		return nil, fmt.Errorf("%w: unknown label %q", ErrUnavailable, a.Label)
	}

	model := a.Model
	if model == "" {
		model = "Comprehensive-Ensemble"
	}

	v := &models.ProviderVerdict{
		Label:           label,
		Confidence:      clampConfidence(a.Confidence),
		Summary:         a.Summary,
		Reasoning:       a.Reasoning,
		Model:           model,
		EnsembleDetails: a.EnsembleDetails,
	}
	if a.RealProbability != nil && a.FakeProbability != nil {
		v.Probabilities = &models.Probabilities{Real: *a.RealProbability, Fake: *a.FakeProbability}
	}
	return v, nil
}

// Health returns the ensemble service's own health document.
func (e *Ensemble) Health(ctx context.Context) (map[string]any, error) {
	if !e.Configured() {
		return nil, notConfigured(ensembleName)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: health returned %d", ErrUnavailable, resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{"status": "ok"}, nil
		}
		return nil, fmt.Errorf("%w: decode health: %v", ErrUnavailable, err)
	}
	return doc, nil
}

func (e *Ensemble) Probe(ctx context.Context) error {
	_, err := e.Health(ctx)
	return err
}
