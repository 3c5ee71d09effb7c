package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/ratelimit"
)

func newTracker(limits map[string]int) *ratelimit.Tracker {
	return ratelimit.NewTracker(limits, nil)
}

func TestEnsemble_TryAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Headline", in["title"])
		assert.Equal(t, "Body text", in["content"])

		fmt.Fprint(w, `{"success": true, "analysis": {"label": "Real", "confidence": 87.6,
			"summary": "Consistent with agency reporting.", "reasoning": "Multiple models agree.",
			"model": "Ensemble-v2", "real_probability": 87.6, "fake_probability": 12.4,
			"ensemble_details": {"models_used": 3}}}`)
	}))
	defer srv.Close()

	tr := newTracker(nil)
	e := NewEnsemble(srv.URL+"/", time.Second, 1, tr)

	v, err := e.TryAnalyze(context.Background(), "Headline", "Body text")
	require.NoError(t, err)
	assert.Equal(t, models.LabelTrustworthy, v.Label)
	assert.Equal(t, 88, v.Confidence)
	assert.Equal(t, "ensemble", v.Provider)
	assert.Equal(t, "Ensemble-v2", v.Model)
	require.NotNil(t, v.Probabilities)
	assert.InDelta(t, 100, v.Probabilities.Real+v.Probabilities.Fake, 0.01)
	assert.Equal(t, float64(3), v.EnsembleDetails["models_used"])
	assert.Equal(t, 1, tr.Used("ensemble"))
}

func TestEnsemble_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) }},
		{"success false", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"success": false, "error": "model offline"}`) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `not json`) }},
		{"unknown label", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"success": true, "analysis": {"label": "Maybe", "confidence": 50}}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			tr := newTracker(nil)
			_, err := NewEnsemble(srv.URL, time.Second, 1, tr).TryAnalyze(context.Background(), "t", "b")
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Equal(t, 0, tr.Used("ensemble"))
		})
	}
}

func TestEnsemble_RetriesWhenConfigured(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"success": true, "analysis": {"label": "Fake", "confidence": 64}}`)
	}))
	defer srv.Close()

	v, err := NewEnsemble(srv.URL, time.Second, 2, nil).TryAnalyze(context.Background(), "t", "b")
	require.NoError(t, err)
	assert.Equal(t, models.LabelUntrustworthy, v.Label)
	assert.Nil(t, v.Probabilities)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEnsemble_NotConfiguredAndQuota(t *testing.T) {
	_, err := NewEnsemble("", time.Second, 1, nil).TryAnalyze(context.Background(), "t", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)

	tr := newTracker(map[string]int{"ensemble": 1})
	tr.Record("ensemble")
	_, err = NewEnsemble("http://127.0.0.1:1", time.Second, 1, tr).TryAnalyze(context.Background(), "t", "b")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestEnsemble_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		fmt.Fprint(w, `{"status": "healthy", "models_loaded": 2}`)
	}))
	defer srv.Close()

	e := NewEnsemble(srv.URL, time.Second, 1, nil)
	doc, err := e.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", doc["status"])
	assert.NoError(t, e.Probe(context.Background()))
}

func chatServer(t *testing.T, content string, sawJSONMode *bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if sawJSONMode != nil {
				_, *sawJSONMode = req["response_format"]
			}
			resp := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   req["model"],
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				}},
			}
			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		case "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object": "list", "data": []}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChat_JSONMode(t *testing.T) {
	var jsonMode bool
	srv := chatServer(t, `{"label": "Untrustworthy", "confidence": 81, "summary": "Claims lack sources.", "reasoning": "Anonymous claims only."}`, &jsonMode)

	tr := newTracker(map[string]int{"openai": 10})
	c := NewChat(ChatConfig{Name: "openai", APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "gpt-3.5-turbo", Timeout: time.Second, JSONMode: true}, tr)

	v, err := c.TryAnalyze(context.Background(), "Title", "Body")
	require.NoError(t, err)
	assert.True(t, jsonMode)
	assert.Equal(t, models.LabelUntrustworthy, v.Label)
	assert.Equal(t, 81, v.Confidence)
	assert.Equal(t, "Claims lack sources.", v.Summary)
	assert.Equal(t, "openai", v.Provider)
	assert.Equal(t, 1, tr.Used("openai"))

	assert.NoError(t, c.Probe(context.Background()))
}

func TestChat_TextMode(t *testing.T) {
	var jsonMode bool
	srv := chatServer(t, "VERDICT: Reliable\nCONFIDENCE: 77\nREASONING: Matches agency wire copy.", &jsonMode)

	c := NewChat(ChatConfig{Name: "groq", APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "llama", Timeout: time.Second}, nil)

	v, err := c.TryAnalyze(context.Background(), "Title", "Body")
	require.NoError(t, err)
	assert.False(t, jsonMode)
	assert.Equal(t, models.LabelTrustworthy, v.Label)
	assert.Equal(t, 77, v.Confidence)
	assert.Equal(t, "groq", v.Provider)
}

func TestChat_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit"}}`)
	}))
	defer srv.Close()

	c := NewChat(ChatConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m", Timeout: time.Second}, nil)
	_, err := c.TryAnalyze(context.Background(), "t", "b")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestChat_NotConfigured(t *testing.T) {
	c := NewOpenAI("", "", nil)
	assert.False(t, c.Configured())
	_, err := c.TryAnalyze(context.Background(), "t", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.Probe(context.Background()), ErrNotConfigured)

	assert.Equal(t, "groq", NewGroq("", "", nil).Name())
}

func TestHuggingFace_TryAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLabel string
		wantConf  int
	}{
		{"list form", `[{"label": "fake news", "score": 0.82}, {"label": "reliable news", "score": 0.18}]`, models.LabelUntrustworthy, 82},
		{"legacy form", `{"sequence": "x", "labels": ["reliable news", "fake news"], "scores": [0.64, 0.36]}`, models.LabelTrustworthy, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/models/facebook/bart-large-mnli", r.URL.Path)
				assert.Equal(t, "Bearer hf-key", r.Header.Get("Authorization"))
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			h := NewHuggingFace("hf-key", "", nil).WithBaseURL(srv.URL+"/models", srv.URL+"/whoami")
			v, err := h.TryAnalyze(context.Background(), "Title", "Body")
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, v.Label)
			assert.Equal(t, tt.wantConf, v.Confidence)
			require.NotNil(t, v.Probabilities)
			assert.InDelta(t, 100, v.Probabilities.Real+v.Probabilities.Fake, 0.01)
		})
	}
}

func TestHuggingFace_ModelLoading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error": "Model is currently loading", "estimated_time": 20}`)
	}))
	defer srv.Close()

	h := NewHuggingFace("hf-key", "", nil).WithBaseURL(srv.URL, srv.URL)
	_, err := h.TryAnalyze(context.Background(), "t", "b")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, h.Probe(context.Background()), ErrUnavailable)
}

func TestGemini_NotConfigured(t *testing.T) {
	g, err := NewGemini(context.Background(), "", "", nil)
	require.NoError(t, err)
	defer g.Close()

	assert.False(t, g.Configured())
	_, err = g.TryAnalyze(context.Background(), "t", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGeminiPrompt_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 400; i++ {
		long += "Sentence number one is here. "
	}
	p := geminiPrompt("Title", long)
	assert.Contains(t, p, "[TRUNCATED]")
	assert.Contains(t, p, "VERDICT:")
}
