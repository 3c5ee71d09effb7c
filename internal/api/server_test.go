package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/truthly/internal/analyzer"
	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/provider"
	"github.com/deusflow/truthly/internal/ratelimit"
	"github.com/deusflow/truthly/internal/topic"
)

type stubProvider struct {
	name       string
	configured bool
	verdict    *models.ProviderVerdict
	usage      *ratelimit.Tracker
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Configured() bool { return s.configured }
func (s *stubProvider) TryAnalyze(ctx context.Context, title, body string) (*models.ProviderVerdict, error) {
	if s.verdict == nil {
		return nil, provider.ErrUnavailable
	}
	if s.usage != nil {
		s.usage.Record(s.name)
	}
	v := *s.verdict
	v.Provider = s.name
	return &v, nil
}

type stubTopics struct {
	res *topic.Result
	err error
}

func (s *stubTopics) Search(ctx context.Context, req topic.Request) (*topic.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(strings.TrimSpace(req.Topic)) < 3 {
		return nil, topic.ErrTopicTooShort
	}
	r := *s.res
	r.MaxResults, r.MinConfidence = req.MaxResults, req.MinConfidence
	return &r, nil
}

type stubVerifier struct {
	available bool
	result    *models.WebVerification
}

func (s *stubVerifier) Available() bool  { return s.available }
func (s *stubVerifier) Order() []string { return []string{"google_search", "serper"} }
func (s *stubVerifier) Verify(ctx context.Context, query string) (*models.WebVerification, error) {
	return s.result, nil
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(":0", deps).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func newAnalyzer(primary provider.VerdictProvider, backups ...provider.VerdictProvider) *analyzer.Analyzer {
	p := analyzer.DefaultPolicy()
	p.WebVerification = false
	return analyzer.New(primary, backups, nil, nil, nil, p)
}

func TestAnalyze_MissingInput(t *testing.T) {
	srv := newTestServer(t, Deps{Analyzer: newAnalyzer(nil)})

	for _, body := range []string{`{}`, `{"title": "only title"}`, `{"url": "  ", "text": ""}`} {
		status, out := post(t, srv.URL+"/api/analyze", body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, false, out["success"])
		assert.Equal(t, "Either URL or text content is required", out["error"])
	}

	status, _ := post(t, srv.URL+"/api/analyze", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAnalyze_Success(t *testing.T) {
	tr := ratelimit.NewTracker(map[string]int{"ensemble": 0}, map[string]bool{"ensemble": true})
	primary := &stubProvider{name: "ensemble", configured: true, usage: tr, verdict: &models.ProviderVerdict{
		Label: models.LabelTrustworthy, Confidence: 84, Reasoning: "Consistent reporting.", Model: "Comprehensive-Ensemble",
	}}
	srv := newTestServer(t, Deps{Analyzer: newAnalyzer(primary), Usage: tr})

	status, out := post(t, srv.URL+"/api/analyze", `{"text": "The city council approved the budget on Tuesday after a long debate."}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])

	data := out["data"].(map[string]any)
	assert.Equal(t, "Direct text input", data["title"])
	assert.Nil(t, data["url"])
	assert.Equal(t, "Trustworthy", data["label"])
	assert.Equal(t, float64(84), data["confidence"])
	assert.Equal(t, "direct", data["source"])
	assert.Equal(t, map[string]any{}, data["extractionInfo"])

	probs := data["probabilities"].(map[string]any)
	assert.InDelta(t, 100, probs["fake"].(float64)+probs["real"].(float64), 1)

	tracking := data["tracking_info"].(map[string]any)
	assert.NotEmpty(t, tracking["request_id"])

	usage := data["apiUsage"].(map[string]any)["ensemble"].(map[string]any)
	assert.Equal(t, float64(1), usage["calls_used"])
}

func TestAnalyze_AllServicesUnavailable(t *testing.T) {
	backups := []provider.VerdictProvider{
		&stubProvider{name: "openai"},
		&stubProvider{name: "groq"},
		&stubProvider{name: "huggingface"},
	}
	srv := newTestServer(t, Deps{Analyzer: newAnalyzer(&stubProvider{name: "ensemble", configured: true}, backups...)})

	status, out := post(t, srv.URL+"/api/analyze", `{"text": "Some article text"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "unavailable")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{analyzer.ErrInvalidInput, http.StatusBadRequest},
		{topic.ErrTopicTooShort, http.StatusBadRequest},
		{analyzer.ErrAllServicesUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := classify(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
	}
}

func TestSearchTopic(t *testing.T) {
	topics := &stubTopics{res: &topic.Result{Topic: "climate", Message: "Found 0 trusted articles"}}
	srv := newTestServer(t, Deps{Topics: topics})

	status, out := post(t, srv.URL+"/api/search-topic", `{"topic": "ai"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "topic must be at least 3 characters long", out["error"])

	status, out = post(t, srv.URL+"/api/search-topic", `{"topic": "climate", "minConfidence": 0}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "rss_topic", out["searchType"])
	assert.Equal(t, []any{}, out["articles"])
	filters := out["filters"].(map[string]any)
	assert.Equal(t, float64(0), filters["minConfidence"])
	assert.Equal(t, float64(10), filters["maxResults"])
}

func TestWebVerify(t *testing.T) {
	srv := newTestServer(t, Deps{Verifier: &stubVerifier{}})

	status, _ := post(t, srv.URL+"/api/web-verify", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, out := post(t, srv.URL+"/api/web-verify", `{"title": "Budget passes"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "No search providers available", out["error"])

	srv = newTestServer(t, Deps{Verifier: &stubVerifier{available: true, result: &models.WebVerification{Performed: true, TotalResults: 3}}})
	status, out = post(t, srv.URL+"/api/web-verify", `{"content": "budget vote today"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["data"].(map[string]any)["performed"])
}

func TestHealth_StableConfiguredAndMonotonicUsage(t *testing.T) {
	tr := ratelimit.NewTracker(map[string]int{"ensemble": 0, "openai": 100}, map[string]bool{"ensemble": true, "openai": false})
	primary := &stubProvider{name: "ensemble", configured: true, usage: tr, verdict: &models.ProviderVerdict{Label: "Real", Confidence: 80}}
	srv := newTestServer(t, Deps{
		Analyzer:  newAnalyzer(primary),
		Usage:     tr,
		FeedNames: []string{"BBC World", "Reuters"},
	})

	var lastUsed float64
	var firstProviders map[string]any
	for i := 0; i < 3; i++ {
		status, out := get(t, srv.URL+"/api/health")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "healthy", out["backend"])
		assert.Equal(t, "unavailable", out["ensemble_service"])
		assert.Equal(t, float64(2), out["rss_sources"])

		providers := out["providers"].(map[string]any)
		if firstProviders == nil {
			firstProviders = providers
		}
		for name, p := range providers {
			assert.Equal(t, firstProviders[name].(map[string]any)["configured"], p.(map[string]any)["configured"])
		}

		used := providers["ensemble"].(map[string]any)["calls_used"].(float64)
		assert.GreaterOrEqual(t, used, lastUsed)
		lastUsed = used

		post(t, srv.URL+"/api/analyze", `{"text": "Council approves new park funding."}`)
	}
	assert.Equal(t, float64(2), lastUsed)
	assert.Equal(t, false, firstProviders["openai"].(map[string]any)["configured"])
}

func TestSearchUsage(t *testing.T) {
	tr := ratelimit.NewTracker(map[string]int{"serper": 2500}, map[string]bool{"serper": true})
	tr.Record("serper")
	srv := newTestServer(t, Deps{Usage: tr, Verifier: &stubVerifier{}})

	status, out := get(t, srv.URL+"/api/search-usage")
	require.Equal(t, http.StatusOK, status)
	serper := out["usage"].(map[string]any)["serper"].(map[string]any)
	assert.Equal(t, float64(2499), serper["remaining"])
	assert.Equal(t, []any{"google_search", "serper"}, out["preferred_order"])
}

func TestTestAPIs(t *testing.T) {
	srv := newTestServer(t, Deps{Probes: []Probe{
		{Name: "openai", Check: func(ctx context.Context) error { return nil }},
		{Name: "groq", Check: func(ctx context.Context) error { return errors.New("401 unauthorized") }},
	}})

	status, out := get(t, srv.URL+"/api/test-apis")
	require.Equal(t, http.StatusOK, status)
	results := out["results"].(map[string]any)
	assert.Equal(t, map[string]any{"success": true}, results["openai"])
	assert.Equal(t, map[string]any{"success": false, "error": "401 unauthorized"}, results["groq"])
}

func TestFeedback(t *testing.T) {
	srv := newTestServer(t, Deps{})

	bodies := []string{
		`{"type": "correction", "content": {"url": "https://example.test", "userLabel": "Trustworthy"}}`,
		`{"type": "x", "content": {"confidence": 85.5}}`,
		`{"type": "x", "content": "the label looked wrong to me"}`,
		`{"type": 3, "content": ["free", "form"]}`,
		`"just a note"`,
	}
	for _, body := range bodies {
		status, out := post(t, srv.URL+"/api/feedback", body)
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, true, out["success"])
		assert.NotEmpty(t, out["feedbackId"])
	}

	status, out := post(t, srv.URL+"/api/feedback", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, out["success"])
}

func TestFeedbackAttrs(t *testing.T) {
	attrs := feedbackAttrs(json.RawMessage(`{"type": "x", "content": {"confidence": 85.5, "userLabel": "Untrustworthy"}}`))
	assert.Contains(t, attrs, 85.5)
	assert.Contains(t, attrs, "Untrustworthy")

	attrs = feedbackAttrs(json.RawMessage(`{"type": "x", "content": "looked wrong"}`))
	assert.Equal(t, []any{"type", "x", "content", `"looked wrong"`}, attrs)

	attrs = feedbackAttrs(json.RawMessage(`[1, 2]`))
	assert.Equal(t, []any{"raw", "[1, 2]"}, attrs)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
