package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/truthly/internal/config"
	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/provider"
	"github.com/deusflow/truthly/internal/ratelimit"
	"github.com/deusflow/truthly/internal/search"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Port:                    "0",
		EnsembleTimeout:         time.Second,
		EnsembleRetryAttempts:   1,
		Limits:                  config.DefaultLimits(),
		TrustedCap:              70,
		TrustedGovCap:           60,
		TrustedAdjustThreshold:  75,
		SnippetConfidenceFactor: 0.9,
		MaxBackupProviders:      3,
		FeedsConfigPath:         filepath.Join(t.TempDir(), "missing.yaml"),
		FeedTimeout:             time.Second,
		FeedItemLimit:           5,
		ExtractTimeout:          time.Second,
		ExtractMaxRedirects:     3,
	}
}

func TestNew_WithoutCredentials(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "unavailable", out["ensemble_service"])
	assert.Equal(t, float64(10), out["rss_sources"])

	providers := out["providers"].(map[string]any)
	for _, name := range []string{"openai", "groq", "huggingface", "gemini", "google_search", "serper"} {
		assert.Equal(t, false, providers[name].(map[string]any)["configured"], name)
	}

	// No verdict provider can answer, so analysis is a 503.
	resp2, err := http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader(`{"text": "Some text"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestNew_BadTrustedDomainsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrustedDomainsPath = filepath.Join(t.TempDir(), "nope.yaml")
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type fakeSearch struct {
	configured bool
	err        error
}

func (f *fakeSearch) Name() string     { return "serper" }
func (f *fakeSearch) Configured() bool { return f.configured }
func (f *fakeSearch) Search(ctx context.Context, q string, n int) ([]models.SearchResult, error) {
	return nil, f.err
}

func TestSearchProbe(t *testing.T) {
	tr := ratelimit.NewTracker(map[string]int{"serper": 1}, nil)

	err := searchProbe(&fakeSearch{}, tr).Check(context.Background())
	assert.ErrorIs(t, err, search.ErrNotConfigured)

	require.NoError(t, searchProbe(&fakeSearch{configured: true}, tr).Check(context.Background()))
	assert.Equal(t, 1, tr.Used("serper"))

	err = searchProbe(&fakeSearch{configured: true}, tr).Check(context.Background())
	assert.Error(t, err, "budget spent")

	tr2 := ratelimit.NewTracker(nil, nil)
	err = searchProbe(&fakeSearch{configured: true, err: errors.New("403")}, tr2).Check(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, tr2.Used("serper"))
}

func TestVerdictProbe_NotConfigured(t *testing.T) {
	p := provider.NewOpenAI("", "", nil)
	err := verdictProbe(p).Check(context.Background())
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
}
