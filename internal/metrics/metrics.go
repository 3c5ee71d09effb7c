package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// providerCalls counts upstream provider calls by provider and outcome
	providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "truthly_provider_calls_total",
		Help: "Upstream provider calls by provider and outcome",
	}, []string{"provider", "outcome"})

	// analyses counts finished analyses by verdict path
	analyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "truthly_analyses_total",
		Help: "Finished analyses by path (primary, backup, failed)",
	}, []string{"path"})

	// analysisDuration tracks end-to-end analysis latency
	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "truthly_analysis_duration_seconds",
		Help:    "Analysis duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})

	// feedFetches counts RSS feed fetches by outcome
	feedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "truthly_feed_fetches_total",
		Help: "RSS feed fetches by outcome",
	}, []string{"outcome"})
)

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics is the in-process status shown on the health endpoint.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	TotalAnalyses    int64
	PrimaryVerdicts  int64
	BackupVerdicts   int64
	FailedAnalyses   int64
	TopicSearches    int64
	FeedbackReceived int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	StartTime     time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true, StartTime: time.Now()}

// ObserveProviderCall records one provider call outcome ("success", "error",
// "quota", "not_configured").
func ObserveProviderCall(provider, outcome string) {
	providerCalls.WithLabelValues(provider, outcome).Inc()
}

func ObserveFeedFetch(ok bool) {
	if ok {
		feedFetches.WithLabelValues("success").Inc()
		return
	}
	feedFetches.WithLabelValues("error").Inc()
}

// RecordAnalysis records a finished analysis; path is "primary", "backup" or "failed".
func (m *Metrics) RecordAnalysis(path string, duration time.Duration) {
	analyses.WithLabelValues(path).Inc()
	analysisDuration.Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalAnalyses++
	switch path {
	case "primary":
		m.PrimaryVerdicts++
	case "backup":
		m.BackupVerdicts++
	default:
		m.FailedAnalyses++
	}

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++
	m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
}

func (m *Metrics) IncrementTopicSearches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TopicSearches++
}

func (m *Metrics) IncrementFeedback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedbackReceived++
}

func (m *Metrics) SetHealthy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"total_analyses":             m.TotalAnalyses,
		"primary_verdicts":           m.PrimaryVerdicts,
		"backup_verdicts":            m.BackupVerdicts,
		"failed_analyses":            m.FailedAnalyses,
		"topic_searches":             m.TopicSearches,
		"feedback_received":          m.FeedbackReceived,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"uptime_seconds":             int64(time.Since(m.StartTime).Seconds()),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
	if !m.LastErrorTime.IsZero() {
		stats["last_error_time"] = m.LastErrorTime.Format(time.RFC3339)
	}
	return stats
}
