// Package provider adapts external verdict services behind one interface.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/metrics"
	"github.com/deusflow/truthly/internal/models"
)

var (
	ErrNotConfigured = errors.New("provider not configured")
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	ErrUnavailable   = errors.New("provider unavailable")
)

// VerdictProvider produces a verdict for one article.
type VerdictProvider interface {
	Name() string
	Configured() bool
	TryAnalyze(ctx context.Context, title, body string) (*models.ProviderVerdict, error)
}

// Prober is implemented by providers that can check connectivity cheaply.
type Prober interface {
	Probe(ctx context.Context) error
}

// Usage is the slice of the usage tracker that clients need.
type Usage interface {
	Allow(name string) bool
	Record(name string)
}

// guard wraps one upstream call with the quota check, a per-provider
// timeout, usage recording and metrics.
func guard(ctx context.Context, usage Usage, name string, timeout time.Duration, call func(ctx context.Context) (*models.ProviderVerdict, error)) (*models.ProviderVerdict, error) {
	if usage != nil && !usage.Allow(name) {
		metrics.ObserveProviderCall(name, "quota")
		return nil, fmt.Errorf("%s: %w", name, ErrQuotaExceeded)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	logger.Info("Calling provider", "provider", name)

	v, err := call(ctx)
	if err != nil {
		metrics.ObserveProviderCall(name, "error")
		logger.Warn("Provider call failed", "provider", name, "error", err, "elapsed", time.Since(start))
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%s: %w: %v", name, ErrUnavailable, err)
		}
		return nil, err
	}

	if usage != nil {
		usage.Record(name)
	}
	metrics.ObserveProviderCall(name, "success")
	logger.Info("Provider verdict", "provider", name, "label", v.Label, "confidence", v.Confidence, "elapsed", time.Since(start))

	v.Provider = name
	return v, nil
}

func notConfigured(name string) error {
	metrics.ObserveProviderCall(name, "not_configured")
	return fmt.Errorf("%s: %w", name, ErrNotConfigured)
}

// clampConfidence rounds to an integer percentage in [0, 100].
func clampConfidence(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	c := int(math.Round(f))
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
