package ratelimit

import (
	"sort"
	"sync"

	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/models"
)

// Tracker keeps soft per-provider call budgets for the life of the process.
//
// Allow and Record are separate steps: two concurrent callers may both pass
// Allow and push a counter slightly past its limit. Counters never reset.
type Tracker struct {
	mu         sync.Mutex
	counts     map[string]int
	limits     map[string]int
	configured map[string]bool
}

// NewTracker creates a tracker. A limit of 0 means unlimited.
func NewTracker(limits map[string]int, configured map[string]bool) *Tracker {
	t := &Tracker{
		counts:     make(map[string]int),
		limits:     make(map[string]int, len(limits)),
		configured: make(map[string]bool, len(configured)),
	}
	for name, limit := range limits {
		t.limits[name] = limit
	}
	for name, ok := range configured {
		t.configured[name] = ok
	}
	return t
}

// Allow reports whether the provider still has budget. It does not reserve a call.
func (t *Tracker) Allow(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit := t.limits[name]
	if limit > 0 && t.counts[name] >= limit {
		logger.Warn("Provider soft limit reached", "provider", name, "used", t.counts[name], "limit", limit)
		return false
	}
	return true
}

// Record counts one successful call.
func (t *Tracker) Record(name string) {
	t.mu.Lock()
	t.counts[name]++
	used, limit := t.counts[name], t.limits[name]
	t.mu.Unlock()

	logger.Debug("Provider usage", "provider", name, "used", used, "limit", limit)
}

func (t *Tracker) Used(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[name]
}

// Snapshot returns a copy of every known provider's counters.
func (t *Tracker) Snapshot() map[string]models.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]models.Usage, len(t.limits))
	for _, name := range t.namesLocked() {
		used, limit := t.counts[name], t.limits[name]
		remaining := -1 // unlimited
		if limit > 0 {
			remaining = limit - used
			if remaining < 0 {
				remaining = 0
			}
		}
		out[name] = models.Usage{
			CallsUsed:  used,
			Limit:      limit,
			Remaining:  remaining,
			Configured: t.configured[name],
		}
	}
	return out
}

// PrintStats logs current counters.
func (t *Tracker) PrintStats() {
	for name, u := range t.Snapshot() {
		logger.Info("Provider usage stats", "provider", name, "used", u.CallsUsed, "limit", u.Limit, "configured", u.Configured)
	}
}

func (t *Tracker) namesLocked() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range []map[string]int{t.limits, t.counts} {
		for name := range m {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	for name := range t.configured {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
