// Package health tracks rolling orchestration error rates and per-dependency
// up/down state, and dispatches rate-limited operational alerts.
package health

import (
	"sync"
	"time"
)

type windowEntry struct {
	at      time.Time
	success bool
}

// ErrorWindow is a sliding time window of orchestration outcomes. Entries
// older than the window are pruned on each insert; the rate is only reported
// once a minimum sample count is present, so a single early failure cannot
// trip an alert.
type ErrorWindow struct {
	mu         sync.Mutex
	entries    []windowEntry
	window     time.Duration
	minSamples int
}

// NewErrorWindow creates a window of the given duration and minimum sample
// count.
func NewErrorWindow(window time.Duration, minSamples int) *ErrorWindow {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	return &ErrorWindow{window: window, minSamples: minSamples}
}

// Record appends one outcome and prunes expired entries.
func (w *ErrorWindow) Record(at time.Time, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{at: at, success: success})
	w.prune(at)
}

// Rate returns the error rate over the trailing window and whether enough
// samples are present for the rate to be meaningful.
func (w *ErrorWindow) Rate(now time.Time) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)

	if len(w.entries) < w.minSamples {
		return 0, false
	}
	failures := 0
	for _, e := range w.entries {
		if !e.success {
			failures++
		}
	}
	return float64(failures) / float64(len(w.entries)), true
}

// Samples returns the current entry count after pruning.
func (w *ErrorWindow) Samples(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return len(w.entries)
}

// prune drops entries older than the window. Caller holds the lock.
func (w *ErrorWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = kept
}
