package trend

import (
	"sync"
	"time"

	"github.com/vantagesec/verdict/internal/intel"
)

// History is the engine's bounded in-memory record of computed assessments.
// It hangs off the cache's write path as a sink; long-term persistence is the
// storage collaborator's job, not ours.
type History struct {
	mu         sync.RWMutex
	entries    []*intel.Assessment
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time
}

func NewHistory(maxEntries int, maxAge time.Duration) *History {
	return &History{maxEntries: maxEntries, maxAge: maxAge, now: time.Now}
}

// NewHistoryWithClock is for tests that need deterministic windows.
func NewHistoryWithClock(maxEntries int, maxAge time.Duration, now func() time.Time) *History {
	return &History{maxEntries: maxEntries, maxAge: maxAge, now: now}
}

// Record implements the cache sink. Assessments arrive in generation order
// per key but interleaved across keys; the window scan below does not rely
// on global ordering.
func (h *History) Record(a *intel.Assessment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, a)
	if len(h.entries) > h.maxEntries {
		// drop the oldest tenth in one go to amortize the copy
		drop := h.maxEntries / 10
		if drop < 1 {
			drop = 1
		}
		h.entries = append([]*intel.Assessment(nil), h.entries[drop:]...)
	}
}

// Window returns assessments generated within the trailing duration.
func (h *History) Window(d time.Duration) []*intel.Assessment {
	cutoff := h.now().Add(-d)
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*intel.Assessment
	for _, a := range h.entries {
		if a.GeneratedAt.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Between returns assessments generated inside [from, to]. Zero bounds are
// open.
func (h *History) Between(from, to time.Time) []*intel.Assessment {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*intel.Assessment
	for _, a := range h.entries {
		if !from.IsZero() && a.GeneratedAt.Before(from) {
			continue
		}
		if !to.IsZero() && a.GeneratedAt.After(to) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Prune drops entries older than the configured max age.
func (h *History) Prune() int {
	cutoff := h.now().Add(-h.maxAge)
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.entries[:0]
	dropped := 0
	for _, a := range h.entries {
		if a.GeneratedAt.After(cutoff) {
			kept = append(kept, a)
		} else {
			dropped++
		}
	}
	h.entries = kept
	return dropped
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
