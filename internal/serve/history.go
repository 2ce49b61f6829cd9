package serve

import (
	"sync"

	"github.com/lamim/dermaforge/pkg/models"
)

// History is a bounded ring of recent predictions
type History struct {
	mu    sync.Mutex
	items []models.Prediction
	next  int
	full  bool
}

// NewHistory creates a ring holding at most size predictions
func NewHistory(size int) *History {
	return &History{items: make([]models.Prediction, size)}
}

// Add records a prediction, evicting the oldest when full
func (h *History) Add(p models.Prediction) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.next] = p
	h.next = (h.next + 1) % len(h.items)
	if h.next == 0 {
		h.full = true
	}
}

// List returns up to limit predictions, newest first. limit <= 0 means all.
func (h *History) List(limit int) []models.Prediction {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]models.Prediction, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (h.next - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

// Len returns the number of stored predictions
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.items)
	}
	return h.next
}
