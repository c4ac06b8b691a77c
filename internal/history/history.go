package history

import "sync"

// History keeps the most recent lines, oldest first.
type History struct {
	mu       sync.Mutex
	lines    []string
	capacity int
}

func New(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

// Add records line, dropping the oldest entry when full.
func (h *History) Add(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.lines) == h.capacity {
		h.lines = append(h.lines[:0], h.lines[1:]...)
	}
	h.lines = append(h.lines, line)
}

func (h *History) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.lines...)
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lines = nil
}
