package calculator

import "time"

// DefaultHistoryLimit is the number of entries kept when no limit is configured.
const DefaultHistoryLimit = 50

// Entry is one completed calculation.
type Entry struct {
	Equation  string    `json:"equation"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// History is a bounded, append-only list of entries. Once full, the oldest
// entry is evicted first.
type History struct {
	limit   int
	entries []Entry
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Append adds an entry, evicting the oldest ones beyond the limit.
func (h *History) Append(e Entry) {
	h.entries = append(h.entries, e)
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append(h.entries[:0:0], h.entries[over:]...)
	}
}

// Entries returns a copy, oldest first.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) Limit() int {
	return h.limit
}

func (h *History) Clear() {
	h.entries = nil
}

// restore replaces the entries with a persisted copy, keeping only the newest
// ones that fit the limit.
func (h *History) restore(entries []Entry) {
	h.entries = nil
	for _, e := range entries {
		h.Append(e)
	}
}
