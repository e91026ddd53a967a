package calculator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)

	for i := 1; i <= 5; i++ {
		h.Append(Entry{Equation: fmt.Sprintf("%d + 0", i), Result: fmt.Sprint(i)})
		assert.LessOrEqual(t, h.Len(), 3)
	}

	entries := h.Entries()
	assert.Equal(t, []string{"3", "4", "5"}, []string{entries[0].Result, entries[1].Result, entries[2].Result})
}

func TestHistoryDefaultsAndCopies(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, DefaultHistoryLimit, h.Limit())

	h.Append(Entry{Equation: "1 + 1", Result: "2"})
	entries := h.Entries()
	entries[0].Result = "3"
	assert.Equal(t, "2", h.Entries()[0].Result)

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.NotNil(t, h.Entries())
}

func TestHistoryRestoreKeepsNewest(t *testing.T) {
	h := NewHistory(2)
	h.restore([]Entry{{Result: "1"}, {Result: "2"}, {Result: "3"}})

	entries := h.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].Result)
	assert.Equal(t, "3", entries[1].Result)
}
