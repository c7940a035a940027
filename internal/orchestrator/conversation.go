package orchestrator

import (
	"sync"

	"github.com/lbrx/voxpipe/pkg/types"
)

// History holds the rolling conversation window handed to the reply
// generator. When the window is full the oldest turn is evicted. Safe for
// concurrent use.
type History struct {
	mu    sync.Mutex
	max   int
	turns []types.Turn
}

// NewHistory returns a History keeping at most max turns. A max of zero or
// less disables history entirely: Append drops and Turns returns nil.
func NewHistory(max int) *History {
	return &History{max: max}
}

// Append records a turn, evicting the oldest when the window is full.
func (h *History) Append(turn types.Turn) {
	if h.max <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
	if len(h.turns) > h.max {
		h.turns = h.turns[len(h.turns)-h.max:]
	}
}

// Turns returns a copy of the current window, oldest first.
func (h *History) Turns() []types.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) == 0 {
		return nil
	}
	out := make([]types.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns currently held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
