package flow

// DefaultHistoryCapacity bounds how many editor states are retained for
// undo. Older states are evicted as new ones are pushed.
const DefaultHistoryCapacity = 100

// History is the builder's undo/redo stack: a bounded sequence of graph
// snapshots with a cursor at the current state. Pushing after an undo
// discards the redo tail.
type History struct {
	states   []Snapshot
	cursor   int
	capacity int
}

// NewHistory creates a history seeded with the given initial state. A
// capacity below 2 falls back to DefaultHistoryCapacity.
func NewHistory(initial Snapshot, capacity int) *History {
	if capacity < 2 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		states:   []Snapshot{initial},
		cursor:   0,
		capacity: capacity,
	}
}

// Push records a new state after a structural mutation. Any redo tail is
// discarded; the oldest state is evicted once the capacity is reached.
func (h *History) Push(s Snapshot) {
	h.states = append(h.states[:h.cursor+1], s)
	h.cursor++

	if len(h.states) > h.capacity {
		drop := len(h.states) - h.capacity
		h.states = append(h.states[:0], h.states[drop:]...)
		h.cursor -= drop
	}
}

// Undo steps the cursor back one state and returns it. The second return
// is false when there is nothing to undo.
func (h *History) Undo() (Snapshot, bool) {
	if !h.CanUndo() {
		return Snapshot{}, false
	}
	h.cursor--
	return h.states[h.cursor], true
}

// Redo steps the cursor forward one state and returns it. The second
// return is false when there is nothing to redo.
func (h *History) Redo() (Snapshot, bool) {
	if !h.CanRedo() {
		return Snapshot{}, false
	}
	h.cursor++
	return h.states[h.cursor], true
}

// Current returns the state at the cursor.
func (h *History) Current() Snapshot {
	return h.states[h.cursor]
}

// CanUndo reports whether an earlier state is available.
func (h *History) CanUndo() bool {
	return h.cursor > 0
}

// CanRedo reports whether a later state is available.
func (h *History) CanRedo() bool {
	return h.cursor < len(h.states)-1
}

// Len returns the number of retained states, including the current one.
func (h *History) Len() int {
	return len(h.states)
}
