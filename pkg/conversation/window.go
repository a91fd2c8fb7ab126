package conversation

// DefaultWindowSize is the number of recent utterances kept when no size is
// configured.
const DefaultWindowSize = 5

// Window keeps the last N user utterances, oldest first. Adding beyond
// capacity evicts the oldest entry. The zero value is not usable; call
// [NewWindow].
type Window struct {
	size  int
	items []string
}

// NewWindow returns a Window holding at most size utterances. Non-positive
// sizes fall back to [DefaultWindowSize].
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, items: make([]string, 0, size)}
}

// Add appends an utterance, evicting the oldest one when full.
func (w *Window) Add(text string) {
	if len(w.items) == w.size {
		copy(w.items, w.items[1:])
		w.items = w.items[:w.size-1]
	}
	w.items = append(w.items, text)
}

// Items returns a copy of the utterances, oldest first.
func (w *Window) Items() []string {
	out := make([]string, len(w.items))
	copy(out, w.items)
	return out
}

// Reset empties the window.
func (w *Window) Reset() { w.items = w.items[:0] }
