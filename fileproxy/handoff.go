package fileproxy

import "sync"

// handoff carries a value out of an identity bracket. The bracket may still
// be running after the caller gave up on it; a value put after take is handed
// to release instead.
type handoff[T any] struct {
	mu      sync.Mutex
	v       T
	ok      bool
	taken   bool
	release func(T)
}

func (h *handoff[T]) put(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.taken {
		if h.release != nil {
			h.release(v)
		}
		return
	}
	h.v, h.ok = v, true
}

// take closes the handoff and returns the value if it arrived in time.
func (h *handoff[T]) take() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taken = true
	return h.v, h.ok
}
