package logging

import (
	"sync"

	"github.com/rs/zerolog"
)

// DuplicateHook drops identical consecutive records (same level and message).
// After at most limit suppressed records the next one is written again and
// carries the number of records it replaced in the "suppressed" field.
type DuplicateHook struct {
	limit int

	mu         sync.Mutex
	lastLevel  zerolog.Level
	lastMsg    string
	seen       bool
	suppressed int
}

// NewDuplicateHook constructs a DuplicateHook.
func NewDuplicateHook(limit int) *DuplicateHook {
	if limit <= 0 {
		limit = 50
	}
	return &DuplicateHook{limit: limit}
}

// Run implements zerolog.Hook.
func (h *DuplicateHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if h == nil || e == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.seen && level == h.lastLevel && message == h.lastMsg && h.suppressed < h.limit {
		h.suppressed++
		e.Discard()
		return
	}
	if h.suppressed > 0 {
		e.Int("suppressed", h.suppressed)
	}
	h.seen = true
	h.lastLevel = level
	h.lastMsg = message
	h.suppressed = 0
}
