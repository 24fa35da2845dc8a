package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryCounter is a process-local Counter. It is advisory only: in
// multi-process deployments each process keeps its own window, which is
// acceptable for burst shedding but not for hard quotas.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryCounter creates an in-process windowed counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// CheckAndIncrement admits and counts the operation if the key's window
// counter is below limit. The counter resets when the window elapses.
func (c *MemoryCounter) CheckAndIncrement(key string, windowSecs int, limit int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(time.Duration(windowSecs) * time.Second)}
		c.windows[key] = w
	}

	if w.count >= limit {
		return false, nil
	}

	w.count++
	return true, nil
}
