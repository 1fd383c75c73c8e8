package stats

import (
	"context"
	"sync"
	"time"
)

// Counters aggregates events
type Counters struct {
	Calls    int64         `json:"calls"`
	Failed   int64         `json:"failed"`
	Attempts int64         `json:"attempts"`
	Duration time.Duration `json:"duration"`
	// ByKind counts failures per failure class
	ByKind map[string]int64 `json:"byKind,omitempty"`
}

func (c *Counters) add(ev Event) {
	c.Calls++
	c.Attempts += int64(ev.Attempts)
	c.Duration += ev.Duration
	if ev.OK {
		return
	}
	c.Failed++
	if ev.Kind != "" {
		if c.ByKind == nil {
			c.ByKind = make(map[string]int64)
		}
		c.ByKind[ev.Kind]++
	}
}

func (c Counters) clone() Counters {
	if c.ByKind != nil {
		byKind := make(map[string]int64, len(c.ByKind))
		for k, v := range c.ByKind {
			byKind[k] = v
		}
		c.ByKind = byKind
	}
	return c
}

// Snapshot is a point-in-time copy of a Memory recorder
type Snapshot struct {
	Total    Counters            `json:"total"`
	ByMethod map[string]Counters `json:"byMethod"`
}

// Memory keeps counters in process. It never expires anything.
type Memory struct {
	mu       sync.Mutex
	total    Counters
	byMethod map[string]*Counters
}

// NewMemory creates an empty in-memory recorder
func NewMemory() *Memory {
	return &Memory{byMethod: make(map[string]*Counters)}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total.add(ev)
	c, ok := m.byMethod[ev.Method]
	if !ok {
		c = &Counters{}
		m.byMethod[ev.Method] = c
	}
	c.add(ev)
	return nil
}

// Snapshot returns a copy of the current counters
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Snapshot{
		Total:    m.total.clone(),
		ByMethod: make(map[string]Counters, len(m.byMethod)),
	}
	for method, c := range m.byMethod {
		out.ByMethod[method] = c.clone()
	}
	return out
}
