package host

import (
	"sort"
	"sync"
)

// ProgressFunc advances background work and returns the number of events handled.
type ProgressFunc func() int

// Progress is the runtime's cooperative progress pump.
type Progress struct {
	mu  sync.Mutex
	seq uint64
	fns map[uint64]ProgressFunc
}

// NewProgress returns an empty progress pump.
func NewProgress() *Progress {
	return &Progress{fns: make(map[uint64]ProgressFunc)}
}

// Register adds fn to the pump. The returned function removes it.
func (p *Progress) Register(fn ProgressFunc) (unregister func()) {
	if p == nil || fn == nil {
		return func() {}
	}
	p.mu.Lock()
	p.seq++
	id := p.seq
	p.fns[id] = fn
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.fns, id)
			p.mu.Unlock()
		})
	}
}

// Len reports the number of registered callbacks.
func (p *Progress) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fns)
}

// Progress runs every registered callback once in registration order.
func (p *Progress) Progress() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	ids := make([]uint64, 0, len(p.fns))
	for id := range p.fns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]ProgressFunc, len(ids))
	for i, id := range ids {
		fns[i] = p.fns[id]
	}
	p.mu.Unlock()

	events := 0
	for _, fn := range fns {
		events += fn()
	}
	return events
}
