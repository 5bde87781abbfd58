// Package pool provides the free-list allocators used for collective requests
// and their auxiliary count/displacement arrays.
package pool

import (
	"errors"
	"sync"
)

var (
	// ErrExhausted indicates the pool reached its growth ceiling.
	ErrExhausted = errors.New("pool: growth ceiling reached")
	// ErrClosed indicates the pool has been closed.
	ErrClosed = errors.New("pool: closed")
)

// DefaultGrow is the number of records provisioned each time a pool grows.
const DefaultGrow = 128

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

func newLocker(threadSafe bool) sync.Locker {
	if threadSafe {
		return &sync.Mutex{}
	}
	return noopLocker{}
}

// Options configures a Pool.
type Options struct {
	// Grow is the number of records allocated per growth step. Zero selects DefaultGrow.
	Grow int
	// Max caps the total number of records. Zero means unlimited.
	Max int
	// ThreadSafe serializes access with a mutex. Single-threaded runtimes leave it unset.
	ThreadSafe bool
}

// Pool is a free list of reusable *T records. Records are never individually
// freed while the pool is open.
type Pool[T any] struct {
	mu          sync.Locker
	newFn       func() *T
	free        []*T
	total       int
	outstanding int
	grow        int
	max         int
	closed      bool
}

// New constructs a pool that provisions records with newFn.
func New[T any](newFn func() *T, opts Options) *Pool[T] {
	if newFn == nil {
		newFn = func() *T { return new(T) }
	}
	grow := opts.Grow
	if grow <= 0 {
		grow = DefaultGrow
	}
	if opts.Max > 0 && grow > opts.Max {
		grow = opts.Max
	}
	return &Pool[T]{
		mu:    newLocker(opts.ThreadSafe),
		newFn: newFn,
		grow:  grow,
		max:   opts.Max,
	}
}

// Acquire returns a free record, growing the pool when none is available.
func (p *Pool[T]) Acquire() (*T, error) {
	if p == nil {
		return nil, errors.New("pool: nil pool")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if len(p.free) == 0 {
		if err := p.growLocked(); err != nil {
			return nil, err
		}
	}
	last := len(p.free) - 1
	item := p.free[last]
	p.free[last] = nil
	p.free = p.free[:last]
	p.outstanding++
	return item, nil
}

func (p *Pool[T]) growLocked() error {
	n := p.grow
	if p.max > 0 {
		if room := p.max - p.total; room < n {
			n = room
		}
	}
	if n <= 0 {
		return ErrExhausted
	}
	for i := 0; i < n; i++ {
		p.free = append(p.free, p.newFn())
	}
	p.total += n
	return nil
}

// Release returns a record to the pool. The caller must already have undone
// any per-use initialization.
func (p *Pool[T]) Release(item *T) {
	if p == nil || item == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outstanding > 0 {
		p.outstanding--
	}
	if p.closed {
		return
	}
	p.free = append(p.free, item)
}

// Outstanding reports the number of records currently checked out.
func (p *Pool[T]) Outstanding() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Total reports the number of records the pool has provisioned.
func (p *Pool[T]) Total() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Close drops all free records and rejects further acquisitions.
func (p *Pool[T]) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.free = nil
}
