package pool

import (
	"errors"
	"sync"
)

// ArgsArrays is the number of parallel arrays an args record holds.
const ArgsArrays = 4

// ArgsHandle addresses one record inside an ArgsPool arena.
type ArgsHandle struct {
	chunk int32
	slot  int32
}

// NoArgs is the zero handle. It never refers to a live record.
var NoArgs = ArgsHandle{chunk: -1, slot: -1}

// Valid reports whether h refers to a record.
func (h ArgsHandle) Valid() bool {
	return h.chunk >= 0 && h.slot >= 0
}

// ArgsPool hands out records of ArgsArrays*width int32 values carved from
// chunked arenas.
type ArgsPool struct {
	mu          sync.Locker
	width       int
	perChunk    int
	maxChunks   int
	chunks      [][]int32
	free        []ArgsHandle
	outstanding int
	closed      bool
}

// ArgsOptions configures an ArgsPool.
type ArgsOptions struct {
	// SlotsPerChunk is the number of records per arena chunk. Zero selects DefaultGrow.
	SlotsPerChunk int
	// MaxChunks caps arena growth. Zero means unlimited.
	MaxChunks  int
	ThreadSafe bool
}

// NewArgsPool builds a pool whose records hold four arrays of width entries.
// width is normally the size of the largest communicator in the job.
func NewArgsPool(width int, opts ArgsOptions) (*ArgsPool, error) {
	if width <= 0 {
		return nil, errors.New("pool: args width must be positive")
	}
	per := opts.SlotsPerChunk
	if per <= 0 {
		per = DefaultGrow
	}
	return &ArgsPool{
		mu:        newLocker(opts.ThreadSafe),
		width:     width,
		perChunk:  per,
		maxChunks: opts.MaxChunks,
	}, nil
}

// Width reports the per-array capacity of a record.
func (p *ArgsPool) Width() int {
	if p == nil {
		return 0
	}
	return p.width
}

// Acquire reserves a record.
func (p *ArgsPool) Acquire() (ArgsHandle, error) {
	if p == nil {
		return NoArgs, errors.New("pool: nil args pool")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return NoArgs, ErrClosed
	}
	if len(p.free) == 0 {
		if p.maxChunks > 0 && len(p.chunks) >= p.maxChunks {
			return NoArgs, ErrExhausted
		}
		chunk := int32(len(p.chunks))
		p.chunks = append(p.chunks, make([]int32, p.perChunk*ArgsArrays*p.width))
		for slot := p.perChunk - 1; slot >= 0; slot-- {
			p.free = append(p.free, ArgsHandle{chunk: chunk, slot: int32(slot)})
		}
	}
	last := len(p.free) - 1
	h := p.free[last]
	p.free = p.free[:last]
	p.outstanding++
	return h, nil
}

// Slot returns the record's storage. The four arrays are consecutive runs of Width entries.
func (p *ArgsPool) Slot(h ArgsHandle) []int32 {
	if p == nil || !h.Valid() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(h.chunk) >= len(p.chunks) || int(h.slot) >= p.perChunk {
		return nil
	}
	size := ArgsArrays * p.width
	start := int(h.slot) * size
	return p.chunks[h.chunk][start : start+size : start+size]
}

// Array returns the i-th array of the record, truncated to n entries.
func (p *ArgsPool) Array(h ArgsHandle, i, n int) []int32 {
	if i < 0 || i >= ArgsArrays || n > p.Width() {
		return nil
	}
	slot := p.Slot(h)
	if slot == nil {
		return nil
	}
	start := i * p.width
	return slot[start : start+n : start+n]
}

// Release returns a record to the pool.
func (p *ArgsPool) Release(h ArgsHandle) {
	if p == nil || !h.Valid() {
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
	p.free = append(p.free, h)
}

// Outstanding reports the number of records currently checked out.
func (p *ArgsPool) Outstanding() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Close drops the arenas.
func (p *ArgsPool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.chunks = nil
	p.free = nil
}
