// Package loopback is an in-process collective engine. A World hosts N ranks
// inside one process; each rank gets its own engine.Context and host.Comm and
// is expected to run on its own goroutine.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// WorldCommID is the communicator id of the world communicator.
const WorldCommID uint32 = 0

// Options tunes data movement.
type Options struct {
	// ChunkSize is the pack/unpack granularity for non-contiguous datatypes.
	ChunkSize int
	// OutOfOrder delivers unpack chunks last-to-first.
	OutOfOrder bool
}

// World is the shared state of an in-process job.
type World struct {
	size  int
	jobID uuid.UUID
	opts  Options

	mu     sync.Mutex
	groups map[uint32]*shared

	oob *exchange
}

// NewWorld creates a job of size ranks.
func NewWorld(size int, opts Options) (*World, error) {
	if size <= 0 {
		return nil, fmt.Errorf("loopback: world size must be positive, got %d", size)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256
	}
	return &World{
		size:   size,
		jobID:  uuid.New(),
		opts:   opts,
		groups: make(map[uint32]*shared),
		oob:    newExchange(),
	}, nil
}

// Size is the number of ranks.
func (w *World) Size() int { return w.size }

// JobID identifies the world.
func (w *World) JobID() uuid.UUID { return w.jobID }

func (w *World) String() string {
	return fmt.Sprintf("loopback[%s size=%d]", w.jobID, w.size)
}

// Context returns the engine context of a rank.
func (w *World) Context(rank int) *Context {
	return &Context{world: w, rank: rank, active: make(map[*request]struct{})}
}

// Run invokes fn once per rank on its own goroutine and waits for all of them.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, rank int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < w.size; rank++ {
		g.Go(func() error {
			if err := fn(gctx, rank); err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *World) attach(id uint32, size int) (*shared, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sh, ok := w.groups[id]
	if !ok {
		sh = &shared{id: id, size: size, rounds: make(map[uint64]*round)}
		w.groups[id] = sh
	}
	if sh.size != size {
		return nil, fmt.Errorf("loopback: group %d size mismatch: %d vs %d", id, sh.size, size)
	}
	sh.members++
	return sh, nil
}

func (w *World) detach(sh *shared) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sh.members--
	if sh.members == 0 && w.groups[sh.id] == sh {
		delete(w.groups, sh.id)
	}
}

// Groups reports the number of live engine groups.
func (w *World) Groups() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.groups)
}

type exchangeKey struct {
	comm uint32
	seq  uint64
}

type exchangeRound struct {
	data   [][]byte
	filled int
	read   int
}

// exchange is a blocking allgather rendezvous used for out-of-band traffic.
type exchange struct {
	mu     sync.Mutex
	cond   *sync.Cond
	rounds map[exchangeKey]*exchangeRound
}

func newExchange() *exchange {
	e := &exchange{rounds: make(map[exchangeKey]*exchangeRound)}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *exchange) allgather(key exchangeKey, size, rank int, send []byte) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	rd, ok := e.rounds[key]
	if !ok {
		rd = &exchangeRound{data: make([][]byte, size)}
		e.rounds[key] = rd
	}
	rd.data[rank] = append([]byte(nil), send...)
	rd.filled++
	if rd.filled == size {
		e.cond.Broadcast()
	}
	for rd.filled < size {
		e.cond.Wait()
	}
	out := rd.data
	rd.read++
	if rd.read == size {
		delete(e.rounds, key)
	}
	return out
}
