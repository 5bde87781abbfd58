package loopback

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/ucg-go/engine"
)

// Context is a rank's engine context.
type Context struct {
	world *World
	rank  int

	mu     sync.Mutex
	active map[*request]struct{}

	liveDatatypes atomic.Int64
	liveOps       atomic.Int64
}

var _ engine.Context = (*Context)(nil)

// Rank is the world rank that owns the context.
func (c *Context) Rank() int { return c.rank }

// LiveDatatypes reports datatypes created and not yet destroyed.
func (c *Context) LiveDatatypes() int64 { return c.liveDatatypes.Load() }

// LiveOps reports predefined operations created and not yet destroyed.
func (c *Context) LiveOps() int64 { return c.liveOps.Load() }

func (c *Context) CreateDatatype(p engine.DatatypeParams) (*engine.Datatype, error) {
	if p.Kind > engine.DtUser {
		return nil, engine.ErrInvalidParam.WithOp("dt_create")
	}
	if p.Kind == engine.DtUser {
		if p.Size != p.Extent && p.Conv == nil {
			return nil, engine.ErrInvalidParam.WithOp("dt_create")
		}
		if h := p.Conv; h != nil {
			if h.StartPack == nil || h.Pack == nil || h.StartUnpack == nil || h.Unpack == nil || h.Finish == nil {
				return nil, engine.ErrInvalidParam.WithOp("dt_create")
			}
		}
	}
	c.liveDatatypes.Add(1)
	return engine.NewDatatype(p), nil
}

func (c *Context) DestroyDatatype(dt *engine.Datatype) {
	if dt != nil {
		c.liveDatatypes.Add(-1)
	}
}

func (c *Context) CreateOp(p engine.OpParams) (*engine.Op, error) {
	if p.Kind >= engine.OpUser {
		return nil, engine.ErrInvalidParam.WithOp("op_create")
	}
	op := new(engine.Op)
	engine.InitOp(op, p)
	c.liveOps.Add(1)
	return op, nil
}

func (c *Context) InitOp(p engine.OpParams, storage *engine.Op) error {
	if storage == nil || p.Kind != engine.OpUser || p.Reduce == nil {
		return engine.ErrInvalidParam.WithOp("op_init")
	}
	engine.InitOp(storage, p)
	return nil
}

func (c *Context) DestroyOp(op *engine.Op) {
	if op == nil || !op.Live() {
		return
	}
	if op.Kind() != engine.OpUser {
		c.liveOps.Add(-1)
	}
	op.Reset()
}

// CreateGroup joins the shared group state after checking the rank map
// against every member's view through the out-of-band channel.
func (c *Context) CreateGroup(p engine.GroupParams) (engine.Group, error) {
	if p.Size <= 0 || p.MyRank < 0 || p.MyRank >= p.Size {
		return nil, engine.ErrInvalidParam.WithOp("group_create")
	}
	if p.OOB.Allgather == nil {
		return nil, engine.ErrInvalidParam.WithOp("group_create")
	}
	self := make([]byte, 4)
	binary.LittleEndian.PutUint32(self, uint32(p.RankMap.Global(p.MyRank)))
	all := make([]byte, 4*p.Size)
	if err := p.OOB.Allgather(self, all); err != nil {
		return nil, fmt.Errorf("loopback: group %d bootstrap: %w", p.ID, err)
	}
	for i := 0; i < p.Size; i++ {
		got := int(binary.LittleEndian.Uint32(all[4*i:]))
		if want := p.RankMap.Global(i); got != want {
			return nil, fmt.Errorf("loopback: group %d rank %d maps to %d, member reported %d: %w",
				p.ID, i, want, got, engine.ErrInvalidParam)
		}
	}
	sh, err := c.world.attach(p.ID, p.Size)
	if err != nil {
		return nil, err
	}
	return &group{ctx: c, shared: sh, rank: p.MyRank}, nil
}

// Progress advances every started request of this rank.
func (c *Context) Progress() int {
	c.mu.Lock()
	reqs := make([]*request, 0, len(c.active))
	for r := range c.active {
		reqs = append(reqs, r)
	}
	c.mu.Unlock()

	events := 0
	for _, r := range reqs {
		if r.advance() != engine.StatusInProgress {
			events++
		}
	}
	return events
}

func (c *Context) track(r *request) {
	c.mu.Lock()
	c.active[r] = struct{}{}
	c.mu.Unlock()
}

func (c *Context) untrack(r *request) {
	c.mu.Lock()
	delete(c.active, r)
	c.mu.Unlock()
}

// Outstanding reports started requests that have not completed.
func (c *Context) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

type shared struct {
	id      uint32
	size    int
	members int

	mu     sync.Mutex
	rounds map[uint64]*round
}

type round struct {
	parts   [][][]byte
	arrived int
	pulled  int
}

func (s *shared) arrive(seq uint64, rank int, parts [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rd := s.roundLocked(seq)
	rd.parts[rank] = parts
	rd.arrived++
}

func (s *shared) roundLocked(seq uint64) *round {
	rd, ok := s.rounds[seq]
	if !ok {
		rd = &round{parts: make([][][]byte, s.size)}
		s.rounds[seq] = rd
	}
	return rd
}

// collect returns the parts addressed to rank once every member arrived.
func (s *shared) collect(seq uint64, rank int) ([][]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rd := s.roundLocked(seq)
	if rd.arrived < s.size {
		return nil, false
	}
	in := make([][]byte, s.size)
	for src, parts := range rd.parts {
		if rank < len(parts) {
			in[src] = parts[rank]
		}
	}
	rd.pulled++
	if rd.pulled == s.size {
		delete(s.rounds, seq)
	}
	return in, true
}

type group struct {
	ctx       *Context
	shared    *shared
	rank      int
	seq       uint64
	destroyed bool
}

func (g *group) ID() uint32 { return g.shared.id }

func (g *group) Size() int { return g.shared.size }

func (g *group) Rank() int { return g.rank }

func (g *group) Destroy() error {
	if g.destroyed {
		return engine.ErrInvalidState.WithOp("group_destroy")
	}
	g.destroyed = true
	g.ctx.world.detach(g.shared)
	return nil
}

func (g *group) nextSeq() uint64 {
	g.seq++
	return g.seq
}
