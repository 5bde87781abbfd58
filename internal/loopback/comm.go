package loopback

import (
	"fmt"

	"github.com/rocketbitz/ucg-go/host"
)

// Comm is one rank's view of a loopback communicator.
type Comm struct {
	world   *World
	id      uint32
	name    string
	members []int
	rank    int
	inter   bool
	oobSeq  uint64
}

var _ host.Comm = (*Comm)(nil)

// WorldComm returns the world communicator as seen by rank.
func (w *World) WorldComm(rank int) *Comm {
	members := make([]int, w.size)
	for i := range members {
		members[i] = i
	}
	return &Comm{world: w, id: WorldCommID, name: "world", members: members, rank: rank}
}

// NewComm returns worldRank's view of a communicator over members, listed by
// world rank. Every member must use the same id and member order.
func (w *World) NewComm(id uint32, name string, members []int, worldRank int) (*Comm, error) {
	if id == WorldCommID {
		return nil, fmt.Errorf("loopback: communicator id %d is reserved", id)
	}
	rank := -1
	for i, m := range members {
		if m < 0 || m >= w.size {
			return nil, fmt.Errorf("loopback: member %d outside world of %d", m, w.size)
		}
		if m == worldRank {
			rank = i
		}
	}
	if rank < 0 {
		return nil, fmt.Errorf("loopback: world rank %d is not a member of %q", worldRank, name)
	}
	return &Comm{world: w, id: id, name: name, members: append([]int(nil), members...), rank: rank}, nil
}

// AsInter marks the communicator as an inter-communicator.
func (c *Comm) AsInter() *Comm {
	cp := *c
	cp.inter = true
	return &cp
}

func (c *Comm) ID() uint32 { return c.id }

func (c *Comm) Name() string { return c.name }

func (c *Comm) Size() int { return len(c.members) }

func (c *Comm) Rank() int { return c.rank }

func (c *Comm) IsInter() bool { return c.inter }

func (c *Comm) IsWorld() bool { return c.id == WorldCommID }

func (c *Comm) WorldRank(rank int) int { return c.members[rank] }

// Allgather blocks until every member contributed.
func (c *Comm) Allgather(send, recv []byte) error {
	if len(recv) < len(send)*len(c.members) {
		return fmt.Errorf("loopback: allgather recv holds %d bytes, need %d", len(recv), len(send)*len(c.members))
	}
	c.oobSeq++
	parts := c.world.oob.allgather(exchangeKey{comm: c.id, seq: c.oobSeq}, len(c.members), c.rank, send)
	off := 0
	for i, p := range parts {
		if len(p) != len(send) {
			return fmt.Errorf("loopback: allgather member %d sent %d bytes, expected %d", i, len(p), len(send))
		}
		off += copy(recv[off:], p)
	}
	return nil
}
