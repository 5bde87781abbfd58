package coll

import (
	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// Allreduce combines count elements of dt from every rank with op and leaves
// the result in rbuf on all ranks. sbuf may be host.InPlace.
func (m *Module) Allreduce(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op) error {
	return m.blocking(KindAllreduce, m.allreduceBuilder(sbuf, rbuf, count, dt, op), func() error {
		return m.prev.Allreduce(sbuf, rbuf, count, dt, op)
	})
}

// AllreduceCached is Allreduce served from the request cache.
func (m *Module) AllreduceCached(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op) error {
	return m.blockingCached(KindAllreduce, allreduceSignature(sbuf, rbuf, count, dt, op),
		m.allreduceBuilder(sbuf, rbuf, count, dt, op), func() error {
			return m.prev.Allreduce(sbuf, rbuf, count, dt, op)
		})
}

// Iallreduce is the non-blocking form of Allreduce.
func (m *Module) Iallreduce(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op) (*host.Request, error) {
	return m.nonblocking(KindIallreduce, m.allreduceBuilder(sbuf, rbuf, count, dt, op), func() (*host.Request, error) {
		return m.prev.Iallreduce(sbuf, rbuf, count, dt, op)
	})
}

// IallreduceCached is Iallreduce served from the request cache.
func (m *Module) IallreduceCached(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op) (*host.Request, error) {
	return m.nonblockingCached(KindIallreduce, allreduceSignature(sbuf, rbuf, count, dt, op),
		m.allreduceBuilder(sbuf, rbuf, count, dt, op), func() (*host.Request, error) {
			return m.prev.Iallreduce(sbuf, rbuf, count, dt, op)
		})
}

// AllreduceInit creates a persistent allreduce.
func (m *Module) AllreduceInit(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op, info host.Info) (*host.Request, error) {
	return m.persistent(KindAllreduce, m.allreduceBuilder(sbuf, rbuf, count, dt, op), func() (*host.Request, error) {
		return m.prev.AllreduceInit(sbuf, rbuf, count, dt, op, info)
	})
}

func allreduceSignature(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op) *allreduceArgs {
	return &allreduceArgs{sbuf: refOf(sbuf), rbuf: refOf(rbuf), count: count, dt: dt, op: op}
}

func (m *Module) allreduceBuilder(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op) builder {
	return func(r *request, mode engine.RequestMode) (engine.Request, error) {
		edt, eop, err := m.adapt(r, dt, op)
		if err != nil {
			return nil, err
		}
		return m.group.Allreduce(engineBuf(sbuf), rbuf, count, edt, eop, r.infoPtr(), mode)
	}
}
