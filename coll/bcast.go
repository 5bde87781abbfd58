package coll

import (
	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// Bcast sends count elements of dt in buf from root to every rank.
func (m *Module) Bcast(buf []byte, count int, dt *host.Datatype, root int) error {
	return m.blocking(KindBcast, m.bcastBuilder(buf, count, dt, root), func() error {
		return m.prev.Bcast(buf, count, dt, root)
	})
}

// BcastCached is Bcast served from the request cache.
func (m *Module) BcastCached(buf []byte, count int, dt *host.Datatype, root int) error {
	args := &bcastArgs{buf: refOf(buf), count: count, dt: dt, root: root}
	return m.blockingCached(KindBcast, args, m.bcastBuilder(buf, count, dt, root), func() error {
		return m.prev.Bcast(buf, count, dt, root)
	})
}

// Ibcast is the non-blocking form of Bcast.
func (m *Module) Ibcast(buf []byte, count int, dt *host.Datatype, root int) (*host.Request, error) {
	return m.nonblocking(KindIbcast, m.bcastBuilder(buf, count, dt, root), func() (*host.Request, error) {
		return m.prev.Ibcast(buf, count, dt, root)
	})
}

// IbcastCached is Ibcast served from the request cache.
func (m *Module) IbcastCached(buf []byte, count int, dt *host.Datatype, root int) (*host.Request, error) {
	args := &bcastArgs{buf: refOf(buf), count: count, dt: dt, root: root}
	return m.nonblockingCached(KindIbcast, args, m.bcastBuilder(buf, count, dt, root), func() (*host.Request, error) {
		return m.prev.Ibcast(buf, count, dt, root)
	})
}

// BcastInit creates a persistent broadcast.
func (m *Module) BcastInit(buf []byte, count int, dt *host.Datatype, root int, info host.Info) (*host.Request, error) {
	return m.persistent(KindBcast, m.bcastBuilder(buf, count, dt, root), func() (*host.Request, error) {
		return m.prev.BcastInit(buf, count, dt, root, info)
	})
}

func (m *Module) bcastBuilder(buf []byte, count int, dt *host.Datatype, root int) builder {
	return func(r *request, mode engine.RequestMode) (engine.Request, error) {
		edt, _, err := m.adapt(r, dt, nil)
		if err != nil {
			return nil, err
		}
		return m.group.Bcast(buf, count, edt, root, r.infoPtr(), mode)
	}
}
