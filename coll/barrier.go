package coll

import (
	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

func (m *Module) Barrier() error {
	return m.blocking(KindBarrier, m.barrierBuilder(), m.prev.Barrier)
}

func (m *Module) BarrierCached() error {
	return m.blockingCached(KindBarrier, &barrierArgs{}, m.barrierBuilder(), func() error {
		return m.prev.Barrier()
	})
}

func (m *Module) Ibarrier() (*host.Request, error) {
	return m.nonblocking(KindIbarrier, m.barrierBuilder(), func() (*host.Request, error) {
		return m.prev.Ibarrier()
	})
}

func (m *Module) IbarrierCached() (*host.Request, error) {
	return m.nonblockingCached(KindIbarrier, &barrierArgs{}, m.barrierBuilder(), func() (*host.Request, error) {
		return m.prev.Ibarrier()
	})
}

func (m *Module) BarrierInit(info host.Info) (*host.Request, error) {
	return m.persistent(KindBarrier, m.barrierBuilder(), func() (*host.Request, error) {
		return m.prev.BarrierInit(info)
	})
}

func (m *Module) barrierBuilder() builder {
	return func(r *request, mode engine.RequestMode) (engine.Request, error) {
		return m.group.Barrier(r.infoPtr(), mode)
	}
}
