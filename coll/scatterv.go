package coll

import (
	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// Scatterv distributes variable-sized blocks of sbuf on root to every rank.
// The send arguments are only read on root; root may pass host.InPlace as rbuf.
func (m *Module) Scatterv(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
	rbuf []byte, rcount int, rdt *host.Datatype, root int) error {
	b := m.scattervBuilder(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	return m.blocking(KindScatterv, b, func() error {
		return m.prev.Scatterv(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	})
}

// ScattervCached is Scatterv served from the request cache.
func (m *Module) ScattervCached(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
	rbuf []byte, rcount int, rdt *host.Datatype, root int) error {
	args := m.scattervSignature(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	b := m.scattervBuilder(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	return m.blockingCached(KindScatterv, args, b, func() error {
		return m.prev.Scatterv(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	})
}

// Iscatterv is the non-blocking form of Scatterv.
func (m *Module) Iscatterv(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
	rbuf []byte, rcount int, rdt *host.Datatype, root int) (*host.Request, error) {
	b := m.scattervBuilder(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	return m.nonblocking(KindIscatterv, b, func() (*host.Request, error) {
		return m.prev.Iscatterv(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	})
}

// IscattervCached is Iscatterv served from the request cache.
func (m *Module) IscattervCached(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
	rbuf []byte, rcount int, rdt *host.Datatype, root int) (*host.Request, error) {
	args := m.scattervSignature(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	b := m.scattervBuilder(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	return m.nonblockingCached(KindIscatterv, args, b, func() (*host.Request, error) {
		return m.prev.Iscatterv(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	})
}

// ScattervInit creates a persistent scatterv.
func (m *Module) ScattervInit(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
	rbuf []byte, rcount int, rdt *host.Datatype, root int, info host.Info) (*host.Request, error) {
	b := m.scattervBuilder(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
	return m.persistent(KindScatterv, b, func() (*host.Request, error) {
		return m.prev.ScattervInit(sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root, info)
	})
}

// scattervSignature captures the send side only on root, where it is meaningful.
func (m *Module) scattervSignature(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
	rbuf []byte, rcount int, rdt *host.Datatype, root int) *scattervArgs {
	args := &scattervArgs{
		isRoot: m.comm.Rank() == root,
		rbuf:   refOf(rbuf),
		rcount: rcount,
		rdt:    rdt,
		root:   root,
	}
	if args.isRoot {
		n := m.comm.Size()
		args.sbuf = refOf(sbuf)
		args.scounts = arrayOf(scounts, n)
		args.displs = arrayOf(displs, n)
		args.sdt = sdt
	}
	return args
}

func (m *Module) scattervBuilder(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
	rbuf []byte, rcount int, rdt *host.Datatype, root int) builder {
	return func(r *request, mode engine.RequestMode) (engine.Request, error) {
		isRoot := m.comm.Rank() == root
		send, recv := sdt, rdt
		if !isRoot {
			send = nil
		}
		if isRoot && host.IsInPlace(rbuf) {
			recv = nil
		}
		esdt, erdt, err := m.adaptPair(r, send, recv)
		if err != nil {
			return nil, err
		}
		return m.group.Scatterv(sbuf, scounts, displs, esdt,
			engineBuf(rbuf), rcount, erdt, root, r.infoPtr(), mode)
	}
}
