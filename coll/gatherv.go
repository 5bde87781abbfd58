package coll

import (
	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// Gatherv collects variable-sized blocks from every rank into rbuf on root.
// The receive arguments are only read on root; root may pass host.InPlace as sbuf.
func (m *Module) Gatherv(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int) error {
	b := m.gathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	return m.blocking(KindGatherv, b, func() error {
		return m.prev.Gatherv(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	})
}

// GathervCached is Gatherv served from the request cache.
func (m *Module) GathervCached(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int) error {
	args := m.gathervSignature(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	b := m.gathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	return m.blockingCached(KindGatherv, args, b, func() error {
		return m.prev.Gatherv(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	})
}

func (m *Module) Igatherv(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int) (*host.Request, error) {
	b := m.gathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	return m.nonblocking(KindIgatherv, b, func() (*host.Request, error) {
		return m.prev.Igatherv(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	})
}

func (m *Module) IgathervCached(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int) (*host.Request, error) {
	args := m.gathervSignature(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	b := m.gathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	return m.nonblockingCached(KindIgatherv, args, b, func() (*host.Request, error) {
		return m.prev.Igatherv(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	})
}

func (m *Module) GathervInit(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int, info host.Info) (*host.Request, error) {
	b := m.gathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
	return m.persistent(KindGatherv, b, func() (*host.Request, error) {
		return m.prev.GathervInit(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root, info)
	})
}

func (m *Module) gathervSignature(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int) *gathervArgs {
	args := &gathervArgs{
		isRoot: m.comm.Rank() == root,
		sbuf:   refOf(sbuf),
		scount: scount,
		sdt:    sdt,
		root:   root,
	}
	if args.isRoot {
		n := m.comm.Size()
		args.rbuf = refOf(rbuf)
		args.rcounts = arrayOf(rcounts, n)
		args.displs = arrayOf(displs, n)
		args.rdt = rdt
	}
	return args
}

func (m *Module) gathervBuilder(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int) builder {
	return func(r *request, mode engine.RequestMode) (engine.Request, error) {
		isRoot := m.comm.Rank() == root
		send, recv := sdt, rdt
		if !isRoot {
			recv = nil
		}
		if isRoot && host.IsInPlace(sbuf) {
			send = nil
		}
		esdt, erdt, err := m.adaptPair(r, send, recv)
		if err != nil {
			return nil, err
		}
		return m.group.Gatherv(engineBuf(sbuf), scount, esdt,
			rbuf, rcounts, displs, erdt, root, r.infoPtr(), mode)
	}
}
