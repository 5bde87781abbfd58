package coll

import (
	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// Allgatherv collects a variable-sized block from every rank into rbuf on all
// ranks. With host.InPlace as sbuf each rank contributes its own slot of rbuf.
func (m *Module) Allgatherv(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype) error {
	b := m.allgathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	return m.blocking(KindAllgatherv, b, func() error {
		return m.prev.Allgatherv(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	})
}

func (m *Module) AllgathervCached(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype) error {
	args := m.allgathervSignature(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	b := m.allgathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	return m.blockingCached(KindAllgatherv, args, b, func() error {
		return m.prev.Allgatherv(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	})
}

func (m *Module) Iallgatherv(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype) (*host.Request, error) {
	b := m.allgathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	return m.nonblocking(KindIallgatherv, b, func() (*host.Request, error) {
		return m.prev.Iallgatherv(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	})
}

func (m *Module) IallgathervCached(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype) (*host.Request, error) {
	args := m.allgathervSignature(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	b := m.allgathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	return m.nonblockingCached(KindIallgatherv, args, b, func() (*host.Request, error) {
		return m.prev.Iallgatherv(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	})
}

func (m *Module) AllgathervInit(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, info host.Info) (*host.Request, error) {
	b := m.allgathervBuilder(sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
	return m.persistent(KindAllgatherv, b, func() (*host.Request, error) {
		return m.prev.AllgathervInit(sbuf, scount, sdt, rbuf, rcounts, displs, rdt, info)
	})
}

func (m *Module) allgathervSignature(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype) *allgathervArgs {
	n := m.comm.Size()
	return &allgathervArgs{
		sbuf:    refOf(sbuf),
		scount:  scount,
		sdt:     sdt,
		rbuf:    refOf(rbuf),
		rcounts: arrayOf(rcounts, n),
		displs:  arrayOf(displs, n),
		rdt:     rdt,
	}
}

func (m *Module) allgathervBuilder(sbuf []byte, scount int, sdt *host.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *host.Datatype) builder {
	return func(r *request, mode engine.RequestMode) (engine.Request, error) {
		send := sdt
		if host.IsInPlace(sbuf) {
			send = nil
		}
		esdt, erdt, err := m.adaptPair(r, send, rdt)
		if err != nil {
			return nil, err
		}
		return m.group.Allgatherv(engineBuf(sbuf), scount, esdt,
			rbuf, rcounts, displs, erdt, r.infoPtr(), mode)
	}
}
