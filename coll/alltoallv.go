package coll

import (
	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// Alltoallv exchanges variable-sized blocks between every pair of ranks.
// Counts and displacements are in elements of the paired datatype.
func (m *Module) Alltoallv(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
	rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype) error {
	b := m.alltoallvBuilder(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	return m.blocking(KindAlltoallv, b, func() error {
		return m.prev.Alltoallv(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	})
}

// AlltoallvCached is Alltoallv served from the request cache. A cached entry
// only matches when the count and displacement arrays are the same arrays
// with the same contents as when it was built.
func (m *Module) AlltoallvCached(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
	rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype) error {
	args := m.alltoallvSignature(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	b := m.alltoallvBuilder(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	return m.blockingCached(KindAlltoallv, args, b, func() error {
		return m.prev.Alltoallv(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	})
}

// Ialltoallv is the non-blocking form of Alltoallv.
func (m *Module) Ialltoallv(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
	rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype) (*host.Request, error) {
	b := m.alltoallvBuilder(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	return m.nonblocking(KindIalltoallv, b, func() (*host.Request, error) {
		return m.prev.Ialltoallv(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	})
}

// IalltoallvCached is Ialltoallv served from the request cache.
func (m *Module) IalltoallvCached(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
	rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype) (*host.Request, error) {
	args := m.alltoallvSignature(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	b := m.alltoallvBuilder(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	return m.nonblockingCached(KindIalltoallv, args, b, func() (*host.Request, error) {
		return m.prev.Ialltoallv(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	})
}

// AlltoallvInit creates a persistent alltoallv.
func (m *Module) AlltoallvInit(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
	rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype, info host.Info) (*host.Request, error) {
	b := m.alltoallvBuilder(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
	return m.persistent(KindAlltoallv, b, func() (*host.Request, error) {
		return m.prev.AlltoallvInit(sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt, info)
	})
}

func (m *Module) alltoallvSignature(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
	rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype) *alltoallvArgs {
	n := m.comm.Size()
	return &alltoallvArgs{
		sbuf:    refOf(sbuf),
		scounts: arrayOf(scounts, n),
		sdispls: arrayOf(sdispls, n),
		sdt:     sdt,
		rbuf:    refOf(rbuf),
		rcounts: arrayOf(rcounts, n),
		rdispls: arrayOf(rdispls, n),
		rdt:     rdt,
	}
}

func (m *Module) alltoallvBuilder(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
	rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype) builder {
	return func(r *request, mode engine.RequestMode) (engine.Request, error) {
		send := sdt
		if host.IsInPlace(sbuf) {
			send = nil
		}
		esdt, erdt, err := m.adaptPair(r, send, rdt)
		if err != nil {
			return nil, err
		}
		return m.group.Alltoallv(engineBuf(sbuf), scounts, sdispls, esdt,
			rbuf, rcounts, rdispls, erdt, r.infoPtr(), mode)
	}
}
