package coll

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/rocketbitz/ucg-go/host"
	"github.com/rocketbitz/ucg-go/internal/pool"
)

// Kind identifies a collective and whether it was issued blocking or not.
type Kind uint8

const (
	KindBcast Kind = iota
	KindIbcast
	KindBarrier
	KindIbarrier
	KindAllreduce
	KindIallreduce
	KindAlltoallv
	KindIalltoallv
	KindScatterv
	KindIscatterv
	KindGatherv
	KindIgatherv
	KindAllgatherv
	KindIallgatherv
	numKinds
)

var kindColl = [numKinds]collName{
	KindBcast: collBcast, KindIbcast: collBcast,
	KindBarrier: collBarrier, KindIbarrier: collBarrier,
	KindAllreduce: collAllreduce, KindIallreduce: collAllreduce,
	KindAlltoallv: collAlltoallv, KindIalltoallv: collAlltoallv,
	KindScatterv: collScatterv, KindIscatterv: collScatterv,
	KindGatherv: collGatherv, KindIgatherv: collGatherv,
	KindAllgatherv: collAllgatherv, KindIallgatherv: collAllgatherv,
}

func (k Kind) String() string {
	if k >= numKinds {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	if k.Nonblocking() {
		return "i" + string(kindColl[k])
	}
	return string(kindColl[k])
}

// Nonblocking reports whether k is the non-blocking form.
func (k Kind) Nonblocking() bool { return k%2 == 1 }

func (k Kind) coll() collName {
	if k >= numKinds {
		return ""
	}
	return kindColl[k]
}

// match is the outcome of comparing a cached signature against a probe.
type match uint8

const (
	matchNone match = iota
	matchHit
	// matchStale means the probe names the cached entry's arrays by the same
	// pointer but their contents changed since capture.
	matchStale
)

// signature identifies a repeat call. comm is the engine group id.
type signature struct {
	kind Kind
	comm uint32
	args callArgs
}

func (s *signature) equal(probe *signature) match {
	if s.kind != probe.kind || s.comm != probe.comm {
		return matchNone
	}
	return s.args.equal(probe.args)
}

// callArgs is the per-collective part of a signature. Implementations are
// pointer types so capture can redirect array views into pooled storage.
type callArgs interface {
	// equal compares a cached variant (the receiver) with a probe of the same kind.
	equal(probe callArgs) match
	// arrays lists the array fields that need a deep copy, in capture order.
	arrays() []*arrayRef
	retain()
	release()
}

// bufRef identifies a caller buffer by its data pointer and length.
type bufRef struct {
	ptr uintptr
	n   int
}

func refOf(b []byte) bufRef {
	return bufRef{ptr: uintptr(unsafe.Pointer(unsafe.SliceData(b))), n: len(b)}
}

// arrayRef identifies a caller count or displacement array. ptr is the
// caller's array; vals is the caller's array in a probe and the pooled deep
// copy once captured.
type arrayRef struct {
	ptr  uintptr
	vals []int32
}

func arrayOf(a []int32, n int) arrayRef {
	if len(a) > n {
		a = a[:n]
	}
	return arrayRef{ptr: uintptr(unsafe.Pointer(unsafe.SliceData(a))), vals: a}
}

func (a *arrayRef) equal(probe *arrayRef) match {
	if a.ptr != probe.ptr || len(a.vals) != len(probe.vals) {
		return matchNone
	}
	if !slices.Equal(a.vals, probe.vals) {
		return matchStale
	}
	return matchHit
}

// combine folds field results: any mismatch wins, then staleness.
func combine(results ...match) match {
	out := matchHit
	for _, r := range results {
		switch r {
		case matchNone:
			return matchNone
		case matchStale:
			out = matchStale
		}
	}
	return out
}

func same(ok bool) match {
	if ok {
		return matchHit
	}
	return matchNone
}

func mismatched(cached, probe callArgs) {
	panic(fmt.Sprintf("ucg coll: signature variant %T compared with %T", cached, probe))
}

type bcastArgs struct {
	buf   bufRef
	count int
	dt    *host.Datatype
	root  int
}

func (a *bcastArgs) equal(probe callArgs) match {
	p, ok := probe.(*bcastArgs)
	if !ok {
		mismatched(a, probe)
	}
	return same(*a == *p)
}

func (a *bcastArgs) arrays() []*arrayRef { return nil }
func (a *bcastArgs) retain()             { a.dt.Retain() }
func (a *bcastArgs) release()            { a.dt.Release() }

type barrierArgs struct{}

func (a *barrierArgs) equal(probe callArgs) match {
	if _, ok := probe.(*barrierArgs); !ok {
		mismatched(a, probe)
	}
	return matchHit
}

func (a *barrierArgs) arrays() []*arrayRef { return nil }
func (a *barrierArgs) retain()             {}
func (a *barrierArgs) release()            {}

type allreduceArgs struct {
	sbuf, rbuf bufRef
	count      int
	dt         *host.Datatype
	op         *host.Op
}

func (a *allreduceArgs) equal(probe callArgs) match {
	p, ok := probe.(*allreduceArgs)
	if !ok {
		mismatched(a, probe)
	}
	return same(*a == *p)
}

func (a *allreduceArgs) arrays() []*arrayRef { return nil }

func (a *allreduceArgs) retain() {
	a.dt.Retain()
	a.op.Retain()
}

func (a *allreduceArgs) release() {
	a.dt.Release()
	a.op.Release()
}

type alltoallvArgs struct {
	sbuf             bufRef
	scounts, sdispls arrayRef
	sdt              *host.Datatype
	rbuf             bufRef
	rcounts, rdispls arrayRef
	rdt              *host.Datatype
}

func (a *alltoallvArgs) equal(probe callArgs) match {
	p, ok := probe.(*alltoallvArgs)
	if !ok {
		mismatched(a, probe)
	}
	if a.sbuf != p.sbuf || a.sdt != p.sdt || a.rbuf != p.rbuf || a.rdt != p.rdt {
		return matchNone
	}
	return combine(a.scounts.equal(&p.scounts), a.sdispls.equal(&p.sdispls),
		a.rcounts.equal(&p.rcounts), a.rdispls.equal(&p.rdispls))
}

func (a *alltoallvArgs) arrays() []*arrayRef {
	return []*arrayRef{&a.scounts, &a.sdispls, &a.rcounts, &a.rdispls}
}

func (a *alltoallvArgs) retain() {
	a.sdt.Retain()
	a.rdt.Retain()
}

func (a *alltoallvArgs) release() {
	a.sdt.Release()
	a.rdt.Release()
}

// scattervArgs keeps the send side only on the root.
type scattervArgs struct {
	isRoot          bool
	sbuf            bufRef
	scounts, displs arrayRef
	sdt             *host.Datatype
	rbuf            bufRef
	rcount          int
	rdt             *host.Datatype
	root            int
}

func (a *scattervArgs) equal(probe callArgs) match {
	p, ok := probe.(*scattervArgs)
	if !ok {
		mismatched(a, probe)
	}
	if a.rbuf != p.rbuf || a.rcount != p.rcount || a.rdt != p.rdt || a.root != p.root {
		return matchNone
	}
	if !a.isRoot {
		return matchHit
	}
	if a.sbuf != p.sbuf || a.sdt != p.sdt {
		return matchNone
	}
	return combine(a.scounts.equal(&p.scounts), a.displs.equal(&p.displs))
}

func (a *scattervArgs) arrays() []*arrayRef {
	if !a.isRoot {
		return nil
	}
	return []*arrayRef{&a.scounts, &a.displs}
}

func (a *scattervArgs) retain() {
	a.sdt.Retain()
	a.rdt.Retain()
}

func (a *scattervArgs) release() {
	a.sdt.Release()
	a.rdt.Release()
}

// gathervArgs keeps the receive side only on the root.
type gathervArgs struct {
	isRoot          bool
	sbuf            bufRef
	scount          int
	sdt             *host.Datatype
	rbuf            bufRef
	rcounts, displs arrayRef
	rdt             *host.Datatype
	root            int
}

func (a *gathervArgs) equal(probe callArgs) match {
	p, ok := probe.(*gathervArgs)
	if !ok {
		mismatched(a, probe)
	}
	if a.sbuf != p.sbuf || a.scount != p.scount || a.sdt != p.sdt || a.root != p.root {
		return matchNone
	}
	if !a.isRoot {
		return matchHit
	}
	if a.rbuf != p.rbuf || a.rdt != p.rdt {
		return matchNone
	}
	return combine(a.rcounts.equal(&p.rcounts), a.displs.equal(&p.displs))
}

func (a *gathervArgs) arrays() []*arrayRef {
	if !a.isRoot {
		return nil
	}
	return []*arrayRef{&a.rcounts, &a.displs}
}

func (a *gathervArgs) retain() {
	a.sdt.Retain()
	a.rdt.Retain()
}

func (a *gathervArgs) release() {
	a.sdt.Release()
	a.rdt.Release()
}

type allgathervArgs struct {
	sbuf            bufRef
	scount          int
	sdt             *host.Datatype
	rbuf            bufRef
	rcounts, displs arrayRef
	rdt             *host.Datatype
}

func (a *allgathervArgs) equal(probe callArgs) match {
	p, ok := probe.(*allgathervArgs)
	if !ok {
		mismatched(a, probe)
	}
	if a.sbuf != p.sbuf || a.scount != p.scount || a.sdt != p.sdt || a.rbuf != p.rbuf || a.rdt != p.rdt {
		return matchNone
	}
	return combine(a.rcounts.equal(&p.rcounts), a.displs.equal(&p.displs))
}

func (a *allgathervArgs) arrays() []*arrayRef {
	return []*arrayRef{&a.rcounts, &a.displs}
}

func (a *allgathervArgs) retain() {
	a.sdt.Retain()
	a.rdt.Retain()
}

func (a *allgathervArgs) release() {
	a.sdt.Release()
	a.rdt.Release()
}

// capture deep-copies the signature's arrays into a pooled args record and
// takes references on its datatypes and operation.
func (s *signature) capture(args *pool.ArgsPool) (pool.ArgsHandle, error) {
	checkVariant(s)
	h := pool.NoArgs
	if refs := s.args.arrays(); len(refs) > 0 {
		var err error
		if h, err = args.Acquire(); err != nil {
			return pool.NoArgs, err
		}
		for i, ref := range refs {
			dst := args.Array(h, i, len(ref.vals))
			if dst == nil {
				args.Release(h)
				return pool.NoArgs, fmt.Errorf("%w: %d entries exceed args width %d", ErrResourceExhausted, len(ref.vals), args.Width())
			}
			copy(dst, ref.vals)
			ref.vals = dst
		}
	}
	s.args.retain()
	return h, nil
}

// uncapture drops the references taken by capture.
func (s *signature) uncapture(args *pool.ArgsPool, h pool.ArgsHandle) {
	checkVariant(s)
	s.args.release()
	args.Release(h)
	s.args = nil
}

// checkVariant aborts on a signature whose variant does not belong to its kind.
func checkVariant(s *signature) {
	ok := false
	switch s.args.(type) {
	case *bcastArgs:
		ok = s.kind == KindBcast || s.kind == KindIbcast
	case *barrierArgs:
		ok = s.kind == KindBarrier || s.kind == KindIbarrier
	case *allreduceArgs:
		ok = s.kind == KindAllreduce || s.kind == KindIallreduce
	case *alltoallvArgs:
		ok = s.kind == KindAlltoallv || s.kind == KindIalltoallv
	case *scattervArgs:
		ok = s.kind == KindScatterv || s.kind == KindIscatterv
	case *gathervArgs:
		ok = s.kind == KindGatherv || s.kind == KindIgatherv
	case *allgathervArgs:
		ok = s.kind == KindAllgatherv || s.kind == KindIallgatherv
	}
	if !ok {
		panic(fmt.Sprintf("ucg coll: unsupported collective signature %s/%T", s.kind, s.args))
	}
}
