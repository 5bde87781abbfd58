package loopback

import (
	"github.com/rocketbitz/ucg-go/engine"
)

func (g *group) validRoot(root int) bool { return root >= 0 && root < g.Size() }

func (g *group) validArrays(arrays ...[]int32) bool {
	for _, a := range arrays {
		if len(a) < g.Size() {
			return false
		}
		for _, v := range a {
			if v < 0 {
				return false
			}
		}
	}
	return true
}

func broadcastParts(n int, payload []byte) [][]byte {
	parts := make([][]byte, n)
	for i := range parts {
		parts[i] = payload
	}
	return parts
}

func (g *group) Barrier(info *engine.RequestInfo, _ engine.RequestMode) (engine.Request, error) {
	return g.newRequest("barrier", info,
		func() ([][]byte, engine.Status) { return nil, engine.StatusOK },
		func([][]byte) engine.Status { return engine.StatusOK })
}

func (g *group) Bcast(buf []byte, count int, dt *engine.Datatype, root int,
	info *engine.RequestInfo, _ engine.RequestMode) (engine.Request, error) {
	if dt == nil || count < 0 || !g.validRoot(root) || len(buf) < span(count, dt) {
		return nil, engine.ErrInvalidParam.WithOp("bcast")
	}
	w := g.ctx.world
	return g.newRequest("bcast", info,
		func() ([][]byte, engine.Status) {
			if g.rank != root {
				return nil, engine.StatusOK
			}
			payload, st := w.pack(buf, count, dt)
			return broadcastParts(g.Size(), payload), st
		},
		func(in [][]byte) engine.Status {
			if g.rank == root {
				return engine.StatusOK
			}
			return w.unpack(buf, count, dt, in[root])
		})
}

func (g *group) Allreduce(sbuf, rbuf []byte, count int, dt *engine.Datatype, op *engine.Op,
	info *engine.RequestInfo, _ engine.RequestMode) (engine.Request, error) {
	if dt == nil || !op.Live() || count < 0 || len(rbuf) < span(count, dt) {
		return nil, engine.ErrInvalidParam.WithOp("allreduce")
	}
	if !engine.IsInPlace(sbuf) && len(sbuf) < span(count, dt) {
		return nil, engine.ErrInvalidParam.WithOp("allreduce")
	}
	if op.Kind() != engine.OpUser && dt.Kind() == engine.DtUser {
		return nil, engine.ErrUnsupported.WithOp("allreduce")
	}
	w := g.ctx.world
	return g.newRequest("allreduce", info,
		func() ([][]byte, engine.Status) {
			src := sbuf
			if engine.IsInPlace(sbuf) {
				src = rbuf
			}
			payload, st := w.pack(src, count, dt)
			return broadcastParts(g.Size(), payload), st
		},
		func(in [][]byte) engine.Status {
			result, st := w.reduce(in, count, dt, op)
			if st.Failed() {
				return st
			}
			return w.unpack(rbuf, count, dt, result)
		})
}

func (g *group) Alltoallv(sbuf []byte, scounts, sdispls []int32, sdt *engine.Datatype,
	rbuf []byte, rcounts, rdispls []int32, rdt *engine.Datatype,
	info *engine.RequestInfo, _ engine.RequestMode) (engine.Request, error) {
	inPlace := engine.IsInPlace(sbuf)
	if rdt == nil || !g.validArrays(rcounts, rdispls) {
		return nil, engine.ErrInvalidParam.WithOp("alltoallv")
	}
	if !inPlace && (sdt == nil || !g.validArrays(scounts, sdispls)) {
		return nil, engine.ErrInvalidParam.WithOp("alltoallv")
	}
	w := g.ctx.world
	n := g.Size()
	return g.newRequest("alltoallv", info,
		func() ([][]byte, engine.Status) {
			src, counts, displs, dt := sbuf, scounts, sdispls, sdt
			if inPlace {
				src, counts, displs, dt = rbuf, rcounts, rdispls, rdt
			}
			parts := make([][]byte, n)
			for dst := 0; dst < n; dst++ {
				from, ok := at(src, displs[dst], dt)
				if !ok {
					return nil, engine.ErrInvalidParam
				}
				payload, st := w.pack(from, int(counts[dst]), dt)
				if st.Failed() {
					return nil, st
				}
				parts[dst] = payload
			}
			return parts, engine.StatusOK
		},
		func(in [][]byte) engine.Status {
			for src := 0; src < n; src++ {
				to, ok := at(rbuf, rdispls[src], rdt)
				if !ok {
					return engine.ErrInvalidParam
				}
				if st := w.unpack(to, int(rcounts[src]), rdt, in[src]); st.Failed() {
					return st
				}
			}
			return engine.StatusOK
		})
}

func (g *group) Scatterv(sbuf []byte, scounts, displs []int32, sdt *engine.Datatype,
	rbuf []byte, rcount int, rdt *engine.Datatype, root int,
	info *engine.RequestInfo, _ engine.RequestMode) (engine.Request, error) {
	if !g.validRoot(root) {
		return nil, engine.ErrInvalidParam.WithOp("scatterv")
	}
	isRoot := g.rank == root
	inPlace := isRoot && engine.IsInPlace(rbuf)
	if isRoot && (sdt == nil || !g.validArrays(scounts, displs)) {
		return nil, engine.ErrInvalidParam.WithOp("scatterv")
	}
	if !inPlace && (rdt == nil || rcount < 0 || len(rbuf) < span(rcount, rdt)) {
		return nil, engine.ErrInvalidParam.WithOp("scatterv")
	}
	w := g.ctx.world
	n := g.Size()
	return g.newRequest("scatterv", info,
		func() ([][]byte, engine.Status) {
			if !isRoot {
				return nil, engine.StatusOK
			}
			parts := make([][]byte, n)
			for dst := 0; dst < n; dst++ {
				if dst == root && inPlace {
					continue
				}
				from, ok := at(sbuf, displs[dst], sdt)
				if !ok {
					return nil, engine.ErrInvalidParam
				}
				payload, st := w.pack(from, int(scounts[dst]), sdt)
				if st.Failed() {
					return nil, st
				}
				parts[dst] = payload
			}
			return parts, engine.StatusOK
		},
		func(in [][]byte) engine.Status {
			if inPlace {
				return engine.StatusOK
			}
			return w.unpack(rbuf, rcount, rdt, in[root])
		})
}

func (g *group) Gatherv(sbuf []byte, scount int, sdt *engine.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *engine.Datatype, root int,
	info *engine.RequestInfo, _ engine.RequestMode) (engine.Request, error) {
	if !g.validRoot(root) {
		return nil, engine.ErrInvalidParam.WithOp("gatherv")
	}
	isRoot := g.rank == root
	inPlace := isRoot && engine.IsInPlace(sbuf)
	if isRoot && (rdt == nil || !g.validArrays(rcounts, displs)) {
		return nil, engine.ErrInvalidParam.WithOp("gatherv")
	}
	if !inPlace && (sdt == nil || scount < 0 || len(sbuf) < span(scount, sdt)) {
		return nil, engine.ErrInvalidParam.WithOp("gatherv")
	}
	w := g.ctx.world
	n := g.Size()
	return g.newRequest("gatherv", info,
		func() ([][]byte, engine.Status) {
			if inPlace {
				return nil, engine.StatusOK
			}
			payload, st := w.pack(sbuf, scount, sdt)
			if st.Failed() {
				return nil, st
			}
			parts := make([][]byte, n)
			parts[root] = payload
			return parts, engine.StatusOK
		},
		func(in [][]byte) engine.Status {
			if !isRoot {
				return engine.StatusOK
			}
			for src := 0; src < n; src++ {
				if src == root && inPlace {
					continue
				}
				to, ok := at(rbuf, displs[src], rdt)
				if !ok {
					return engine.ErrInvalidParam
				}
				if st := w.unpack(to, int(rcounts[src]), rdt, in[src]); st.Failed() {
					return st
				}
			}
			return engine.StatusOK
		})
}

func (g *group) Allgatherv(sbuf []byte, scount int, sdt *engine.Datatype,
	rbuf []byte, rcounts, displs []int32, rdt *engine.Datatype,
	info *engine.RequestInfo, _ engine.RequestMode) (engine.Request, error) {
	inPlace := engine.IsInPlace(sbuf)
	if rdt == nil || !g.validArrays(rcounts, displs) {
		return nil, engine.ErrInvalidParam.WithOp("allgatherv")
	}
	if !inPlace && (sdt == nil || scount < 0 || len(sbuf) < span(scount, sdt)) {
		return nil, engine.ErrInvalidParam.WithOp("allgatherv")
	}
	w := g.ctx.world
	n := g.Size()
	return g.newRequest("allgatherv", info,
		func() ([][]byte, engine.Status) {
			var payload []byte
			var st engine.Status
			if inPlace {
				from, ok := at(rbuf, displs[g.rank], rdt)
				if !ok {
					return nil, engine.ErrInvalidParam
				}
				payload, st = w.pack(from, int(rcounts[g.rank]), rdt)
			} else {
				payload, st = w.pack(sbuf, scount, sdt)
			}
			if st.Failed() {
				return nil, st
			}
			return broadcastParts(n, payload), engine.StatusOK
		},
		func(in [][]byte) engine.Status {
			for src := 0; src < n; src++ {
				if src == g.rank && inPlace {
					continue
				}
				to, ok := at(rbuf, displs[src], rdt)
				if !ok {
					return engine.ErrInvalidParam
				}
				if st := w.unpack(to, int(rcounts[src]), rdt, in[src]); st.Failed() {
					return st
				}
			}
			return engine.StatusOK
		})
}
