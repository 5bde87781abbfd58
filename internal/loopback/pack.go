package loopback

import (
	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/internal/numeric"
)

var elemOf = [...]numeric.Elem{
	engine.DtInt8:    numeric.ElemInt8,
	engine.DtInt16:   numeric.ElemInt16,
	engine.DtInt32:   numeric.ElemInt32,
	engine.DtInt64:   numeric.ElemInt64,
	engine.DtUint8:   numeric.ElemUint8,
	engine.DtUint16:  numeric.ElemUint16,
	engine.DtUint32:  numeric.ElemUint32,
	engine.DtUint64:  numeric.ElemUint64,
	engine.DtFloat16: numeric.ElemFloat16,
	engine.DtFloat32: numeric.ElemFloat32,
	engine.DtFloat64: numeric.ElemFloat64,
}

var kernelOf = [...]numeric.Op{
	engine.OpMax:  numeric.OpMax,
	engine.OpMin:  numeric.OpMin,
	engine.OpSum:  numeric.OpSum,
	engine.OpProd: numeric.OpProd,
}

// pack stages count elements of dt from buf as contiguous bytes.
func (w *World) pack(buf []byte, count int, dt *engine.Datatype) ([]byte, engine.Status) {
	if count < 0 || dt == nil {
		return nil, engine.ErrInvalidParam
	}
	total := count * dt.Size()
	out := make([]byte, total)
	if total == 0 {
		return out, engine.StatusOK
	}
	if dt.Contiguous() {
		if len(buf) < total {
			return nil, engine.ErrInvalidParam
		}
		copy(out, buf[:total])
		return out, engine.StatusOK
	}
	p := dt.Params()
	conv := p.Conv.StartPack(buf, p.UserDT, count)
	if conv == nil {
		return nil, engine.ErrNoResource
	}
	defer p.Conv.Finish(conv)
	for off := 0; off < total; off += w.opts.ChunkSize {
		end := min(off+w.opts.ChunkSize, total)
		n, st := p.Conv.Pack(conv, uint64(off), out[off:end])
		if st.Failed() {
			return nil, st
		}
		if n != end-off {
			return nil, engine.ErrIO
		}
	}
	return out, engine.StatusOK
}

// unpack writes staged bytes into count elements of dt in buf.
func (w *World) unpack(buf []byte, count int, dt *engine.Datatype, data []byte) engine.Status {
	if count < 0 || dt == nil {
		return engine.ErrInvalidParam
	}
	total := count * dt.Size()
	if len(data) != total {
		return engine.ErrInvalidParam
	}
	if total == 0 {
		return engine.StatusOK
	}
	if dt.Contiguous() {
		if len(buf) < total {
			return engine.ErrInvalidParam
		}
		copy(buf, data)
		return engine.StatusOK
	}
	p := dt.Params()
	conv := p.Conv.StartUnpack(buf, p.UserDT, count)
	if conv == nil {
		return engine.ErrNoResource
	}
	defer p.Conv.Finish(conv)
	var offsets []int
	for off := 0; off < total; off += w.opts.ChunkSize {
		offsets = append(offsets, off)
	}
	if w.opts.OutOfOrder {
		for i, j := 0, len(offsets)-1; i < j; i, j = i+1, j-1 {
			offsets[i], offsets[j] = offsets[j], offsets[i]
		}
	}
	for _, off := range offsets {
		end := min(off+w.opts.ChunkSize, total)
		n, st := p.Conv.Unpack(conv, uint64(off), data[off:end])
		if st.Failed() {
			return st
		}
		if n != end-off {
			return engine.ErrIO
		}
	}
	return engine.StatusOK
}

// span is the number of user-buffer bytes count elements of dt occupy.
func span(count int, dt *engine.Datatype) int {
	if count <= 0 {
		return 0
	}
	p := dt.Params()
	return (count-1)*int(p.Extent) + int(p.TrueLB) + int(p.TrueExtent)
}

// at returns buf displaced by disp elements of dt.
func at(buf []byte, disp int32, dt *engine.Datatype) ([]byte, bool) {
	off := int(disp) * dt.Extent()
	if disp < 0 || off > len(buf) {
		return nil, false
	}
	return buf[off:], true
}

// reduce folds the staged contributions in rank order: in[0] op (in[1] op ...).
func (w *World) reduce(in [][]byte, count int, dt *engine.Datatype, op *engine.Op) ([]byte, engine.Status) {
	last := len(in) - 1
	if op.Kind() != engine.OpUser {
		if dt.Kind() == engine.DtUser {
			return nil, engine.ErrUnsupported
		}
		acc := append([]byte(nil), in[last]...)
		for r := last - 1; r >= 0; r-- {
			if err := numeric.Reduce(kernelOf[op.Kind()], elemOf[dt.Kind()], in[r], acc, count); err != nil {
				return nil, engine.ErrUnsupported
			}
		}
		return acc, engine.StatusOK
	}

	p := op.Params()
	userDT := dt.Params().UserDT
	size := span(count, dt)
	acc := make([]byte, size)
	if st := w.unpack(acc, count, dt, in[last]); st.Failed() {
		return nil, st
	}
	tmp := make([]byte, size)
	for r := last - 1; r >= 0; r-- {
		if st := w.unpack(tmp, count, dt, in[r]); st.Failed() {
			return nil, st
		}
		if st := p.Reduce(p.UserOp, tmp, acc, count, userDT); st.Failed() {
			return nil, st
		}
	}
	return w.pack(acc, count, dt)
}
