package host

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/ucg-go/internal/numeric"
)

// DatatypeID identifies a predefined datatype. Derived datatypes report IDDerived.
type DatatypeID uint16

const (
	IDInvalid DatatypeID = iota
	IDInt8
	IDInt16
	IDInt32
	IDInt64
	IDUint8
	IDUint16
	IDUint32
	IDUint64
	IDShortFloat
	IDFloat
	IDDouble
	IDByte
	IDInt
	IDDerived
)

type block struct {
	off int
	len int
}

// Datatype is a reference-counted runtime datatype. Derived datatypes are
// built from a single element type laid out in byte blocks within one extent.
type Datatype struct {
	id         DatatypeID
	name       string
	elem       numeric.Elem
	size       int
	lb         int
	extent     int
	trueLB     int
	trueExtent int
	blocks     []block
	committed  atomic.Bool
	refs       atomic.Int32
	predefined bool

	attrMu sync.Mutex
	attrs  map[*Keyval]any
}

func predefined(id DatatypeID, name string, elem numeric.Elem) *Datatype {
	size := elem.Size()
	dt := &Datatype{
		id:         id,
		name:       name,
		elem:       elem,
		size:       size,
		extent:     size,
		trueExtent: size,
		blocks:     []block{{off: 0, len: size}},
		predefined: true,
	}
	dt.committed.Store(true)
	dt.refs.Store(1)
	return dt
}

// Predefined datatypes.
var (
	Int8       = predefined(IDInt8, "int8", numeric.ElemInt8)
	Int16      = predefined(IDInt16, "int16", numeric.ElemInt16)
	Int32      = predefined(IDInt32, "int32", numeric.ElemInt32)
	Int64      = predefined(IDInt64, "int64", numeric.ElemInt64)
	Uint8      = predefined(IDUint8, "uint8", numeric.ElemUint8)
	Uint16     = predefined(IDUint16, "uint16", numeric.ElemUint16)
	Uint32     = predefined(IDUint32, "uint32", numeric.ElemUint32)
	Uint64     = predefined(IDUint64, "uint64", numeric.ElemUint64)
	ShortFloat = predefined(IDShortFloat, "short_float", numeric.ElemFloat16)
	Float      = predefined(IDFloat, "float", numeric.ElemFloat32)
	Double     = predefined(IDDouble, "double", numeric.ElemFloat64)
	Byte       = predefined(IDByte, "byte", numeric.ElemUint8)
	Int        = predefined(IDInt, "int", numeric.ElemInt32)
)

func derived(name string, base *Datatype, blocks []block, lb, extent int) *Datatype {
	size := 0
	trueLB, trueUB := 0, 0
	for i, b := range blocks {
		size += b.len
		if i == 0 || b.off < trueLB {
			trueLB = b.off
		}
		if end := b.off + b.len; i == 0 || end > trueUB {
			trueUB = end
		}
	}
	dt := &Datatype{
		id:         IDDerived,
		name:       name,
		elem:       base.elem,
		size:       size,
		lb:         lb,
		extent:     extent,
		trueLB:     trueLB,
		trueExtent: trueUB - trueLB,
		blocks:     mergeBlocks(blocks),
	}
	dt.refs.Store(1)
	return dt
}

func mergeBlocks(in []block) []block {
	out := make([]block, 0, len(in))
	for _, b := range in {
		if b.len == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].off+out[n-1].len == b.off {
			out[n-1].len += b.len
			continue
		}
		out = append(out, b)
	}
	return out
}

func checkBase(base *Datatype) error {
	if base == nil || !base.Valid() {
		return ErrType
	}
	return nil
}

// Contiguous builds count consecutive copies of base.
func Contiguous(count int, base *Datatype) (*Datatype, error) {
	if err := checkBase(base); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrArg, count)
	}
	var blocks []block
	for i := 0; i < count; i++ {
		for _, b := range base.blocks {
			blocks = append(blocks, block{off: i*base.extent + b.off, len: b.len})
		}
	}
	return derived("contiguous", base, blocks, 0, count*base.extent), nil
}

// Vector builds count blocks of blocklen base elements spaced stride elements apart.
func Vector(count, blocklen, stride int, base *Datatype) (*Datatype, error) {
	if err := checkBase(base); err != nil {
		return nil, err
	}
	if count < 0 || blocklen < 0 || stride < 0 {
		return nil, fmt.Errorf("%w: vector(%d, %d, %d)", ErrArg, count, blocklen, stride)
	}
	var blocks []block
	for i := 0; i < count; i++ {
		for j := 0; j < blocklen; j++ {
			for _, b := range base.blocks {
				blocks = append(blocks, block{off: (i*stride+j)*base.extent + b.off, len: b.len})
			}
		}
	}
	extent := 0
	if count > 0 {
		extent = ((count-1)*stride + blocklen) * base.extent
	}
	return derived("vector", base, blocks, 0, extent), nil
}

// Indexed builds blocks of blocklens[i] base elements at displs[i] base extents.
func Indexed(blocklens, displs []int, base *Datatype) (*Datatype, error) {
	if err := checkBase(base); err != nil {
		return nil, err
	}
	if len(blocklens) != len(displs) {
		return nil, fmt.Errorf("%w: %d block lengths for %d displacements", ErrArg, len(blocklens), len(displs))
	}
	var blocks []block
	ub := 0
	for i, n := range blocklens {
		if n < 0 || displs[i] < 0 {
			return nil, fmt.Errorf("%w: indexed block %d", ErrArg, i)
		}
		for j := 0; j < n; j++ {
			for _, b := range base.blocks {
				blocks = append(blocks, block{off: (displs[i]+j)*base.extent + b.off, len: b.len})
			}
		}
		ub = max(ub, (displs[i]+n)*base.extent)
	}
	return derived("indexed", base, blocks, 0, ub), nil
}

// Resized returns a copy of base with a new lower bound and extent.
func Resized(base *Datatype, lb, extent int) (*Datatype, error) {
	if err := checkBase(base); err != nil {
		return nil, err
	}
	if lb < 0 || extent <= 0 {
		return nil, fmt.Errorf("%w: resized(%d, %d)", ErrArg, lb, extent)
	}
	return derived("resized", base, append([]block(nil), base.blocks...), lb, extent), nil
}

// Commit makes a derived datatype usable for communication.
func (d *Datatype) Commit() error {
	if d == nil || d.refs.Load() <= 0 {
		return ErrType
	}
	d.committed.Store(true)
	return nil
}

// Valid reports whether d is committed and still referenced.
func (d *Datatype) Valid() bool {
	return d != nil && d.committed.Load() && d.refs.Load() > 0
}

// Retain adds a reference.
func (d *Datatype) Retain() {
	if d == nil || d.predefined {
		return
	}
	d.refs.Add(1)
}

// Release drops a reference. The last release runs attribute delete callbacks.
func (d *Datatype) Release() {
	if d == nil || d.predefined {
		return
	}
	if d.refs.Add(-1) == 0 {
		d.destroy()
	}
}

// Free is the user-facing release of a derived datatype.
func (d *Datatype) Free() error {
	if d == nil || d.predefined || d.refs.Load() <= 0 {
		return ErrType
	}
	d.Release()
	return nil
}

func (d *Datatype) destroy() {
	d.attrMu.Lock()
	attrs := d.attrs
	d.attrs = nil
	d.attrMu.Unlock()
	for key, val := range attrs {
		if key.del != nil {
			_ = key.del(d, key, val)
		}
	}
}

func (d *Datatype) ID() DatatypeID { return d.id }

func (d *Datatype) Name() string { return d.name }

// IsPredefined reports whether d is one of the package-level datatypes.
func (d *Datatype) IsPredefined() bool { return d.predefined }

// Elem reports the element type the datatype is built from.
func (d *Datatype) Elem() numeric.Elem { return d.elem }

// Size is the number of data bytes in one element.
func (d *Datatype) Size() int { return d.size }

// Extent is the stride between consecutive elements.
func (d *Datatype) Extent() int { return d.extent }

func (d *Datatype) LB() int { return d.lb }

func (d *Datatype) TrueLB() int { return d.trueLB }

func (d *Datatype) TrueExtent() int { return d.trueExtent }

// IsContiguous reports whether the data occupies the whole extent.
func (d *Datatype) IsContiguous() bool {
	return d.size == d.extent && len(d.blocks) == 1 && d.blocks[0].off == 0
}

// Span is the number of buffer bytes count elements touch.
func (d *Datatype) Span(count int) int {
	if count <= 0 {
		return 0
	}
	return (count-1)*d.extent + d.trueLB + d.trueExtent
}

func (d *Datatype) String() string {
	if d == nil {
		return "<nil>"
	}
	return d.name
}
