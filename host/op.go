package host

import (
	"fmt"
	"sync/atomic"

	"github.com/rocketbitz/ucg-go/internal/numeric"
)

// OpID identifies a predefined reduction. User operations report OpIDUser.
type OpID uint8

const (
	OpIDInvalid OpID = iota
	OpIDMax
	OpIDMin
	OpIDSum
	OpIDProd
	OpIDLAnd
	OpIDLOr
	OpIDLXor
	OpIDBAnd
	OpIDBOr
	OpIDBXor
	OpIDUser
)

// UserFunction computes inout[i] = in[i] op inout[i] for count elements of dt.
type UserFunction func(in, inout []byte, count int, dt *Datatype) error

// Op is a reference-counted reduction operation.
type Op struct {
	id         OpID
	name       string
	kernel     numeric.Op
	fn         UserFunction
	commute    bool
	predefined bool
	refs       atomic.Int32
}

func intrinsic(id OpID, name string, kernel numeric.Op) *Op {
	op := &Op{id: id, name: name, kernel: kernel, commute: true, predefined: true}
	op.refs.Store(1)
	return op
}

// Predefined operations.
var (
	OpMax  = intrinsic(OpIDMax, "max", numeric.OpMax)
	OpMin  = intrinsic(OpIDMin, "min", numeric.OpMin)
	OpSum  = intrinsic(OpIDSum, "sum", numeric.OpSum)
	OpProd = intrinsic(OpIDProd, "prod", numeric.OpProd)
	OpLAnd = intrinsic(OpIDLAnd, "land", numeric.OpLAnd)
	OpLOr  = intrinsic(OpIDLOr, "lor", numeric.OpLOr)
	OpLXor = intrinsic(OpIDLXor, "lxor", numeric.OpLXor)
	OpBAnd = intrinsic(OpIDBAnd, "band", numeric.OpBAnd)
	OpBOr  = intrinsic(OpIDBOr, "bor", numeric.OpBOr)
	OpBXor = intrinsic(OpIDBXor, "bxor", numeric.OpBXor)
)

// NewOp creates a user-defined reduction.
func NewOp(name string, fn UserFunction, commute bool) (*Op, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil user function", ErrOp)
	}
	if name == "" {
		name = "user"
	}
	op := &Op{id: OpIDUser, name: name, fn: fn, commute: commute}
	op.refs.Store(1)
	return op, nil
}

func (o *Op) ID() OpID { return o.id }

func (o *Op) Name() string { return o.name }

// IsPredefined reports whether o is one of the package-level operations.
func (o *Op) IsPredefined() bool { return o.predefined }

// IsCommutative reports whether operand order may be changed.
func (o *Op) IsCommutative() bool { return o.commute }

// Valid reports whether o is still referenced.
func (o *Op) Valid() bool { return o != nil && o.refs.Load() > 0 }

// Retain adds a reference.
func (o *Op) Retain() {
	if o == nil || o.predefined {
		return
	}
	o.refs.Add(1)
}

// Release drops a reference.
func (o *Op) Release() {
	if o == nil || o.predefined {
		return
	}
	o.refs.Add(-1)
}

// Free is the user-facing release of a user operation.
func (o *Op) Free() error {
	if o == nil || o.predefined || o.refs.Load() <= 0 {
		return ErrOp
	}
	o.Release()
	return nil
}

// Reduce applies the operation to count elements of dt laid out in user buffers.
func (o *Op) Reduce(in, inout []byte, count int, dt *Datatype) error {
	if !o.Valid() {
		return ErrOp
	}
	if !dt.Valid() {
		return ErrType
	}
	if need := dt.Span(count); len(in) < need || len(inout) < need {
		return fmt.Errorf("%w: reduce of %d %s", ErrTruncate, count, dt)
	}
	if o.fn != nil {
		return o.fn(in, inout, count, dt)
	}
	if dt.IsContiguous() {
		return numeric.Reduce(o.kernel, dt.elem, in, inout, count*dt.size/dt.elem.Size())
	}
	esize := dt.elem.Size()
	for e := 0; e < count; e++ {
		base := e * dt.extent
		for _, b := range dt.blocks {
			lo, hi := base+b.off, base+b.off+b.len
			if err := numeric.Reduce(o.kernel, dt.elem, in[lo:hi], inout[lo:hi], b.len/esize); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Op) String() string {
	if o == nil {
		return "<nil>"
	}
	return o.name
}
