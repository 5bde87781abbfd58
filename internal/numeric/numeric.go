// Package numeric implements element-wise reductions over the fixed-width
// element types shared by the host runtime and the engine.
package numeric

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// ErrUnsupported is returned when an operation is not defined for an element type.
var ErrUnsupported = errors.New("numeric: operation not defined for element type")

// Elem identifies a fixed-width element type.
type Elem uint8

const (
	ElemInvalid Elem = iota
	ElemInt8
	ElemInt16
	ElemInt32
	ElemInt64
	ElemUint8
	ElemUint16
	ElemUint32
	ElemUint64
	ElemFloat16
	ElemFloat32
	ElemFloat64
)

// Size reports the width of the element in bytes.
func (e Elem) Size() int {
	switch e {
	case ElemInt8, ElemUint8:
		return 1
	case ElemInt16, ElemUint16, ElemFloat16:
		return 2
	case ElemInt32, ElemUint32, ElemFloat32:
		return 4
	case ElemInt64, ElemUint64, ElemFloat64:
		return 8
	default:
		return 0
	}
}

func (e Elem) String() string {
	switch e {
	case ElemInt8:
		return "int8"
	case ElemInt16:
		return "int16"
	case ElemInt32:
		return "int32"
	case ElemInt64:
		return "int64"
	case ElemUint8:
		return "uint8"
	case ElemUint16:
		return "uint16"
	case ElemUint32:
		return "uint32"
	case ElemUint64:
		return "uint64"
	case ElemFloat16:
		return "float16"
	case ElemFloat32:
		return "float32"
	case ElemFloat64:
		return "float64"
	default:
		return "invalid"
	}
}

// Op identifies an element-wise reduction.
type Op uint8

const (
	OpInvalid Op = iota
	OpMax
	OpMin
	OpSum
	OpProd
	OpLAnd
	OpLOr
	OpLXor
	OpBAnd
	OpBOr
	OpBXor
)

func (o Op) String() string {
	switch o {
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	case OpSum:
		return "sum"
	case OpProd:
		return "prod"
	case OpLAnd:
		return "land"
	case OpLOr:
		return "lor"
	case OpLXor:
		return "lxor"
	case OpBAnd:
		return "band"
	case OpBOr:
		return "bor"
	case OpBXor:
		return "bxor"
	default:
		return "invalid"
	}
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type float interface {
	~float32 | ~float64
}

// Number is the set of element types View and Bytes accept. float16.Float16
// is covered through its uint16 representation.
type Number interface {
	integer | float
}

// View reinterprets b as a slice of T. len(b) must be a multiple of the size of T.
func View[T Number](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// Bytes reinterprets s as its backing bytes.
func Bytes[T Number](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// Reduce applies inout[i] = in[i] op inout[i] for count elements.
func Reduce(op Op, elem Elem, in, inout []byte, count int) error {
	if count <= 0 {
		return nil
	}
	need := count * elem.Size()
	if need == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupported, elem)
	}
	if len(in) < need || len(inout) < need {
		return fmt.Errorf("numeric: short buffer for %d %s elements", count, elem)
	}
	in, inout = in[:need], inout[:need]
	switch elem {
	case ElemInt8:
		return reduceInt(op, View[int8](in), View[int8](inout))
	case ElemInt16:
		return reduceInt(op, View[int16](in), View[int16](inout))
	case ElemInt32:
		return reduceInt(op, View[int32](in), View[int32](inout))
	case ElemInt64:
		return reduceInt(op, View[int64](in), View[int64](inout))
	case ElemUint8:
		return reduceInt(op, View[uint8](in), View[uint8](inout))
	case ElemUint16:
		return reduceInt(op, View[uint16](in), View[uint16](inout))
	case ElemUint32:
		return reduceInt(op, View[uint32](in), View[uint32](inout))
	case ElemUint64:
		return reduceInt(op, View[uint64](in), View[uint64](inout))
	case ElemFloat16:
		return reduceHalf(op, View[float16.Float16](in), View[float16.Float16](inout))
	case ElemFloat32:
		return reduceFloat(op, View[float32](in), View[float32](inout))
	case ElemFloat64:
		return reduceFloat(op, View[float64](in), View[float64](inout))
	}
	return fmt.Errorf("%w: %s", ErrUnsupported, elem)
}

func reduceInt[T integer](op Op, in, inout []T) error {
	switch op {
	case OpMax:
		for i, v := range in {
			inout[i] = max(v, inout[i])
		}
	case OpMin:
		for i, v := range in {
			inout[i] = min(v, inout[i])
		}
	case OpSum:
		for i, v := range in {
			inout[i] += v
		}
	case OpProd:
		for i, v := range in {
			inout[i] *= v
		}
	case OpLAnd:
		for i, v := range in {
			inout[i] = boolTo[T](v != 0 && inout[i] != 0)
		}
	case OpLOr:
		for i, v := range in {
			inout[i] = boolTo[T](v != 0 || inout[i] != 0)
		}
	case OpLXor:
		for i, v := range in {
			inout[i] = boolTo[T]((v != 0) != (inout[i] != 0))
		}
	case OpBAnd:
		for i, v := range in {
			inout[i] &= v
		}
	case OpBOr:
		for i, v := range in {
			inout[i] |= v
		}
	case OpBXor:
		for i, v := range in {
			inout[i] ^= v
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, op)
	}
	return nil
}

func reduceFloat[T float](op Op, in, inout []T) error {
	switch op {
	case OpMax:
		for i, v := range in {
			inout[i] = max(v, inout[i])
		}
	case OpMin:
		for i, v := range in {
			inout[i] = min(v, inout[i])
		}
	case OpSum:
		for i, v := range in {
			inout[i] += v
		}
	case OpProd:
		for i, v := range in {
			inout[i] *= v
		}
	case OpLAnd:
		for i, v := range in {
			inout[i] = boolTo[T](v != 0 && inout[i] != 0)
		}
	case OpLOr:
		for i, v := range in {
			inout[i] = boolTo[T](v != 0 || inout[i] != 0)
		}
	case OpLXor:
		for i, v := range in {
			inout[i] = boolTo[T]((v != 0) != (inout[i] != 0))
		}
	default:
		return fmt.Errorf("%w: %s on floating point", ErrUnsupported, op)
	}
	return nil
}

func reduceHalf(op Op, in, inout []float16.Float16) error {
	var apply func(a, b float32) float32
	switch op {
	case OpMax:
		apply = func(a, b float32) float32 { return max(a, b) }
	case OpMin:
		apply = func(a, b float32) float32 { return min(a, b) }
	case OpSum:
		apply = func(a, b float32) float32 { return a + b }
	case OpProd:
		apply = func(a, b float32) float32 { return a * b }
	default:
		return fmt.Errorf("%w: %s on float16", ErrUnsupported, op)
	}
	for i, v := range in {
		inout[i] = float16.Fromfloat32(apply(v.Float32(), inout[i].Float32()))
	}
	return nil
}

func boolTo[T Number](b bool) T {
	if b {
		return 1
	}
	return 0
}
