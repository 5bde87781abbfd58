package engine

import (
	"unsafe"
)

// DatatypeKind enumerates the element types an engine handles natively.
type DatatypeKind uint8

const (
	DtInt8 DatatypeKind = iota
	DtInt16
	DtInt32
	DtInt64
	DtUint8
	DtUint16
	DtUint32
	DtUint64
	DtFloat16
	DtFloat32
	DtFloat64
	DtUser

	// PredefinedDatatypes is the number of engine-native datatype kinds.
	PredefinedDatatypes = int(DtUser)
)

// Size reports the element width of a predefined kind, or 0 for DtUser.
func (k DatatypeKind) Size() int {
	switch k {
	case DtInt8, DtUint8:
		return 1
	case DtInt16, DtUint16, DtFloat16:
		return 2
	case DtInt32, DtUint32, DtFloat32:
		return 4
	case DtInt64, DtUint64, DtFloat64:
		return 8
	default:
		return 0
	}
}

func (k DatatypeKind) String() string {
	names := [...]string{"int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64", "fp16", "fp32", "fp64", "user"}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// OpKind enumerates the reductions an engine handles natively.
type OpKind uint8

const (
	OpMax OpKind = iota
	OpMin
	OpSum
	OpProd
	OpUser

	// PredefinedOps is the number of engine-native operation kinds.
	PredefinedOps = int(OpUser)
)

func (k OpKind) String() string {
	switch k {
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	case OpSum:
		return "sum"
	case OpProd:
		return "prod"
	case OpUser:
		return "user"
	default:
		return "unknown"
	}
}

// ConvertorHooks bridge a non-contiguous user datatype to contiguous chunks.
// StartPack and StartUnpack return nil when a convertor cannot be created.
type ConvertorHooks struct {
	StartPack   func(buf []byte, userDT any, count int) any
	Pack        func(conv any, offset uint64, dst []byte) (int, Status)
	StartUnpack func(buf []byte, userDT any, count int) any
	Unpack      func(conv any, offset uint64, src []byte) (int, Status)
	Finish      func(conv any)
}

// DatatypeParams describes a datatype to the engine.
type DatatypeParams struct {
	Kind       DatatypeKind
	UserDT     any
	Size       uint32
	Extent     uint32
	TrueLB     int64
	TrueExtent uint32
	// Conv is set only for non-contiguous user datatypes.
	Conv *ConvertorHooks
}

// Datatype is an engine datatype handle.
type Datatype struct {
	params DatatypeParams
}

// NewDatatype is used by engine implementations to materialize a handle.
func NewDatatype(p DatatypeParams) *Datatype {
	if p.Kind != DtUser {
		size := uint32(p.Kind.Size())
		p.Size, p.Extent, p.TrueExtent = size, size, size
		p.TrueLB = 0
		p.Conv = nil
		p.UserDT = nil
	}
	return &Datatype{params: p}
}

func (d *Datatype) Kind() DatatypeKind { return d.params.Kind }

func (d *Datatype) Params() DatatypeParams { return d.params }

// Size is the number of bytes one element carries.
func (d *Datatype) Size() int { return int(d.params.Size) }

// Extent is the stride between consecutive elements in a user buffer.
func (d *Datatype) Extent() int { return int(d.params.Extent) }

// Contiguous reports whether the datatype can be copied as raw bytes.
func (d *Datatype) Contiguous() bool { return d.params.Conv == nil }

// ReduceFunc applies a user reduction: dst[i] = src[i] op dst[i].
type ReduceFunc func(userOp any, src, dst []byte, count int, userDT any) Status

// OpParams describes a reduction to the engine.
type OpParams struct {
	Kind        OpKind
	UserOp      any
	Reduce      ReduceFunc
	Commutative bool
}

// Op is an engine reduction handle. User operations are initialized into
// caller-owned storage of OpStorageSize bytes.
type Op struct {
	params OpParams
	live   bool
}

// OpStorageSize is the storage a caller must provide for a user operation.
const OpStorageSize = unsafe.Sizeof(Op{})

// InitOp is used by engine implementations to fill caller storage.
func InitOp(storage *Op, p OpParams) {
	if p.Kind != OpUser {
		p.UserOp = nil
		p.Reduce = nil
		p.Commutative = true
	}
	storage.params = p
	storage.live = true
}

func (o *Op) Kind() OpKind { return o.params.Kind }

func (o *Op) Params() OpParams { return o.params }

func (o *Op) Commutative() bool { return o.params.Commutative }

// Live reports whether the storage holds an initialized operation.
func (o *Op) Live() bool { return o != nil && o.live }

// Reset clears the storage.
func (o *Op) Reset() { *o = Op{} }

var inPlace [1]byte

// InPlace marks a send buffer that aliases the receive buffer.
var InPlace = inPlace[:0]

// IsInPlace reports whether b is the InPlace marker.
func IsInPlace(b []byte) bool {
	return cap(b) > 0 && unsafe.SliceData(b) == &inPlace[0]
}
