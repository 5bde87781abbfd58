package coll

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
	"github.com/rocketbitz/ucg-go/internal/pool"
)

var engineDatatypes = map[host.DatatypeID]engine.DatatypeKind{
	host.IDInt8:       engine.DtInt8,
	host.IDInt16:      engine.DtInt16,
	host.IDInt32:      engine.DtInt32,
	host.IDInt64:      engine.DtInt64,
	host.IDUint8:      engine.DtUint8,
	host.IDUint16:     engine.DtUint16,
	host.IDUint32:     engine.DtUint32,
	host.IDUint64:     engine.DtUint64,
	host.IDShortFloat: engine.DtFloat16,
	host.IDFloat:      engine.DtFloat32,
	host.IDDouble:     engine.DtFloat64,
}

var engineOps = map[host.OpID]engine.OpKind{
	host.OpIDMax:  engine.OpMax,
	host.OpIDMin:  engine.OpMin,
	host.OpIDSum:  engine.OpSum,
	host.OpIDProd: engine.OpProd,
}

// typeTable adapts host datatypes and operations to engine handles. Engine
// descriptors for user datatypes hang off a host attribute so they go away
// with the datatype; the table remembers them for the bulk free at close.
type typeTable struct {
	eng engine.Context
	log logger

	dts map[host.DatatypeID]*engine.Datatype
	ops map[host.OpID]*engine.Op
	key *host.Keyval

	mu   sync.Mutex
	user map[*host.Datatype]*engine.Datatype

	convs *pool.Pool[convertor]
	hooks *engine.ConvertorHooks
	stats convertorStats
}

func newTypeTable(eng engine.Context, log logger, threadSafe bool) (*typeTable, error) {
	t := &typeTable{
		eng:  eng,
		log:  log,
		dts:  make(map[host.DatatypeID]*engine.Datatype, len(engineDatatypes)),
		ops:  make(map[host.OpID]*engine.Op, len(engineOps)),
		user: make(map[*host.Datatype]*engine.Datatype),
		convs: pool.New(func() *convertor { return new(convertor) }, pool.Options{
			ThreadSafe: threadSafe,
		}),
	}
	t.hooks = t.convertorHooks()
	for id, kind := range engineDatatypes {
		dt, err := eng.CreateDatatype(engine.DatatypeParams{Kind: kind})
		if err != nil {
			t.destroyPredefined()
			return nil, fmt.Errorf("%w: create %s datatype: %w", ErrAdaptation, kind, err)
		}
		t.dts[id] = dt
	}
	for id, kind := range engineOps {
		op, err := eng.CreateOp(engine.OpParams{Kind: kind})
		if err != nil {
			t.destroyPredefined()
			return nil, fmt.Errorf("%w: create %s op: %w", ErrAdaptation, kind, err)
		}
		t.ops[id] = op
	}
	t.key = host.CreateKeyval(t.deleteAttr)
	return t, nil
}

// adapt maps dt and the optional op to engine handles. A user datatype or a
// user op promotes both to the user path. storage receives a user op.
func (t *typeTable) adapt(dt *host.Datatype, op *host.Op, storage *engine.Op) (*engine.Datatype, *engine.Op, error) {
	if !dt.Valid() {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedDatatype, dt)
	}
	edt, dtNative := t.native(dt)
	var eop *engine.Op
	opNative := true
	if op != nil {
		if !op.Valid() {
			return nil, nil, fmt.Errorf("%w: operation %s released", ErrAdaptation, op)
		}
		eop, opNative = t.nativeOp(op)
	}
	if dtNative && opNative {
		return edt, eop, nil
	}

	edt, err := t.userDatatype(dt)
	if err != nil {
		return nil, nil, err
	}
	if op == nil {
		return edt, nil, nil
	}
	if eop, err = t.userOp(op, storage); err != nil {
		return nil, nil, err
	}
	return edt, eop, nil
}

func (t *typeTable) native(dt *host.Datatype) (*engine.Datatype, bool) {
	if !dt.IsPredefined() {
		return nil, false
	}
	edt, ok := t.dts[dt.ID()]
	return edt, ok
}

func (t *typeTable) nativeOp(op *host.Op) (*engine.Op, bool) {
	if !op.IsPredefined() {
		return nil, false
	}
	eop, ok := t.ops[op.ID()]
	return eop, ok
}

func (t *typeTable) userDatatype(dt *host.Datatype) (*engine.Datatype, error) {
	if v, ok := dt.Attr(t.key); ok {
		return v.(*engine.Datatype), nil
	}
	params := engine.DatatypeParams{
		Kind:       engine.DtUser,
		UserDT:     dt,
		Size:       uint32(dt.Size()),
		Extent:     uint32(dt.Extent()),
		TrueLB:     int64(dt.TrueLB()),
		TrueExtent: uint32(dt.TrueExtent()),
	}
	if !dt.IsContiguous() {
		params.Conv = t.hooks
	}
	edt, err := t.eng.CreateDatatype(params)
	if err != nil {
		return nil, fmt.Errorf("%w: datatype %s: %w", ErrAdaptation, dt, err)
	}
	if err := dt.SetAttr(t.key, edt); err != nil {
		t.eng.DestroyDatatype(edt)
		return nil, fmt.Errorf("%w: attach datatype %s: %w", ErrAdaptation, dt, err)
	}
	t.mu.Lock()
	t.user[dt] = edt
	t.mu.Unlock()
	t.log.event("datatype_adapted", logKV("datatype", dt), logKV("contiguous", params.Conv == nil))
	return edt, nil
}

func (t *typeTable) userOp(op *host.Op, storage *engine.Op) (*engine.Op, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: no storage for operation %s", ErrAdaptation, op)
	}
	params := engine.OpParams{
		Kind:        engine.OpUser,
		UserOp:      op,
		Reduce:      reduceTrampoline,
		Commutative: op.IsCommutative(),
	}
	if err := t.eng.InitOp(params, storage); err != nil {
		return nil, fmt.Errorf("%w: operation %s: %w", ErrAdaptation, op, err)
	}
	return storage, nil
}

// reduceTrampoline runs a host operation on behalf of the engine.
func reduceTrampoline(userOp any, src, dst []byte, count int, userDT any) engine.Status {
	op, ok := userOp.(*host.Op)
	if !ok {
		return engine.ErrInvalidParam
	}
	dt, ok := userDT.(*host.Datatype)
	if !ok {
		return engine.ErrInvalidParam
	}
	if err := op.Reduce(src, dst, count, dt); err != nil {
		return engine.ErrInvalidParam
	}
	return engine.StatusOK
}

// deleteAttr is the keyval delete callback.
func (t *typeTable) deleteAttr(dt *host.Datatype, _ *host.Keyval, value any) error {
	edt, ok := value.(*engine.Datatype)
	if !ok {
		return fmt.Errorf("%w: attribute on %s holds %T", ErrAdaptation, dt, value)
	}
	t.mu.Lock()
	delete(t.user, dt)
	t.mu.Unlock()
	t.eng.DestroyDatatype(edt)
	return nil
}

// userCount reports user datatypes currently adapted.
func (t *typeTable) userCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.user)
}

func (t *typeTable) close() error {
	t.mu.Lock()
	dts := make([]*host.Datatype, 0, len(t.user))
	for dt := range t.user {
		dts = append(dts, dt)
	}
	t.mu.Unlock()

	var result *multierror.Error
	for _, dt := range dts {
		if err := dt.DeleteAttr(t.key); err != nil {
			result = multierror.Append(result, fmt.Errorf("free adapted datatype %s: %w", dt, err))
		}
	}
	t.key.Free()
	t.destroyPredefined()
	t.convs.Close()
	return result.ErrorOrNil()
}

func (t *typeTable) destroyPredefined() {
	for id, op := range t.ops {
		t.eng.DestroyOp(op)
		delete(t.ops, id)
	}
	for id, dt := range t.dts {
		t.eng.DestroyDatatype(dt)
		delete(t.dts, id)
	}
}
