package engine

import (
	"errors"
	"testing"
)

func TestStatusError(t *testing.T) {
	if StatusOK.Err() != nil || StatusInProgress.Err() != nil {
		t.Fatalf("non-failure statuses must not convert to errors")
	}
	err := ErrInvalidParam.WithOp("allreduce")
	if !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("WithOp lost status: %v", err)
	}
	if got := err.Error(); got != "ucg allreduce: invalid parameter" {
		t.Fatalf("unexpected message %q", got)
	}
	if Status(-100).String() != "engine status -100" {
		t.Fatalf("unexpected fallback string %q", Status(-100).String())
	}
}

func TestInPlaceMarker(t *testing.T) {
	if !IsInPlace(InPlace) {
		t.Fatalf("InPlace not recognized")
	}
	if IsInPlace(make([]byte, 0, 1)) || IsInPlace(nil) {
		t.Fatalf("ordinary buffers must not be treated as in-place")
	}
}

func TestPredefinedDatatypeParamsNormalized(t *testing.T) {
	dt := NewDatatype(DatatypeParams{Kind: DtFloat64, Size: 99, Conv: &ConvertorHooks{}})
	if dt.Size() != 8 || dt.Extent() != 8 || !dt.Contiguous() {
		t.Fatalf("predefined params not normalized: %+v", dt.Params())
	}
}

func TestInitOpStorage(t *testing.T) {
	var storage Op
	if storage.Live() {
		t.Fatalf("zero storage reported live")
	}
	InitOp(&storage, OpParams{Kind: OpUser, UserOp: "op", Commutative: false})
	if !storage.Live() || storage.Commutative() || storage.Kind() != OpUser {
		t.Fatalf("unexpected op state %+v", storage.Params())
	}
	storage.Reset()
	if storage.Live() {
		t.Fatalf("Reset left storage live")
	}
}

func TestRankMapGlobal(t *testing.T) {
	full := RankMap{Type: RankMapFull, Size: 4}
	if full.Global(3) != 3 {
		t.Fatalf("full map must be identity")
	}
	cb := RankMap{Type: RankMapCallback, Size: 2, Mapping: func(r int) int { return r*2 + 1 }}
	if cb.Global(1) != 3 {
		t.Fatalf("callback map not applied")
	}
}
