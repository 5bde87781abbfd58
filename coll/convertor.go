package coll

import (
	"sync/atomic"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// convertor is a pooled host convertor driven by the engine through
// ConvertorHooks. offset tracks the next in-order unpack position.
type convertor struct {
	conv      host.Convertor
	offset    uint64
	unordered bool
}

type convertorStats struct {
	started   atomic.Uint64
	unordered atomic.Uint64
}

func (t *typeTable) convertorHooks() *engine.ConvertorHooks {
	return &engine.ConvertorHooks{
		StartPack:   t.startPack,
		Pack:        packChunk,
		StartUnpack: t.startUnpack,
		Unpack:      t.unpackChunk,
		Finish:      t.finishConvertor,
	}
}

func (t *typeTable) startPack(buf []byte, userDT any, count int) any {
	return t.startConvertor(buf, userDT, count, false)
}

func (t *typeTable) startUnpack(buf []byte, userDT any, count int) any {
	return t.startConvertor(buf, userDT, count, true)
}

func (t *typeTable) startConvertor(buf []byte, userDT any, count int, recv bool) any {
	dt, ok := userDT.(*host.Datatype)
	if !ok {
		return nil
	}
	c, err := t.convs.Acquire()
	if err != nil {
		t.log.warn("convertor_exhausted", logKV("datatype", dt), logKV("error", err))
		return nil
	}
	if recv {
		err = c.conv.PrepareForRecv(dt, count, buf)
	} else {
		err = c.conv.PrepareForSend(dt, count, buf)
	}
	if err != nil {
		t.convs.Release(c)
		return nil
	}
	c.offset, c.unordered = 0, false
	t.stats.started.Add(1)
	return c
}

func packChunk(conv any, offset uint64, dst []byte) (int, engine.Status) {
	c, ok := conv.(*convertor)
	if !ok {
		return 0, engine.ErrInvalidParam
	}
	if err := c.conv.SetPosition(int(offset)); err != nil {
		return 0, engine.ErrInvalidParam
	}
	n, err := c.conv.Pack(dst)
	if err != nil {
		return n, engine.ErrInvalidParam
	}
	return n, engine.StatusOK
}

// unpackChunk accepts chunks in any order. The first chunk that does not land
// at the expected offset switches the convertor to positioned unpacking for
// the rest of the operation.
func (t *typeTable) unpackChunk(conv any, offset uint64, src []byte) (int, engine.Status) {
	c, ok := conv.(*convertor)
	if !ok {
		return 0, engine.ErrInvalidParam
	}
	if c.unordered || offset != c.offset {
		if !c.unordered {
			c.unordered = true
			t.stats.unordered.Add(1)
		}
		var tmp host.Convertor
		if err := tmp.PrepareForRecv(c.conv.Datatype(), c.conv.Count(), c.conv.Buffer()); err != nil {
			return 0, engine.ErrInvalidParam
		}
		defer tmp.Cleanup()
		if err := tmp.SetPosition(int(offset)); err != nil {
			return 0, engine.ErrInvalidParam
		}
		n, err := tmp.Unpack(src)
		if err != nil {
			return n, engine.ErrInvalidParam
		}
		return n, engine.StatusOK
	}
	n, err := c.conv.Unpack(src)
	c.offset += uint64(n)
	if err != nil {
		return n, engine.ErrInvalidParam
	}
	return n, engine.StatusOK
}

func (t *typeTable) finishConvertor(conv any) {
	c, ok := conv.(*convertor)
	if !ok {
		return
	}
	c.conv.Cleanup()
	c.offset, c.unordered = 0, false
	t.convs.Release(c)
}
