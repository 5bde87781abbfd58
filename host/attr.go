package host

import (
	"sync/atomic"
)

// AttrDeleteFunc runs when an attribute is deleted or its datatype is destroyed.
type AttrDeleteFunc func(dt *Datatype, key *Keyval, value any) error

// Keyval names a datatype attribute slot.
type Keyval struct {
	id    uint64
	del   AttrDeleteFunc
	freed atomic.Bool
}

var keyvalSeq atomic.Uint64

// CreateKeyval allocates an attribute key with an optional delete callback.
func CreateKeyval(del AttrDeleteFunc) *Keyval {
	return &Keyval{id: keyvalSeq.Add(1), del: del}
}

// Free retires the key. Attributes already set keep their delete callback.
func (k *Keyval) Free() {
	if k != nil {
		k.freed.Store(true)
	}
}

// ID returns the key's identifier.
func (k *Keyval) ID() uint64 {
	if k == nil {
		return 0
	}
	return k.id
}

// SetAttr stores value under key, replacing and deleting any previous value.
func (d *Datatype) SetAttr(key *Keyval, value any) error {
	if d == nil {
		return ErrType
	}
	if key == nil || key.freed.Load() {
		return ErrKeyval
	}
	d.attrMu.Lock()
	old, had := d.attrs[key]
	if d.attrs == nil {
		d.attrs = make(map[*Keyval]any)
	}
	d.attrs[key] = value
	d.attrMu.Unlock()
	if had && key.del != nil {
		return key.del(d, key, old)
	}
	return nil
}

// Attr returns the value stored under key.
func (d *Datatype) Attr(key *Keyval) (any, bool) {
	if d == nil || key == nil {
		return nil, false
	}
	d.attrMu.Lock()
	defer d.attrMu.Unlock()
	v, ok := d.attrs[key]
	return v, ok
}

// DeleteAttr removes the attribute and runs the key's delete callback.
func (d *Datatype) DeleteAttr(key *Keyval) error {
	if d == nil || key == nil {
		return ErrKeyval
	}
	d.attrMu.Lock()
	v, ok := d.attrs[key]
	delete(d.attrs, key)
	d.attrMu.Unlock()
	if !ok {
		return ErrKeyval
	}
	if key.del != nil {
		return key.del(d, key, v)
	}
	return nil
}
