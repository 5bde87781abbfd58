package coll

import (
	"container/list"
	"sync/atomic"

	"github.com/rocketbitz/ucg-go/internal/pool"
)

// requestCache is a bounded most-recently-used list of completed requests
// ready to be re-executed. An entry leaves the list while it runs and goes
// back to the front when its handle is freed successfully.
type requestCache struct {
	c    *Component
	max  int
	lru  *list.List
	args *pool.ArgsPool

	total atomic.Uint64
	hit   atomic.Uint64
}

func newRequestCache(c *Component, max int, args *pool.ArgsPool) *requestCache {
	return &requestCache{c: c, max: max, lru: list.New(), args: args}
}

// lookup finds a cached request whose signature matches probe and detaches it
// from the list. Entries whose arrays changed in place are evicted on the way.
func (rc *requestCache) lookup(probe *signature) (*request, error) {
	rc.total.Add(1)
	checkVariant(probe)
	for e := rc.lru.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(*request)
		switch r.sig.equal(probe) {
		case matchHit:
			rc.detach(r)
			rc.hit.Add(1)
			return r, nil
		case matchStale:
			rc.detach(r)
			rc.c.log.event("cache_stale", r.fields()...)
			rc.del(r, evictStale)
		}
		e = next
	}
	return nil, ErrNotFound
}

// markCacheable deep-copies sig into r and pins its datatypes and operation.
func (rc *requestCache) markCacheable(r *request, sig signature) error {
	h, err := sig.capture(rc.args)
	if err != nil {
		return err
	}
	r.sig = sig
	r.args = h
	r.cacheable = true
	return nil
}

// add makes a freshly executed request cacheable and inserts it.
func (rc *requestCache) add(r *request, sig signature) error {
	if err := rc.markCacheable(r, sig); err != nil {
		return err
	}
	rc.put(r)
	return nil
}

// put returns an idle cacheable request to the front, evicting the tail when
// full. The host handle is detached until the entry is taken again.
func (rc *requestCache) put(r *request) {
	if !r.cacheable {
		return
	}
	r.Fini()
	if rc.lru.Len() >= rc.max {
		if tail := rc.lru.Back(); tail != nil {
			victim := tail.Value.(*request)
			rc.detach(victim)
			rc.del(victim, evictLRU)
		}
	}
	r.elem = rc.lru.PushFront(r)
}

// del retires a cacheable request. The caller has already detached it. The
// engine request goes first; the datatype references it was built with are
// dropped after.
func (rc *requestCache) del(r *request, reason string) {
	if !r.cacheable {
		return
	}
	sig, h := r.sig, r.args
	rc.c.metricCacheEvicted(reason, r.metricFields()...)
	r.release()
	sig.uncapture(rc.args, h)
}

func (rc *requestCache) detach(r *request) {
	if r.elem != nil {
		rc.lru.Remove(r.elem)
		r.elem = nil
	}
}

// deleteByGroup retires every entry built on the engine group id.
func (rc *requestCache) deleteByGroup(id uint32, reason string) int {
	n := 0
	for e := rc.lru.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(*request)
		if r.sig.comm == id {
			rc.detach(r)
			rc.del(r, reason)
			n++
		}
		e = next
	}
	return n
}

// purge retires every entry.
func (rc *requestCache) purge(reason string) int {
	n := 0
	for e := rc.lru.Front(); e != nil; e = rc.lru.Front() {
		r := e.Value.(*request)
		rc.detach(r)
		rc.del(r, reason)
		n++
	}
	return n
}

func (rc *requestCache) len() int { return rc.lru.Len() }
