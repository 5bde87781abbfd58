package coll

import (
	"errors"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// builder adapts one call's arguments and asks the engine group for a request.
// Engine completion goes through r.infoPtr and user reductions live in
// r.opStorage.
type builder func(r *request, mode engine.RequestMode) (engine.Request, error)

// build runs b and records the engine request on r.
func (m *Module) build(r *request, b builder, mode engine.RequestMode) error {
	req, err := b(r, mode)
	if err != nil {
		var opErr *OpError
		if !errors.As(err, &opErr) {
			opErr = buildError(r.kind, err)
		}
		r.reportFailure(opErr)
		return opErr
	}
	r.eng = req
	return nil
}

// adapt maps a datatype and optional op for r, tagging failures with the adapt stage.
func (m *Module) adapt(r *request, dt *host.Datatype, op *host.Op) (*engine.Datatype, *engine.Op, error) {
	edt, eop, err := m.c.types.adapt(dt, op, &r.opStorage)
	if err != nil {
		return nil, nil, opError(r.kind, StageAdapt, err, engine.StatusOK)
	}
	return edt, eop, nil
}

// adaptPair maps the send and receive datatypes of a vector collective. A nil
// datatype is one the caller's role does not use and stays nil.
func (m *Module) adaptPair(r *request, sdt, rdt *host.Datatype) (esdt, erdt *engine.Datatype, err error) {
	if sdt != nil {
		if esdt, _, err = m.adapt(r, sdt, nil); err != nil {
			return nil, nil, err
		}
	}
	if rdt != nil {
		if erdt, _, err = m.adapt(r, rdt, nil); err != nil {
			return nil, nil, err
		}
	}
	return esdt, erdt, nil
}

// engineBuf translates the runtime's in-place marker to the engine's.
func engineBuf(b []byte) []byte {
	if host.IsInPlace(b) {
		return engine.InPlace
	}
	return b
}

func (m *Module) startSpan(kind Kind) Span {
	return m.c.startSpan("ucg-coll-"+kind.String(), logKV("comm", m.name), logKV("mode", modeOf(kind)))
}

func (m *Module) recordLookup(span Span, kind Kind, hit bool) {
	event := "cache_miss"
	if hit {
		event = "cache_hit"
	}
	m.c.log.event(event, logKV("op", kind), logKV("comm", m.name))
	spanAddEvent(span, event)
	m.c.metricCacheLookup(hit, logKV(labelOp, kind.coll()), logKV(labelMode, modeOf(kind)), logKV(labelComm, m.name))
}

// fallback hands the call to the previous implementation exactly once.
func fallback[R any](m *Module, span Span, kind Kind, cause error, prev func() (R, error)) (R, error) {
	reason := fallbackReason(cause)
	m.c.log.event("fallback", logKV("op", kind), logKV("comm", m.name), logKV("reason", reason), logKV("error", cause))
	spanAddEvent(span, "fallback", logKV("reason", reason))
	spanRecordError(span, cause)
	m.c.metricFallback(reason, logKV(labelOp, kind.coll()), logKV(labelMode, modeOf(kind)), logKV(labelComm, m.name))
	res, err := prev()
	spanEnd(span, err)
	return res, err
}

func fallbackReason(err error) string {
	var opErr *OpError
	switch {
	case errors.As(err, &opErr):
		return string(opErr.Stage)
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

func blockingPrev(prev func() error) func() (struct{}, error) {
	return func() (struct{}, error) { return struct{}{}, prev() }
}

// blocking is the direct blocking template: build, execute, release.
func (m *Module) blocking(kind Kind, b builder, prev func() error) error {
	if !m.enabled.Load() {
		return host.ErrInternal
	}
	span := m.startSpan(kind)
	if m.closed.Load() {
		_, err := fallback(m, span, kind, ErrClosed, blockingPrev(prev))
		return err
	}
	r, err := m.acquire(kind, false)
	if err != nil {
		_, err = fallback(m, span, kind, err, blockingPrev(prev))
		return err
	}
	if err := m.build(r, b, engine.ModeBlocking); err != nil {
		r.release()
		_, err = fallback(m, span, kind, err, blockingPrev(prev))
		return err
	}
	if err := r.execute(); err != nil {
		r.release()
		_, err = fallback(m, span, kind, err, blockingPrev(prev))
		return err
	}
	r.release()
	spanEnd(span, nil)
	return nil
}

// blockingCached serves a repeat call from the cache and otherwise builds
// cold and inserts the executed request.
func (m *Module) blockingCached(kind Kind, args callArgs, b builder, prev func() error) error {
	if m.c.cache == nil {
		return m.blocking(kind, b, prev)
	}
	if !m.enabled.Load() {
		return host.ErrInternal
	}
	span := m.startSpan(kind)
	if m.closed.Load() {
		_, err := fallback(m, span, kind, ErrClosed, blockingPrev(prev))
		return err
	}

	sig := signature{kind: kind, comm: m.id, args: args}
	if r, err := m.c.cache.lookup(&sig); err == nil {
		m.recordLookup(span, kind, true)
		r.rearm()
		if err := r.execute(); err != nil {
			m.c.cache.del(r, evictFailed)
			_, err = fallback(m, span, kind, err, blockingPrev(prev))
			return err
		}
		m.c.cache.put(r)
		spanEnd(span, nil)
		return nil
	}
	m.recordLookup(span, kind, false)

	r, err := m.acquire(kind, false)
	if err != nil {
		_, err = fallback(m, span, kind, err, blockingPrev(prev))
		return err
	}
	if err := m.build(r, b, engine.ModeBlocking); err != nil {
		r.release()
		_, err = fallback(m, span, kind, err, blockingPrev(prev))
		return err
	}
	if err := r.execute(); err != nil {
		r.release()
		_, err = fallback(m, span, kind, err, blockingPrev(prev))
		return err
	}
	m.insert(r, sig)
	spanEnd(span, nil)
	return nil
}

// insert adds an executed request to the cache. The call already succeeded,
// so a failed insert only drops the request.
func (m *Module) insert(r *request, sig signature) {
	if err := m.c.cache.add(r, sig); err != nil {
		m.c.log.warn("cache_insert_failed", append(r.fields(), logKV("error", err))...)
		r.release()
		return
	}
	m.c.log.event("cache_insert", append(r.fields(), logKV("size", m.c.cache.len()))...)
}

// nonblocking is the direct non-blocking template.
func (m *Module) nonblocking(kind Kind, b builder, prev func() (*host.Request, error)) (*host.Request, error) {
	if !m.enabled.Load() {
		return nil, host.ErrInternal
	}
	span := m.startSpan(kind)
	if m.closed.Load() {
		return fallback(m, span, kind, ErrClosed, prev)
	}
	r, err := m.start(kind, b)
	if err != nil {
		return fallback(m, span, kind, err, prev)
	}
	spanEnd(span, nil)
	return &r.Request, nil
}

// nonblockingCached starts a cached request on a hit. On a miss the new
// request is marked cacheable and joins the cache when its handle is freed.
func (m *Module) nonblockingCached(kind Kind, args callArgs, b builder, prev func() (*host.Request, error)) (*host.Request, error) {
	if m.c.cache == nil {
		return m.nonblocking(kind, b, prev)
	}
	if !m.enabled.Load() {
		return nil, host.ErrInternal
	}
	span := m.startSpan(kind)
	if m.closed.Load() {
		return fallback(m, span, kind, ErrClosed, prev)
	}

	sig := signature{kind: kind, comm: m.id, args: args}
	if r, err := m.c.cache.lookup(&sig); err == nil {
		m.recordLookup(span, kind, true)
		r.rearm()
		if err := r.executeNB(); err != nil {
			m.c.cache.del(r, evictFailed)
			return fallback(m, span, kind, err, prev)
		}
		spanEnd(span, nil)
		return &r.Request, nil
	}
	m.recordLookup(span, kind, false)

	r, err := m.start(kind, b)
	if err != nil {
		return fallback(m, span, kind, err, prev)
	}
	if err := m.c.cache.markCacheable(r, sig); err != nil {
		m.c.log.warn("cache_insert_failed", append(r.fields(), logKV("error", err))...)
	}
	spanEnd(span, nil)
	return &r.Request, nil
}

// start builds and starts a fresh non-blocking request.
func (m *Module) start(kind Kind, b builder) (*request, error) {
	r, err := m.acquire(kind, false)
	if err != nil {
		return nil, err
	}
	if err := m.build(r, b, engine.ModeNonBlocking); err != nil {
		r.release()
		return nil, err
	}
	if err := r.executeNB(); err != nil {
		r.release()
		return nil, err
	}
	return r, nil
}

// persistent builds an inactive restartable request. The engine request is
// built in blocking mode and never cached.
func (m *Module) persistent(kind Kind, b builder, prev func() (*host.Request, error)) (*host.Request, error) {
	if !m.enabled.Load() {
		return nil, host.ErrInternal
	}
	span := m.startSpan(kind)
	if m.closed.Load() {
		return fallback(m, span, kind, ErrClosed, prev)
	}
	r, err := m.acquire(kind, true)
	if err != nil {
		return fallback(m, span, kind, err, prev)
	}
	if err := m.build(r, b, engine.ModeBlocking); err != nil {
		r.release()
		return fallback(m, span, kind, err, prev)
	}
	spanEnd(span, nil)
	return &r.Request, nil
}
