package coll

import (
	"container/list"
	"fmt"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
	"github.com/rocketbitz/ucg-go/internal/pool"
)

// request is the component's record for one collective call. The embedded
// host.Request is what non-blocking and persistent callers hold.
type request struct {
	host.Request

	c    *Component
	m    *Module
	kind Kind

	eng        engine.Request
	info       engine.RequestInfo
	persistent bool

	// cacheable requests own sig and args and return to the cache on free.
	cacheable bool
	sig       signature
	args      pool.ArgsHandle
	elem      *list.Element

	// opStorage holds a user reduction for the lifetime of eng.
	opStorage engine.Op
}

var _ host.RequestHooks = (*request)(nil)

func newRequestRecord() *request {
	return &request{args: pool.NoArgs}
}

// acquire takes a record from the pool and runs the common initialization.
func (m *Module) acquire(kind Kind, persistent bool) (*request, error) {
	r, err := m.c.requests.Acquire()
	if err != nil {
		return nil, opError(kind, StageAcquire, fmt.Errorf("%w: request pool: %w", ErrResourceExhausted, err), engine.StatusOK)
	}
	r.c = m.c
	r.commonInit(m, kind, kind.Nonblocking(), persistent)
	return r, nil
}

// commonInit resets r for a new call. Non-blocking and persistent requests get
// the engine completion callback and the host handle hooks.
func (r *request) commonInit(m *Module, kind Kind, nb, persistent bool) {
	r.m = m
	r.kind = kind
	r.persistent = persistent
	r.cacheable = false
	r.sig = signature{}
	r.args = pool.NoArgs
	r.elem = nil
	r.eng = nil
	r.info = engine.RequestInfo{}
	var hooks host.RequestHooks
	if nb || persistent {
		r.info.Complete = r.onComplete
		hooks = r
	}
	r.Init(r.c.rt.Progress, persistent, hooks)
}

// rearm prepares a request taken from the cache for another run.
func (r *request) rearm() {
	var hooks host.RequestHooks
	if r.kind.Nonblocking() {
		hooks = r
	}
	r.Init(r.c.rt.Progress, false, hooks)
}

func (r *request) infoPtr() *engine.RequestInfo {
	if r.info.Complete == nil {
		return nil
	}
	return &r.info
}

// execute runs the request to completion, pumping runtime progress every
// npolls idle polls.
func (r *request) execute() error {
	if st := r.eng.Start(); st.Failed() {
		return r.failed(StageStart, st)
	}
	polls := 0
	st := r.eng.Test()
	for st == engine.StatusInProgress {
		if polls++; polls%r.c.settings.npolls == 0 {
			r.c.rt.Progress.Progress()
		}
		st = r.eng.Test()
	}
	if st.Failed() {
		return r.failed(StageExecute, st)
	}
	r.c.metricRequestCompleted(r.metricFields()...)
	return nil
}

// executeNB starts the request. The handle is pending before the engine may
// complete it from inside Start; a start failure completes it with the error.
func (r *request) executeNB() error {
	r.MarkPending()
	if st := r.eng.Start(); st.Failed() {
		r.onComplete(st)
		return r.Status()
	}
	return nil
}

// onComplete is the engine completion callback.
func (r *request) onComplete(st engine.Status) {
	if st.Failed() {
		err := &OpError{
			Kind:   r.kind,
			Stage:  StageExecute,
			Status: st,
			Err:    fmt.Errorf("%w: %w", host.ErrInternal, ErrEngineRuntime),
		}
		r.reportFailure(err)
		r.Complete(err)
		return
	}
	r.c.metricRequestCompleted(r.metricFields()...)
	r.Complete(nil)
}

func (r *request) failed(stage Stage, st engine.Status) error {
	err := opError(r.kind, stage, ErrEngineRuntime, st)
	r.reportFailure(err)
	return err
}

func (r *request) reportFailure(err *OpError) {
	fields := append(r.fields(), logKV("stage", err.Stage), logKV("error", err))
	r.c.log.event("request_failed", fields...)
	r.c.metricRequestFailed(err, append(r.metricFields(), logKV(labelStage, err.Stage))...)
}

// FreeRequest implements host.RequestHooks.
func (r *request) FreeRequest() error {
	if !r.IsComplete() {
		return host.ErrRequest
	}
	if r.cacheable {
		switch {
		case r.Status() != nil:
			r.c.cache.del(r, evictFailed)
		case r.retired():
			// the group it was built on is gone
			r.c.cache.del(r, evictTeardown)
		default:
			r.c.cache.put(r)
		}
		return nil
	}
	r.release()
	return nil
}

// retired reports whether the module or component that built r has closed.
func (r *request) retired() bool {
	return r.c.closed.Load() || (r.m != nil && r.m.closed.Load())
}

// CancelRequest implements host.RequestHooks. Collectives cannot be cancelled.
func (r *request) CancelRequest() error {
	return host.ErrRequest
}

// StartRequest implements host.RequestHooks for persistent requests.
func (r *request) StartRequest() error {
	if !r.persistent {
		return host.ErrRequest
	}
	return r.executeNB()
}

// cleanup releases the engine request and detaches the host handle.
func (r *request) cleanup() {
	if r.eng != nil {
		if st := r.eng.Cleanup(); st.Failed() {
			r.c.log.warn("request_cleanup_failed", append(r.fields(), logKV("status", st))...)
		}
		r.eng = nil
	}
	if r.opStorage.Live() {
		r.c.eng.DestroyOp(&r.opStorage)
	}
	r.Fini()
}

// release cleans r up and returns it to the pool.
func (r *request) release() {
	r.cleanup()
	r.m = nil
	r.sig = signature{}
	r.args = pool.NoArgs
	r.elem = nil
	r.cacheable = false
	r.persistent = false
	r.info = engine.RequestInfo{}
	r.c.requests.Release(r)
}

func (r *request) fields() []logField {
	fields := []logField{logKV("op", r.kind)}
	if r.m != nil {
		fields = append(fields, logKV("comm", r.m.name))
	}
	return fields
}

func (r *request) metricFields() []logField {
	fields := []logField{logKV(labelOp, r.kind.coll()), logKV(labelMode, r.mode())}
	if r.m != nil {
		fields = append(fields, logKV(labelComm, r.m.name))
	}
	return fields
}

func (r *request) mode() string {
	if r.persistent {
		return "persistent"
	}
	return modeOf(r.kind)
}

func modeOf(kind Kind) string {
	if kind.Nonblocking() {
		return "nonblocking"
	}
	return "blocking"
}
