package host

import (
	"context"
	"sync"
	"sync/atomic"
)

// RequestState tracks whether a request handle is in use.
type RequestState uint8

const (
	RequestInactive RequestState = iota
	RequestActive
	RequestInvalid
)

func (s RequestState) String() string {
	switch s {
	case RequestInactive:
		return "inactive"
	case RequestActive:
		return "active"
	default:
		return "invalid"
	}
}

// RequestHooks is implemented by the component that owns a request handle.
type RequestHooks interface {
	FreeRequest() error
	CancelRequest() error
	StartRequest() error
}

// Request is the runtime's handle for a non-blocking or persistent operation.
type Request struct {
	mu         sync.Mutex
	state      RequestState
	status     error
	persistent bool
	hooks      RequestHooks
	progress   *Progress
	complete   atomic.Bool
}

// Init prepares the handle for use. Persistent handles start inactive and complete.
func (r *Request) Init(progress *Progress, persistent bool, hooks RequestHooks) {
	r.mu.Lock()
	r.state = RequestInactive
	r.status = nil
	r.persistent = persistent
	r.hooks = hooks
	r.progress = progress
	r.mu.Unlock()
	r.complete.Store(true)
}

// Fini detaches the owner hooks.
func (r *Request) Fini() {
	r.mu.Lock()
	r.state = RequestInvalid
	r.hooks = nil
	r.mu.Unlock()
}

// MarkPending transitions the handle to active and not complete.
func (r *Request) MarkPending() {
	r.mu.Lock()
	r.state = RequestActive
	r.status = nil
	r.mu.Unlock()
	r.complete.Store(false)
}

// Complete records the outcome and marks the handle complete.
func (r *Request) Complete(err error) {
	r.mu.Lock()
	r.status = err
	if r.persistent {
		r.state = RequestInactive
	}
	r.mu.Unlock()
	r.complete.Store(true)
}

// IsComplete reports whether the last started operation finished.
func (r *Request) IsComplete() bool { return r.complete.Load() }

// IsPersistent reports whether the handle may be restarted.
func (r *Request) IsPersistent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistent
}

// State returns the handle state.
func (r *Request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns the error recorded at completion.
func (r *Request) Status() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Test drives progress once and reports completion.
func (r *Request) Test() (bool, error) {
	if !r.complete.Load() && r.progress != nil {
		r.progress.Progress()
	}
	if !r.complete.Load() {
		return false, nil
	}
	return true, r.Status()
}

// Wait drives progress until the request completes or ctx is done.
func (r *Request) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for !r.complete.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if r.progress != nil {
			r.progress.Progress()
		}
	}
	return r.Status()
}

func (r *Request) ownerHooks() RequestHooks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hooks
}

// Start restarts a persistent request.
func (r *Request) Start() error {
	hooks := r.ownerHooks()
	if hooks == nil || !r.IsPersistent() || !r.complete.Load() {
		return ErrRequest
	}
	return hooks.StartRequest()
}

// Free releases the handle back to its owner.
func (r *Request) Free() error {
	hooks := r.ownerHooks()
	if hooks == nil {
		return ErrRequest
	}
	return hooks.FreeRequest()
}

// Cancel asks the owner to cancel the operation.
func (r *Request) Cancel() error {
	hooks := r.ownerHooks()
	if hooks == nil {
		return ErrRequest
	}
	return hooks.CancelRequest()
}
