package loopback

import (
	"runtime"
	"sync"

	"github.com/rocketbitz/ucg-go/engine"
)

type requestState uint8

const (
	stateIdle requestState = iota
	statePosted
	stateDone
	stateCleaned
)

// request is a loopback execution handle. post stages this rank's outgoing
// bytes per destination; deliver consumes the bytes addressed to this rank.
type request struct {
	g        *group
	op       string
	complete func(engine.Status)
	post     func() ([][]byte, engine.Status)
	deliver  func(in [][]byte) engine.Status

	mu     sync.Mutex
	state  requestState
	seq    uint64
	status engine.Status
}

func (g *group) newRequest(op string, info *engine.RequestInfo,
	post func() ([][]byte, engine.Status), deliver func(in [][]byte) engine.Status) (engine.Request, error) {
	if g.destroyed {
		return nil, engine.ErrInvalidState.WithOp(op)
	}
	r := &request{g: g, op: op, post: post, deliver: deliver}
	if info != nil {
		r.complete = info.Complete
	}
	return r, nil
}

func (r *request) Start() engine.Status {
	r.mu.Lock()
	if r.state == statePosted || r.state == stateCleaned {
		r.mu.Unlock()
		return engine.ErrInvalidState
	}
	if r.g.destroyed {
		r.mu.Unlock()
		return engine.ErrInvalidState
	}
	parts, st := r.post()
	if st.Failed() {
		r.mu.Unlock()
		return st
	}
	r.seq = r.g.nextSeq()
	r.state = statePosted
	r.status = engine.StatusInProgress
	r.mu.Unlock()

	r.g.shared.arrive(r.seq, r.g.rank, parts)
	r.g.ctx.track(r)
	r.advance()
	return engine.StatusOK
}

// advance completes the request once every member arrived. The completion
// callback runs at most once per start.
func (r *request) advance() engine.Status {
	r.mu.Lock()
	if r.state == stateIdle {
		r.mu.Unlock()
		return engine.ErrInvalidState
	}
	if r.state != statePosted {
		st := r.status
		r.mu.Unlock()
		return st
	}
	in, ok := r.g.shared.collect(r.seq, r.g.rank)
	if !ok {
		r.mu.Unlock()
		return engine.StatusInProgress
	}
	st := r.deliver(in)
	if !st.Failed() {
		st = engine.StatusOK
	}
	r.status = st
	r.state = stateDone
	cb := r.complete
	r.mu.Unlock()

	r.g.ctx.untrack(r)
	if cb != nil {
		cb(st)
	}
	return st
}

func (r *request) Test() engine.Status {
	st := r.advance()
	if st == engine.StatusInProgress {
		runtime.Gosched()
	}
	return st
}

func (r *request) Cleanup() engine.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case statePosted:
		return engine.ErrInvalidState
	case stateCleaned:
		return engine.ErrInvalidState
	}
	r.state = stateCleaned
	return engine.StatusOK
}
