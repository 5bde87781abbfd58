package coll

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"unsafe"

	"go.opentelemetry.io/otel/attribute"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// fakeEngine is a single-rank engine whose requests do no data movement.
// Non-blocking completions are delivered from Progress unless syncComplete
// asks for them inside Start.
type fakeEngine struct {
	mu sync.Mutex

	buildErr     error
	startStatus  engine.Status
	testStatus   engine.Status
	syncComplete bool

	builds   int
	starts   int
	cleanups int
	modes    []engine.RequestMode
	lastDts  []*engine.Datatype

	// kind of the op passed to the latest build; the op itself may be
	// destroyed by the time a test looks.
	lastOpKind engine.OpKind
	lastHadOp  bool

	liveDatatypes int
	liveOps       int
	userOps       int
	groups        int

	pending []*fakeRequest
}

var _ engine.Context = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine { return &fakeEngine{} }

func (e *fakeEngine) CreateDatatype(p engine.DatatypeParams) (*engine.Datatype, error) {
	e.mu.Lock()
	e.liveDatatypes++
	e.mu.Unlock()
	return engine.NewDatatype(p), nil
}

func (e *fakeEngine) DestroyDatatype(*engine.Datatype) {
	e.mu.Lock()
	e.liveDatatypes--
	e.mu.Unlock()
}

func (e *fakeEngine) CreateOp(p engine.OpParams) (*engine.Op, error) {
	if p.Kind == engine.OpUser {
		return nil, engine.ErrInvalidParam
	}
	op := new(engine.Op)
	engine.InitOp(op, p)
	e.mu.Lock()
	e.liveOps++
	e.mu.Unlock()
	return op, nil
}

func (e *fakeEngine) InitOp(p engine.OpParams, storage *engine.Op) error {
	if p.Kind != engine.OpUser || p.Reduce == nil {
		return engine.ErrInvalidParam
	}
	engine.InitOp(storage, p)
	e.mu.Lock()
	e.userOps++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) DestroyOp(op *engine.Op) {
	e.mu.Lock()
	if op.Kind() == engine.OpUser {
		e.userOps--
	} else {
		e.liveOps--
	}
	e.mu.Unlock()
	op.Reset()
}

func (e *fakeEngine) CreateGroup(p engine.GroupParams) (engine.Group, error) {
	e.mu.Lock()
	e.groups++
	e.mu.Unlock()
	return &fakeGroup{e: e, id: p.ID, size: p.Size, rank: p.MyRank}, nil
}

func (e *fakeEngine) Progress() int {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	st := e.testStatus
	e.mu.Unlock()
	for _, r := range pending {
		r.info.Complete(st)
	}
	return len(pending)
}

func (e *fakeEngine) build(info *engine.RequestInfo, mode engine.RequestMode, op *engine.Op, dts ...*engine.Datatype) (engine.Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buildErr != nil {
		return nil, e.buildErr
	}
	e.builds++
	e.modes = append(e.modes, mode)
	e.lastDts = dts
	e.lastHadOp = op != nil
	if op != nil {
		e.lastOpKind = op.Kind()
	}
	return &fakeRequest{e: e, info: info}, nil
}

func (e *fakeEngine) counters() (builds, starts, cleanups int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builds, e.starts, e.cleanups
}

type fakeGroup struct {
	e    *fakeEngine
	id   uint32
	size int
	rank int
}

func (g *fakeGroup) ID() uint32 { return g.id }
func (g *fakeGroup) Size() int  { return g.size }
func (g *fakeGroup) Rank() int  { return g.rank }

func (g *fakeGroup) Destroy() error {
	g.e.mu.Lock()
	g.e.groups--
	g.e.mu.Unlock()
	return nil
}

func (g *fakeGroup) Bcast(_ []byte, _ int, dt *engine.Datatype, _ int, info *engine.RequestInfo, mode engine.RequestMode) (engine.Request, error) {
	return g.e.build(info, mode, nil, dt)
}

func (g *fakeGroup) Barrier(info *engine.RequestInfo, mode engine.RequestMode) (engine.Request, error) {
	return g.e.build(info, mode, nil)
}

func (g *fakeGroup) Allreduce(_, _ []byte, _ int, dt *engine.Datatype, op *engine.Op, info *engine.RequestInfo, mode engine.RequestMode) (engine.Request, error) {
	return g.e.build(info, mode, op, dt)
}

func (g *fakeGroup) Alltoallv(_ []byte, _, _ []int32, sdt *engine.Datatype,
	_ []byte, _, _ []int32, rdt *engine.Datatype, info *engine.RequestInfo, mode engine.RequestMode) (engine.Request, error) {
	return g.e.build(info, mode, nil, sdt, rdt)
}

func (g *fakeGroup) Scatterv(_ []byte, _, _ []int32, sdt *engine.Datatype,
	_ []byte, _ int, rdt *engine.Datatype, _ int, info *engine.RequestInfo, mode engine.RequestMode) (engine.Request, error) {
	return g.e.build(info, mode, nil, sdt, rdt)
}

func (g *fakeGroup) Gatherv(_ []byte, _ int, sdt *engine.Datatype,
	_ []byte, _, _ []int32, rdt *engine.Datatype, _ int, info *engine.RequestInfo, mode engine.RequestMode) (engine.Request, error) {
	return g.e.build(info, mode, nil, sdt, rdt)
}

func (g *fakeGroup) Allgatherv(_ []byte, _ int, sdt *engine.Datatype,
	_ []byte, _, _ []int32, rdt *engine.Datatype, info *engine.RequestInfo, mode engine.RequestMode) (engine.Request, error) {
	return g.e.build(info, mode, nil, sdt, rdt)
}

type fakeRequest struct {
	e    *fakeEngine
	info *engine.RequestInfo
}

func (r *fakeRequest) Start() engine.Status {
	e := r.e
	e.mu.Lock()
	e.starts++
	st, result, inline := e.startStatus, e.testStatus, e.syncComplete
	if st.Failed() {
		e.mu.Unlock()
		return st
	}
	if r.info != nil && !inline {
		e.pending = append(e.pending, r)
	}
	e.mu.Unlock()
	if r.info != nil && inline {
		r.info.Complete(result)
	}
	return engine.StatusOK
}

func (r *fakeRequest) Test() engine.Status {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	return r.e.testStatus
}

func (r *fakeRequest) Cleanup() engine.Status {
	r.e.mu.Lock()
	r.e.cleanups++
	r.e.mu.Unlock()
	return engine.StatusOK
}

type fakeComm struct {
	id    uint32
	name  string
	size  int
	rank  int
	inter bool
	world bool
}

var _ host.Comm = (*fakeComm)(nil)

func newFakeComm(id uint32, name string) *fakeComm {
	return &fakeComm{id: id, name: name, size: 4, world: id == 0}
}

func (c *fakeComm) ID() uint32             { return c.id }
func (c *fakeComm) Name() string           { return c.name }
func (c *fakeComm) Size() int              { return c.size }
func (c *fakeComm) Rank() int              { return c.rank }
func (c *fakeComm) IsInter() bool          { return c.inter }
func (c *fakeComm) IsWorld() bool          { return c.world }
func (c *fakeComm) WorldRank(rank int) int { return rank }

func (c *fakeComm) Allgather(send, recv []byte) error {
	for i := 0; i < c.size; i++ {
		copy(recv[i*len(send):], send)
	}
	return nil
}

// prevRecorder is a complete previous implementation that records each call.
type prevRecorder struct {
	mu    sync.Mutex
	calls map[string]int
	args  map[string][]any
}

func newPrevRecorder() *prevRecorder {
	return &prevRecorder{calls: make(map[string]int), args: make(map[string][]any)}
}

func (p *prevRecorder) record(name string, args ...any) error {
	p.mu.Lock()
	p.calls[name]++
	p.args[name] = args
	p.mu.Unlock()
	return nil
}

func (p *prevRecorder) request(name string, args ...any) (*host.Request, error) {
	_ = p.record(name, args...)
	req := new(host.Request)
	req.Init(nil, false, nil)
	return req, nil
}

func (p *prevRecorder) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *prevRecorder) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *prevRecorder) lastArgs(name string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.args[name]
}

func (p *prevRecorder) table() host.CollTable {
	return host.CollTable{
		Bcast: func(buf []byte, count int, dt *host.Datatype, root int) error {
			return p.record("bcast", buf, count, dt, root)
		},
		Ibcast: func(buf []byte, count int, dt *host.Datatype, root int) (*host.Request, error) {
			return p.request("ibcast", buf, count, dt, root)
		},
		BcastInit: func(buf []byte, count int, dt *host.Datatype, root int, _ host.Info) (*host.Request, error) {
			return p.request("bcast_init", buf, count, dt, root)
		},
		Barrier:  func() error { return p.record("barrier") },
		Ibarrier: func() (*host.Request, error) { return p.request("ibarrier") },
		BarrierInit: func(host.Info) (*host.Request, error) {
			return p.request("barrier_init")
		},
		Allreduce: func(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op) error {
			return p.record("allreduce", sbuf, rbuf, count, dt, op)
		},
		Iallreduce: func(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op) (*host.Request, error) {
			return p.request("iallreduce", sbuf, rbuf, count, dt, op)
		},
		AllreduceInit: func(sbuf, rbuf []byte, count int, dt *host.Datatype, op *host.Op, _ host.Info) (*host.Request, error) {
			return p.request("allreduce_init", sbuf, rbuf, count, dt, op)
		},
		Alltoallv: func(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
			rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype) error {
			return p.record("alltoallv", sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
		},
		Ialltoallv: func(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
			rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype) (*host.Request, error) {
			return p.request("ialltoallv", sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
		},
		AlltoallvInit: func(sbuf []byte, scounts, sdispls []int32, sdt *host.Datatype,
			rbuf []byte, rcounts, rdispls []int32, rdt *host.Datatype, _ host.Info) (*host.Request, error) {
			return p.request("alltoallv_init", sbuf, scounts, sdispls, sdt, rbuf, rcounts, rdispls, rdt)
		},
		Scatterv: func(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
			rbuf []byte, rcount int, rdt *host.Datatype, root int) error {
			return p.record("scatterv", sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
		},
		Iscatterv: func(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
			rbuf []byte, rcount int, rdt *host.Datatype, root int) (*host.Request, error) {
			return p.request("iscatterv", sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
		},
		ScattervInit: func(sbuf []byte, scounts, displs []int32, sdt *host.Datatype,
			rbuf []byte, rcount int, rdt *host.Datatype, root int, _ host.Info) (*host.Request, error) {
			return p.request("scatterv_init", sbuf, scounts, displs, sdt, rbuf, rcount, rdt, root)
		},
		Gatherv: func(sbuf []byte, scount int, sdt *host.Datatype,
			rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int) error {
			return p.record("gatherv", sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
		},
		Igatherv: func(sbuf []byte, scount int, sdt *host.Datatype,
			rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int) (*host.Request, error) {
			return p.request("igatherv", sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
		},
		GathervInit: func(sbuf []byte, scount int, sdt *host.Datatype,
			rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, root int, _ host.Info) (*host.Request, error) {
			return p.request("gatherv_init", sbuf, scount, sdt, rbuf, rcounts, displs, rdt, root)
		},
		Allgatherv: func(sbuf []byte, scount int, sdt *host.Datatype,
			rbuf []byte, rcounts, displs []int32, rdt *host.Datatype) error {
			return p.record("allgatherv", sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
		},
		Iallgatherv: func(sbuf []byte, scount int, sdt *host.Datatype,
			rbuf []byte, rcounts, displs []int32, rdt *host.Datatype) (*host.Request, error) {
			return p.request("iallgatherv", sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
		},
		AllgathervInit: func(sbuf []byte, scount int, sdt *host.Datatype,
			rbuf []byte, rcounts, displs []int32, rdt *host.Datatype, _ host.Info) (*host.Request, error) {
			return p.request("allgatherv_init", sbuf, scount, sdt, rbuf, rcounts, displs, rdt)
		},
	}
}

// sameArgs compares recorded arguments, treating slices as equal only when
// they share a backing array and length.
func sameArgs(got, want []any) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		switch w := want[i].(type) {
		case []byte:
			g, ok := got[i].([]byte)
			if !ok || len(g) != len(w) || unsafe.SliceData(g) != unsafe.SliceData(w) {
				return false
			}
		case []int32:
			g, ok := got[i].([]int32)
			if !ok || len(g) != len(w) || unsafe.SliceData(g) != unsafe.SliceData(w) {
				return false
			}
		default:
			if got[i] != want[i] {
				return false
			}
		}
	}
	return true
}

// harness is one component with one enabled module over a fake engine.
type harness struct {
	c    *Component
	m    *Module
	eng  *fakeEngine
	prev *prevRecorder
	rt   *host.Runtime
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, newFakeEngine(), &host.Runtime{WorldSize: 4, Progress: host.NewProgress()})
}

func newHarnessWith(t *testing.T, cfg Config, eng *fakeEngine, rt *host.Runtime) *harness {
	t.Helper()
	c, err := Open(cfg, rt, eng)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	h := &harness{c: c, eng: eng, prev: newPrevRecorder(), rt: rt}
	h.m = h.enable(t, newFakeComm(0, "world"))
	return h
}

func (h *harness) enable(t *testing.T, comm host.Comm) *Module {
	t.Helper()
	m, _, err := h.c.Query(comm)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if err := m.Enable(h.prev.table()); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	return m
}

func handleOnly(req *host.Request, err error) error {
	if err == nil && req == nil {
		return fmt.Errorf("nil request without error")
	}
	return err
}

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	return logger.Sugar(), logs
}

func newTestTracerProvider() (*tracesdk.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	return tp, recorder
}

// logEvents returns the observed entries whose event field is event.
func logEvents(logs *observer.ObservedLogs, event string) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, entry := range logs.All() {
		if evt, ok := entry.ContextMap()["event"].(string); ok && evt == event {
			out = append(out, entry)
		}
	}
	return out
}

func spanHasEvent(recorder *tracetest.SpanRecorder, spanName, event string) bool {
	for _, span := range recorder.Ended() {
		if span.Name() != spanName {
			continue
		}
		for _, evt := range span.Events() {
			if evt.Name == event {
				return true
			}
		}
	}
	return false
}

type otelTracerAdapter struct {
	tracer trace.Tracer
}

func (o *otelTracerAdapter) StartSpan(name string, attrs ...TraceAttribute) Span {
	if o == nil || o.tracer == nil {
		return nil
	}
	attributes := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		attributes = append(attributes, toAttribute(attr))
	}
	_, span := o.tracer.Start(context.Background(), name, trace.WithAttributes(attributes...))
	return &otelSpanAdapter{span: span}
}

type otelSpanAdapter struct {
	span trace.Span
}

func (s *otelSpanAdapter) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.End()
}

func (s *otelSpanAdapter) AddEvent(name string, attrs ...TraceAttribute) {
	if s == nil || s.span == nil {
		return
	}
	attributes := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		attributes = append(attributes, toAttribute(attr))
	}
	s.span.AddEvent(name, trace.WithAttributes(attributes...))
}

func (s *otelSpanAdapter) RecordError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
}

func toAttribute(attr TraceAttribute) attribute.KeyValue {
	if attr.Key == "" {
		return attribute.String("undefined", fmt.Sprint(attr.Value))
	}
	switch v := attr.Value.(type) {
	case nil:
		return attribute.String(attr.Key, "")
	case string:
		return attribute.String(attr.Key, v)
	case fmt.Stringer:
		return attribute.String(attr.Key, v.String())
	case bool:
		return attribute.Bool(attr.Key, v)
	case int:
		return attribute.Int(attr.Key, v)
	case int32:
		return attribute.Int(attr.Key, int(v))
	case int64:
		return attribute.Int64(attr.Key, v)
	case uint32:
		return attribute.Int64(attr.Key, int64(v))
	case uint64:
		return attribute.Int64(attr.Key, int64(v))
	case float64:
		return attribute.Float64(attr.Key, v)
	case error:
		return attribute.String(attr.Key, v.Error())
	default:
		return attribute.String(attr.Key, fmt.Sprint(attr.Value))
	}
}

type metricRecorder struct {
	mu        sync.Mutex
	hits      int
	misses    int
	evicted   map[string]int
	completed int
	failed    []string
	fallbacks map[string]int
}

type metricSnapshot struct {
	Hits      int
	Misses    int
	Evicted   map[string]int
	Completed int
	// FailedStages lists the stage label of each failure in order.
	FailedStages []string
	Fallbacks    map[string]int
}

func newMetricRecorder() *metricRecorder {
	return &metricRecorder{evicted: make(map[string]int), fallbacks: make(map[string]int)}
}

func (m *metricRecorder) CacheLookup(hit bool, _ map[string]string) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
}

func (m *metricRecorder) CacheEvicted(reason string, _ map[string]string) {
	m.mu.Lock()
	m.evicted[reason]++
	m.mu.Unlock()
}

func (m *metricRecorder) RequestCompleted(_ map[string]string) {
	m.mu.Lock()
	m.completed++
	m.mu.Unlock()
}

func (m *metricRecorder) RequestFailed(_ error, attrs map[string]string) {
	m.mu.Lock()
	m.failed = append(m.failed, attrs[labelStage])
	m.mu.Unlock()
}

func (m *metricRecorder) Fallback(reason string, _ map[string]string) {
	m.mu.Lock()
	m.fallbacks[reason]++
	m.mu.Unlock()
}

func (m *metricRecorder) Snapshot() metricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := make(map[string]int, len(m.evicted))
	for k, v := range m.evicted {
		evicted[k] = v
	}
	fallbacks := make(map[string]int, len(m.fallbacks))
	for k, v := range m.fallbacks {
		fallbacks[k] = v
	}
	return metricSnapshot{
		Hits:         m.hits,
		Misses:       m.misses,
		Evicted:      evicted,
		Completed:    m.completed,
		FailedStages: append([]string(nil), m.failed...),
		Fallbacks:    fallbacks,
	}
}
