package coll

import (
	"context"
	"testing"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
	"github.com/rocketbitz/ucg-go/internal/numeric"
)

func TestCacheServesRepeatCalls(t *testing.T) {
	f := newCallFixture()
	metrics := newMetricRecorder()
	cfg := DefaultConfig()
	cfg.Metrics = metrics
	h := newHarness(t, cfg)

	for i := 0; i < 3; i++ {
		if err := h.m.AllreduceCached(f.sbuf, f.rbuf, f.count, f.dt, f.op); err != nil {
			t.Fatalf("AllreduceCached #%d: %v", i, err)
		}
	}
	builds, starts, cleanups := h.eng.counters()
	if builds != 1 || starts != 3 || cleanups != 0 {
		t.Fatalf("builds=%d starts=%d cleanups=%d", builds, starts, cleanups)
	}
	stats := h.c.Stats()
	if stats.Cache.Total != 3 || stats.Cache.Hit != 2 || stats.Cache.Size != 1 {
		t.Fatalf("unexpected cache stats %+v", stats.Cache)
	}
	if stats.Pool.RequestsOutstanding != 1 {
		t.Fatalf("cached request should stay out of the pool, outstanding=%d", stats.Pool.RequestsOutstanding)
	}
	snap := metrics.Snapshot()
	if snap.Hits != 2 || snap.Misses != 1 || snap.Completed != 3 {
		t.Fatalf("unexpected metrics %+v", snap)
	}

	if err := h.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, cleanups := h.eng.counters(); cleanups != 1 {
		t.Fatalf("close did not clean the cached request")
	}
	if got := metrics.Snapshot().Evicted[evictTeardown]; got != 1 {
		t.Fatalf("expected teardown eviction, got %v", metrics.Snapshot().Evicted)
	}
}

func TestCacheKeyIsExact(t *testing.T) {
	f := newCallFixture()
	h := newHarness(t, DefaultConfig())

	calls := []func() error{
		func() error { return h.m.AllreduceCached(f.sbuf, f.rbuf, f.count, f.dt, f.op) },
		func() error { return h.m.AllreduceCached(f.sbuf, f.rbuf, f.count, f.dt, host.OpMax) },
		func() error { return h.m.AllreduceCached(f.sbuf, f.rbuf, f.count+1, f.dt, f.op) },
		func() error { return h.m.AllreduceCached(f.sbuf, f.rbuf, f.count, host.Float, f.op) },
		func() error { return h.m.AllreduceCached(f.sbuf[:32], f.rbuf, f.count, f.dt, f.op) },
		func() error { return h.m.AllreduceCached(f.rbuf, f.sbuf, f.count, f.dt, f.op) },
		func() error { return h.m.BcastCached(f.buf, f.count, f.dt, 0) },
		func() error { return h.m.BcastCached(f.buf, f.count, f.dt, 1) },
		func() error { return handleOnly(h.m.IbcastCached(f.buf, f.count, f.dt, 0)) },
	}
	for i, call := range calls {
		if err := call(); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if builds, _, _ := h.eng.counters(); builds != len(calls) {
		t.Fatalf("every distinct call must miss, got %d builds for %d calls", builds, len(calls))
	}
	if hit := h.c.Stats().Cache.Hit; hit != 0 {
		t.Fatalf("unexpected hits: %d", hit)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	metrics := newMetricRecorder()
	cfg := DefaultConfig()
	cfg.MaxCacheSize = 2
	cfg.Metrics = metrics
	h := newHarness(t, cfg)

	bufs := map[string][]byte{
		"a": numeric.Bytes(make([]int32, 4)),
		"b": numeric.Bytes(make([]int32, 4)),
		"c": numeric.Bytes(make([]int32, 4)),
	}
	bcast := func(name string) {
		t.Helper()
		if err := h.m.BcastCached(bufs[name], 4, host.Int32, 0); err != nil {
			t.Fatalf("BcastCached(%s): %v", name, err)
		}
	}

	steps := []struct {
		name   string
		builds int
		hits   uint64
	}{
		{"a", 1, 0},
		{"b", 2, 0},
		{"c", 3, 0}, // evicts a
		{"b", 3, 1}, // b moves to the front
		{"a", 4, 1}, // evicts c, the tail
		{"b", 4, 2},
		{"c", 5, 2},
	}
	for i, step := range steps {
		bcast(step.name)
		builds, _, _ := h.eng.counters()
		stats := h.c.Stats().Cache
		if builds != step.builds || stats.Hit != step.hits {
			t.Fatalf("step %d (%s): builds=%d hits=%d, want %d and %d", i, step.name, builds, stats.Hit, step.builds, step.hits)
		}
		if stats.Size > cfg.MaxCacheSize {
			t.Fatalf("cache grew to %d entries", stats.Size)
		}
	}
	if got := metrics.Snapshot().Evicted[evictLRU]; got != 3 {
		t.Fatalf("expected 3 lru evictions, got %d", got)
	}
}

func TestCacheDetectsMutatedArrays(t *testing.T) {
	f := newCallFixture()
	logger, logs := newObservedLogger()
	metrics := newMetricRecorder()
	cfg := DefaultConfig()
	cfg.StructuredLogger = logger
	cfg.Metrics = metrics
	h := newHarness(t, cfg)

	scounts := []int32{1, 1, 1, 1}
	sdispls := []int32{0, 1, 2, 3}
	call := func() {
		t.Helper()
		if err := h.m.AlltoallvCached(f.sbuf, scounts, sdispls, f.dt, f.rbuf, f.counts, f.displs, f.dt); err != nil {
			t.Fatalf("AlltoallvCached: %v", err)
		}
	}

	call()
	if n := h.c.Stats().Pool.ArgsOutstanding; n != 1 {
		t.Fatalf("expected one captured args record, got %d", n)
	}
	call()
	scounts[2] = 2
	sdispls[3] = 4
	call()
	call()

	builds, _, _ := h.eng.counters()
	stats := h.c.Stats()
	if builds != 2 || stats.Cache.Hit != 2 || stats.Cache.Total != 4 || stats.Cache.Size != 1 {
		t.Fatalf("builds=%d cache=%+v", builds, stats.Cache)
	}
	if stats.Pool.ArgsOutstanding != 1 {
		t.Fatalf("stale entry args not released, outstanding=%d", stats.Pool.ArgsOutstanding)
	}
	if got := metrics.Snapshot().Evicted[evictStale]; got != 1 {
		t.Fatalf("expected one stale eviction, got %d", got)
	}
	if len(logEvents(logs, "cache_stale")) != 1 {
		t.Fatalf("expected one cache_stale log event")
	}
}

func TestCacheStaleEntryDoesNotShadowLaterMatch(t *testing.T) {
	f := newCallFixture()
	metrics := newMetricRecorder()
	cfg := DefaultConfig()
	cfg.Metrics = metrics
	h := newHarness(t, cfg)

	scounts := []int32{1, 1, 1, 1}
	issue := func() *host.Request {
		t.Helper()
		req, err := h.m.IalltoallvCached(f.sbuf, scounts, f.displs, f.dt, f.rbuf, f.counts, f.displs, f.dt)
		if err != nil {
			t.Fatalf("IalltoallvCached: %v", err)
		}
		if err := req.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		return req
	}
	free := func(req *host.Request) {
		t.Helper()
		if err := req.Free(); err != nil {
			t.Fatalf("Free: %v", err)
		}
	}

	// both requests are outstanding, so both are built and both get cached
	// with the same array pointer but different contents
	first := issue()
	scounts[0] = 2
	second := issue()
	free(second)
	free(first)
	if s := h.c.Stats().Cache; s.Size != 2 {
		t.Fatalf("expected two entries, got %+v", s)
	}

	free(issue())
	builds, _, _ := h.eng.counters()
	stats := h.c.Stats().Cache
	if builds != 2 || stats.Hit != 1 || stats.Size != 1 {
		t.Fatalf("identical call behind a stale entry must hit: builds=%d cache=%+v", builds, stats)
	}
	if got := metrics.Snapshot().Evicted[evictStale]; got != 1 {
		t.Fatalf("expected one stale eviction, got %d", got)
	}
}

func TestCacheDistinguishesArraysByIdentity(t *testing.T) {
	f := newCallFixture()
	h := newHarness(t, DefaultConfig())

	first := []int32{1, 1, 1, 1}
	second := []int32{1, 1, 1, 1}
	for _, counts := range [][]int32{first, second, first} {
		if err := h.m.AllgathervCached(f.sbuf, 1, f.dt, f.rbuf, counts, f.displs, f.dt); err != nil {
			t.Fatalf("AllgathervCached: %v", err)
		}
	}
	stats := h.c.Stats()
	if stats.Cache.Size != 2 || stats.Cache.Hit != 1 {
		t.Fatalf("equal contents in another array must miss without evicting: %+v", stats.Cache)
	}
}

func TestCacheIgnoresUnusedRootArguments(t *testing.T) {
	f := newCallFixture()
	h := newHarness(t, DefaultConfig())
	comm := newFakeComm(9, "leaf")
	comm.rank = 2
	m := h.enable(t, comm)

	if err := m.ScattervCached(f.sbuf, f.counts, f.displs, f.dt, f.rbuf, 1, f.dt, 0); err != nil {
		t.Fatalf("ScattervCached: %v", err)
	}
	other := []int32{9, 9, 9, 9}
	if err := m.ScattervCached(nil, other, nil, nil, f.rbuf, 1, f.dt, 0); err != nil {
		t.Fatalf("ScattervCached: %v", err)
	}
	if builds, _, _ := h.eng.counters(); builds != 1 {
		t.Fatalf("non-root send arguments must not affect the key, got %d builds", builds)
	}
	if n := h.c.Stats().Pool.ArgsOutstanding; n != 0 {
		t.Fatalf("non-root scatterv captured arrays: %d", n)
	}
}

func TestNonblockingCachedRoundTrip(t *testing.T) {
	f := newCallFixture()
	metrics := newMetricRecorder()
	cfg := DefaultConfig()
	cfg.Metrics = metrics
	h := newHarness(t, cfg)

	run := func() *host.Request {
		t.Helper()
		req, err := h.m.IallreduceCached(f.sbuf, f.rbuf, f.count, f.dt, f.op)
		if err != nil {
			t.Fatalf("IallreduceCached: %v", err)
		}
		if err := req.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		return req
	}

	req := run()
	if h.c.Stats().Cache.Size != 0 {
		t.Fatalf("request joined the cache before it was freed")
	}
	if err := req.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if h.c.Stats().Cache.Size != 1 {
		t.Fatalf("freed request did not join the cache")
	}
	req = run()
	if h.c.Stats().Cache.Size != 0 {
		t.Fatalf("running request must leave the cache")
	}
	if err := req.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	builds, _, _ := h.eng.counters()
	stats := h.c.Stats()
	if builds != 1 || stats.Cache.Hit != 1 || stats.Cache.Size != 1 {
		t.Fatalf("builds=%d cache=%+v", builds, stats.Cache)
	}

	h.eng.testStatus = engine.ErrIO
	req, err := h.m.IallreduceCached(f.sbuf, f.rbuf, f.count, f.dt, f.op)
	if err != nil {
		t.Fatalf("IallreduceCached: %v", err)
	}
	if err := req.Wait(context.Background()); err == nil {
		t.Fatalf("expected completion error")
	}
	if err := req.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	stats = h.c.Stats()
	if stats.Cache.Size != 0 || stats.Pool.RequestsOutstanding != 0 {
		t.Fatalf("failed request must leave the cache: %+v", stats)
	}
	if got := metrics.Snapshot().Evicted[evictFailed]; got != 1 {
		t.Fatalf("expected failed eviction, got %v", metrics.Snapshot().Evicted)
	}
}

func TestModuleCloseEvictsOnlyItsEntries(t *testing.T) {
	f := newCallFixture()
	h := newHarness(t, DefaultConfig())
	sub := h.enable(t, newFakeComm(12, "sub"))

	if err := h.m.AlltoallvCached(f.sbuf, f.counts, f.displs, f.dt, f.rbuf, f.counts, f.displs, f.dt); err != nil {
		t.Fatalf("world AlltoallvCached: %v", err)
	}
	if err := sub.AlltoallvCached(f.sbuf, f.counts, f.displs, f.dt, f.rbuf, f.counts, f.displs, f.dt); err != nil {
		t.Fatalf("sub AlltoallvCached: %v", err)
	}
	if err := sub.BarrierCached(); err != nil {
		t.Fatalf("sub BarrierCached: %v", err)
	}
	if s := h.c.Stats(); s.Cache.Size != 3 || s.Pool.ArgsOutstanding != 2 {
		t.Fatalf("unexpected stats before close: %+v", s)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s := h.c.Stats()
	if s.Cache.Size != 1 || s.Pool.RequestsOutstanding != 1 || s.Pool.ArgsOutstanding != 1 {
		t.Fatalf("unexpected stats after module close: %+v", s)
	}
	if err := h.m.AlltoallvCached(f.sbuf, f.counts, f.displs, f.dt, f.rbuf, f.counts, f.displs, f.dt); err != nil {
		t.Fatalf("world AlltoallvCached: %v", err)
	}
	if h.c.Stats().Cache.Hit != 1 {
		t.Fatalf("world entry should survive the sub communicator teardown")
	}

	if err := h.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s = h.c.Stats()
	if s.Cache.Size != 0 || s.Pool.RequestsOutstanding != 0 || s.Pool.ArgsOutstanding != 0 {
		t.Fatalf("resources left after component close: %+v", s)
	}
	if h.eng.groups != 0 || h.eng.liveDatatypes != 0 || h.eng.liveOps != 0 {
		t.Fatalf("engine objects leaked: groups=%d datatypes=%d ops=%d", h.eng.groups, h.eng.liveDatatypes, h.eng.liveOps)
	}
}

func TestFreeAfterCloseRetiresCachedRequest(t *testing.T) {
	f := newCallFixture()
	metrics := newMetricRecorder()
	cfg := DefaultConfig()
	cfg.Metrics = metrics
	h := newHarness(t, cfg)
	sub := h.enable(t, newFakeComm(12, "sub"))

	issue := func(m *Module) *host.Request {
		t.Helper()
		req, err := m.IallreduceCached(f.sbuf, f.rbuf, f.count, f.dt, f.op)
		if err != nil {
			t.Fatalf("IallreduceCached: %v", err)
		}
		if err := req.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		return req
	}

	// a cache hit is detached from the list while the caller holds it
	if err := issue(sub).Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	held := issue(sub)
	if s := h.c.Stats().Cache; s.Hit != 1 || s.Size != 0 {
		t.Fatalf("expected a detached hit, got %+v", s)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := held.Free(); err != nil {
		t.Fatalf("Free after module close: %v", err)
	}
	s := h.c.Stats()
	if s.Cache.Size != 0 || s.Pool.RequestsOutstanding != 0 {
		t.Fatalf("request of a destroyed group went back to the cache: %+v", s)
	}
	if _, _, cleanups := h.eng.counters(); cleanups != 1 {
		t.Fatalf("engine request not cleaned up, cleanups=%d", cleanups)
	}

	held = issue(h.m)
	if err := h.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := held.Free(); err != nil {
		t.Fatalf("Free after component close: %v", err)
	}
	s = h.c.Stats()
	if s.Cache.Size != 0 || s.Pool.RequestsOutstanding != 0 || s.Pool.ArgsOutstanding != 0 {
		t.Fatalf("request freed after close leaked: %+v", s)
	}
	if got := metrics.Snapshot().Evicted[evictTeardown]; got != 2 {
		t.Fatalf("expected two teardown evictions, got %v", metrics.Snapshot().Evicted)
	}
	if h.eng.liveOps != 0 || h.eng.groups != 0 {
		t.Fatalf("engine objects leaked: ops=%d groups=%d", h.eng.liveOps, h.eng.groups)
	}
}

func TestCachePinsUserDatatype(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	pair, err := host.Contiguous(2, host.Int32)
	if err != nil {
		t.Fatalf("Contiguous: %v", err)
	}
	if err := pair.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	buf := numeric.Bytes(make([]int32, 8))
	if err := h.m.BcastCached(buf, 4, pair, 0); err != nil {
		t.Fatalf("BcastCached: %v", err)
	}
	if h.c.Stats().UserDatatypes != 1 {
		t.Fatalf("user datatype not adapted")
	}

	if err := pair.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if !pair.Valid() {
		t.Fatalf("cached request must keep its datatype alive")
	}
	if err := h.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pair.Valid() {
		t.Fatalf("datatype still alive after the cache released it")
	}
	if h.c.Stats().UserDatatypes != 0 || h.eng.liveDatatypes != 0 {
		t.Fatalf("adapted datatype leaked: user=%d engine=%d", h.c.Stats().UserDatatypes, h.eng.liveDatatypes)
	}
}
