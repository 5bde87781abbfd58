// Package coll accelerates a runtime's collective operations with an external
// collective engine. A Component is opened once per process; each accepted
// communicator gets a Module whose Table replaces the previous collective
// implementations, falling back to them whenever the engine path fails.
package coll

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
	"github.com/rocketbitz/ucg-go/internal/pool"
)

// Component is the process-wide collective context.
type Component struct {
	telemetry

	id       uuid.UUID
	settings settings
	rt       *host.Runtime
	eng      engine.Context

	types    *typeTable
	requests *pool.Pool[request]
	args     *pool.ArgsPool
	// cache is nil when caching is disabled.
	cache *requestCache

	unregister func()

	mu      sync.Mutex
	modules map[*Module]struct{}
	closed  atomic.Bool
}

// CacheStats reports request cache activity.
type CacheStats struct {
	Total uint64
	Hit   uint64
	Size  int
}

// PoolStats reports pool occupancy.
type PoolStats struct {
	Requests            int
	RequestsOutstanding int
	ArgsOutstanding     int
}

// Stats is a point-in-time snapshot of component state.
type Stats struct {
	CacheEnabled  bool
	Cache         CacheStats
	Pool          PoolStats
	UserDatatypes int
	// UnorderedUnpacks counts convertors that received chunks out of order.
	UnorderedUnpacks uint64
}

// Open creates the component on top of an engine context.
func Open(cfg Config, rt *host.Runtime, eng engine.Context) (*Component, error) {
	if rt == nil {
		return nil, errors.New("ucg coll: runtime is required")
	}
	if eng == nil {
		return nil, errors.New("ucg coll: engine context is required")
	}
	if rt.WorldSize <= 0 {
		return nil, fmt.Errorf("ucg coll: invalid world size %d", rt.WorldSize)
	}

	c := &Component{
		id:       uuid.New(),
		settings: cfg.normalize(),
		rt:       rt,
		eng:      eng,
		modules:  make(map[*Module]struct{}),
	}
	c.telemetry = telemetry{
		log:     logger{plain: cfg.Logger, structured: cfg.StructuredLogger},
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
	}
	for _, w := range c.settings.warnings {
		c.log.warn("config_warning", logKV("detail", w))
	}

	types, err := newTypeTable(eng, c.log, rt.ThreadMultiple)
	if err != nil {
		return nil, err
	}
	c.types = types
	c.requests = pool.New(newRequestRecord, pool.Options{
		Max:        c.settings.poolMax,
		ThreadSafe: rt.ThreadMultiple,
	})
	c.args, err = pool.NewArgsPool(rt.WorldSize, pool.ArgsOptions{ThreadSafe: rt.ThreadMultiple})
	if err != nil {
		_ = types.close()
		return nil, fmt.Errorf("ucg coll: args pool: %w", err)
	}

	switch {
	case rt.ThreadMultiple:
		c.log.event("cache_disabled", logKV("reason", "thread_multiple"))
	case c.settings.cacheSize == 0:
		c.log.event("cache_disabled", logKV("reason", "max_rcache_size"))
	default:
		c.cache = newRequestCache(c, c.settings.cacheSize, c.args)
	}

	c.unregister = rt.Progress.Register(eng.Progress)
	c.log.event("open",
		logKV("id", c.id),
		logKV("priority", c.settings.priority),
		logKV("max_rcache_size", c.settings.cacheSize),
		logKV("npolls", c.settings.npolls),
		logKV("thread_multiple", rt.ThreadMultiple),
		logKV("world_size", rt.WorldSize),
	)
	return c, nil
}

// Query returns a module for comm and the component priority. Inter
// communicators and communicators of fewer than two processes are declined.
func (c *Component) Query(comm host.Comm) (*Module, int, error) {
	if c.closed.Load() {
		return nil, 0, ErrClosed
	}
	if comm.IsInter() {
		return nil, 0, fmt.Errorf("%w: %s is an inter-communicator", ErrUnsupportedComm, comm.Name())
	}
	if comm.Size() < 2 {
		return nil, 0, fmt.Errorf("%w: %s has size %d", ErrUnsupportedComm, comm.Name(), comm.Size())
	}
	return &Module{c: c, comm: comm, name: comm.Name()}, c.settings.priority, nil
}

// Priority is the selection priority reported by Query.
func (c *Component) Priority() int { return c.settings.priority }

// CacheEnabled reports whether repeat calls are served from the request cache.
func (c *Component) CacheEnabled() bool { return c.cache != nil }

// Stats returns cache and pool counters.
func (c *Component) Stats() Stats {
	s := Stats{
		CacheEnabled: c.cache != nil,
		Pool: PoolStats{
			Requests:            c.requests.Total(),
			RequestsOutstanding: c.requests.Outstanding(),
			ArgsOutstanding:     c.args.Outstanding(),
		},
		UserDatatypes:    c.types.userCount(),
		UnorderedUnpacks: c.types.stats.unordered.Load(),
	}
	if c.cache != nil {
		s.Cache = CacheStats{
			Total: c.cache.total.Load(),
			Hit:   c.cache.hit.Load(),
			Size:  c.cache.len(),
		}
	}
	return s
}

// Close tears down every module, the cache, the adapted types and the pools.
func (c *Component) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var result *multierror.Error

	c.mu.Lock()
	modules := make([]*Module, 0, len(c.modules))
	for m := range c.modules {
		modules = append(modules, m)
	}
	c.mu.Unlock()
	for _, m := range modules {
		if err := m.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if c.cache != nil {
		total, hit := c.cache.total.Load(), c.cache.hit.Load()
		if total > 0 {
			c.log.event("cache_stats",
				logKV("hit", hit),
				logKV("total", total),
				logKV("hit_rate", fmt.Sprintf("%.2f%%", 100*float64(hit)/float64(total))),
			)
		}
		if n := c.cache.len(); n > 0 {
			c.log.warn("cache_not_empty", logKV("entries", n))
			c.cache.purge(evictClose)
		}
	}
	if n := c.requests.Outstanding(); n > 0 {
		c.log.warn("requests_outstanding", logKV("count", n))
	}

	if err := c.types.close(); err != nil {
		result = multierror.Append(result, err)
	}
	c.unregister()
	c.requests.Close()
	c.args.Close()

	err := result.ErrorOrNil()
	c.log.event("close", logKV("id", c.id), logKV("error", err))
	return err
}

func (c *Component) trackModule(m *Module) {
	c.mu.Lock()
	c.modules[m] = struct{}{}
	c.mu.Unlock()
}

func (c *Component) untrackModule(m *Module) {
	c.mu.Lock()
	delete(c.modules, m)
	c.mu.Unlock()
}
