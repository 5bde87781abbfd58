package coll

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rocketbitz/ucg-go/engine"
	"github.com/rocketbitz/ucg-go/host"
)

// Module is the component's state for one communicator.
type Module struct {
	c    *Component
	comm host.Comm
	name string

	prev  host.CollTable
	group engine.Group
	// id is the engine group id recorded in cache signatures.
	id uint32

	enabled atomic.Bool
	closed  atomic.Bool
}

// Enable creates the engine group for the communicator and saves prev as the
// fallback. Every entry of prev must be set.
func (m *Module) Enable(prev host.CollTable) error {
	if m.c.closed.Load() {
		return ErrClosed
	}
	if m.enabled.Load() {
		return fmt.Errorf("ucg coll: module for %s already enabled", m.name)
	}
	if missing := prev.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFallback, strings.Join(missing, ", "))
	}

	size := m.comm.Size()
	rankMap := engine.RankMap{Type: engine.RankMapFull, Size: size}
	if !m.comm.IsWorld() {
		rankMap.Type = engine.RankMapCallback
		rankMap.Mapping = m.comm.WorldRank
	}
	group, err := m.c.eng.CreateGroup(engine.GroupParams{
		ID:      m.comm.ID(),
		Size:    size,
		MyRank:  m.comm.Rank(),
		RankMap: rankMap,
		OOB: engine.OOBGroup{
			MyRank:    m.comm.Rank(),
			Size:      size,
			Allgather: m.comm.Allgather,
		},
	})
	if err != nil {
		return fmt.Errorf("ucg coll: create group for %s: %w", m.name, err)
	}

	m.prev = prev
	m.group = group
	m.id = group.ID()
	m.enabled.Store(true)
	m.c.trackModule(m)
	m.c.log.event("module_enable",
		logKV("comm", m.name),
		logKV("group", m.id),
		logKV("size", size),
		logKV("rank", m.comm.Rank()),
		logKV("rank_map", rankMapName(rankMap.Type)),
	)
	return nil
}

func rankMapName(t engine.RankMapType) string {
	if t == engine.RankMapFull {
		return "full"
	}
	return "callback"
}

// Table returns the collective table to install on the communicator.
// Deny-listed collectives keep the previous implementation.
func (m *Module) Table() host.CollTable {
	t := m.prev
	cached := m.c.cache != nil
	on := func(name collName) bool { return !m.c.settings.disabled[name] }

	if on(collBcast) {
		t.Bcast, t.Ibcast, t.BcastInit = m.Bcast, m.Ibcast, m.BcastInit
		if cached {
			t.Bcast, t.Ibcast = m.BcastCached, m.IbcastCached
		}
	}
	if on(collBarrier) {
		t.Barrier, t.Ibarrier, t.BarrierInit = m.Barrier, m.Ibarrier, m.BarrierInit
		if cached {
			t.Barrier, t.Ibarrier = m.BarrierCached, m.IbarrierCached
		}
	}
	if on(collAllreduce) {
		t.Allreduce, t.Iallreduce, t.AllreduceInit = m.Allreduce, m.Iallreduce, m.AllreduceInit
		if cached {
			t.Allreduce, t.Iallreduce = m.AllreduceCached, m.IallreduceCached
		}
	}
	if on(collAlltoallv) {
		t.Alltoallv, t.Ialltoallv, t.AlltoallvInit = m.Alltoallv, m.Ialltoallv, m.AlltoallvInit
		if cached {
			t.Alltoallv, t.Ialltoallv = m.AlltoallvCached, m.IalltoallvCached
		}
	}
	if on(collScatterv) {
		t.Scatterv, t.Iscatterv, t.ScattervInit = m.Scatterv, m.Iscatterv, m.ScattervInit
		if cached {
			t.Scatterv, t.Iscatterv = m.ScattervCached, m.IscattervCached
		}
	}
	if on(collGatherv) {
		t.Gatherv, t.Igatherv, t.GathervInit = m.Gatherv, m.Igatherv, m.GathervInit
		if cached {
			t.Gatherv, t.Igatherv = m.GathervCached, m.IgathervCached
		}
	}
	if on(collAllgatherv) {
		t.Allgatherv, t.Iallgatherv, t.AllgathervInit = m.Allgatherv, m.Iallgatherv, m.AllgathervInit
		if cached {
			t.Allgatherv, t.Iallgatherv = m.AllgathervCached, m.IallgathervCached
		}
	}
	return t
}

// Close drops the module's cache entries and then destroys its engine group.
// Calls made after Close go to the previous implementation.
func (m *Module) Close() error {
	if !m.enabled.Load() || !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	evicted := 0
	if m.c.cache != nil {
		evicted = m.c.cache.deleteByGroup(m.id, evictTeardown)
	}
	err := m.group.Destroy()
	m.c.untrackModule(m)
	m.c.log.event("module_close", logKV("comm", m.name), logKV("group", m.id), logKV("evicted", evicted))
	if err != nil {
		return fmt.Errorf("ucg coll: destroy group for %s: %w", m.name, err)
	}
	return nil
}

// Name is the communicator name.
func (m *Module) Name() string { return m.name }
