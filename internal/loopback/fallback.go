package loopback

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rocketbitz/ucg-go/host"
)

// ErrNoFallback is returned by every entry of a Fallback table.
var ErrNoFallback = errors.New("loopback: no previous collective implementation")

// Fallback stands in for the previous collective implementation of a loopback
// rank. The world has no transport of its own, so every entry fails; Calls
// reports how often the engine path gave up.
type Fallback struct {
	calls atomic.Int64
	last  atomic.Value // string
}

// Calls is the number of collective calls routed to the fallback.
func (f *Fallback) Calls() int64 { return f.calls.Load() }

// Last names the most recent fallback entry, or "" if none was used.
func (f *Fallback) Last() string {
	name, _ := f.last.Load().(string)
	return name
}

func (f *Fallback) fail(name string) error {
	f.calls.Add(1)
	f.last.Store(name)
	return fmt.Errorf("%s: %w", name, ErrNoFallback)
}

// Table returns a complete table whose entries record the call and fail.
func (f *Fallback) Table() host.CollTable {
	return host.CollTable{
		Bcast: func([]byte, int, *host.Datatype, int) error { return f.fail("bcast") },
		Ibcast: func([]byte, int, *host.Datatype, int) (*host.Request, error) {
			return nil, f.fail("ibcast")
		},
		BcastInit: func([]byte, int, *host.Datatype, int, host.Info) (*host.Request, error) {
			return nil, f.fail("bcast_init")
		},

		Barrier:     func() error { return f.fail("barrier") },
		Ibarrier:    func() (*host.Request, error) { return nil, f.fail("ibarrier") },
		BarrierInit: func(host.Info) (*host.Request, error) { return nil, f.fail("barrier_init") },

		Allreduce: func(_, _ []byte, _ int, _ *host.Datatype, _ *host.Op) error {
			return f.fail("allreduce")
		},
		Iallreduce: func(_, _ []byte, _ int, _ *host.Datatype, _ *host.Op) (*host.Request, error) {
			return nil, f.fail("iallreduce")
		},
		AllreduceInit: func(_, _ []byte, _ int, _ *host.Datatype, _ *host.Op, _ host.Info) (*host.Request, error) {
			return nil, f.fail("allreduce_init")
		},

		Alltoallv: func(_ []byte, _, _ []int32, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype) error {
			return f.fail("alltoallv")
		},
		Ialltoallv: func(_ []byte, _, _ []int32, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype) (*host.Request, error) {
			return nil, f.fail("ialltoallv")
		},
		AlltoallvInit: func(_ []byte, _, _ []int32, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype, _ host.Info) (*host.Request, error) {
			return nil, f.fail("alltoallv_init")
		},

		Scatterv: func(_ []byte, _, _ []int32, _ *host.Datatype, _ []byte, _ int, _ *host.Datatype, _ int) error {
			return f.fail("scatterv")
		},
		Iscatterv: func(_ []byte, _, _ []int32, _ *host.Datatype, _ []byte, _ int, _ *host.Datatype, _ int) (*host.Request, error) {
			return nil, f.fail("iscatterv")
		},
		ScattervInit: func(_ []byte, _, _ []int32, _ *host.Datatype, _ []byte, _ int, _ *host.Datatype, _ int, _ host.Info) (*host.Request, error) {
			return nil, f.fail("scatterv_init")
		},

		Gatherv: func(_ []byte, _ int, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype, _ int) error {
			return f.fail("gatherv")
		},
		Igatherv: func(_ []byte, _ int, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype, _ int) (*host.Request, error) {
			return nil, f.fail("igatherv")
		},
		GathervInit: func(_ []byte, _ int, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype, _ int, _ host.Info) (*host.Request, error) {
			return nil, f.fail("gatherv_init")
		},

		Allgatherv: func(_ []byte, _ int, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype) error {
			return f.fail("allgatherv")
		},
		Iallgatherv: func(_ []byte, _ int, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype) (*host.Request, error) {
			return nil, f.fail("iallgatherv")
		},
		AllgathervInit: func(_ []byte, _ int, _ *host.Datatype, _ []byte, _, _ []int32, _ *host.Datatype, _ host.Info) (*host.Request, error) {
			return nil, f.fail("allgatherv_init")
		},
	}
}
