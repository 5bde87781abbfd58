//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/ucg-go/coll"
	"github.com/rocketbitz/ucg-go/host"
	"github.com/rocketbitz/ucg-go/internal/loopback"
	"github.com/rocketbitz/ucg-go/internal/numeric"
)

const subCommID = 7

// TestSubCommunicatorAndDenyList runs a reordered two-rank communicator next
// to the world one and routes the deny-listed barrier to the fallback table.
func TestSubCommunicatorAndDenyList(t *testing.T) {
	t.Setenv("UCG_DISABLE_COLL", "barrier")
	t.Setenv("UCG_MAX_RCACHE_SIZE", "4")
	cfg, err := coll.LoadConfig("")
	require.NoError(t, err)

	const size = 4
	members := []int{3, 1}
	world, err := loopback.NewWorld(size, loopback.Options{ChunkSize: 8, OutOfOrder: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = world.Run(ctx, func(_ context.Context, rank int) error {
		rt := &host.Runtime{WorldSize: size, WorldRank: rank, Progress: host.NewProgress()}
		c, err := coll.Open(cfg, rt, world.Context(rank))
		require.NoError(t, err)
		defer func() {
			require.NoError(t, c.Close())
		}()

		var fb loopback.Fallback
		wm, _, err := c.Query(world.WorldComm(rank))
		require.NoError(t, err)
		require.NoError(t, wm.Enable(fb.Table()))

		require.ErrorIs(t, wm.Table().Barrier(), loopback.ErrNoFallback)
		require.Equal(t, "barrier", fb.Last())
		require.NoError(t, wm.Barrier())

		if rank == 1 || rank == 3 {
			sub, err := world.NewComm(subCommID, "pair", members, rank)
			require.NoError(t, err)
			sm, _, err := c.Query(sub)
			require.NoError(t, err)
			require.NoError(t, sm.Enable(fb.Table()))

			buf := make([]int32, 3)
			if sub.Rank() == 0 {
				copy(buf, []int32{7, 8, 9})
			}
			for range 2 {
				require.NoError(t, sm.BcastCached(numeric.Bytes(buf), 3, host.Int32, 0))
				require.Equal(t, []int32{7, 8, 9}, buf)
			}
			require.NoError(t, sm.Close())
		}

		send := []int32{int32(rank), 1}
		recv := make([]int32, 2)
		require.NoError(t, wm.AllreduceCached(numeric.Bytes(send), numeric.Bytes(recv), 2, host.Int32, host.OpSum))
		require.Equal(t, []int32{6, 4}, recv)

		stats := c.Stats()
		require.True(t, stats.CacheEnabled)
		require.Equal(t, 1, stats.Cache.Size, "sub-communicator entries are evicted with its module")
		require.EqualValues(t, 1, fb.Calls())
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, world.Groups())
}
