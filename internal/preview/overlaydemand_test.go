package preview

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOverlayDemand(t *testing.T) *OverlayDemand {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewOverlayDemand(rdb)
}

func TestOverlayDemandIncrementAndList(t *testing.T) {
	d := newTestOverlayDemand(t)
	ctx := context.Background()

	require.NoError(t, d.Increment(ctx, "cam1"))
	require.NoError(t, d.Increment(ctx, "cam1"))
	require.NoError(t, d.Increment(ctx, "cam2"))

	cams, err := d.CamerasWithDemand(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cam1", "cam2"}, cams)
}

func TestOverlayDemandRemovesMemberAtZero(t *testing.T) {
	d := newTestOverlayDemand(t)
	ctx := context.Background()

	require.NoError(t, d.Increment(ctx, "cam1"))
	require.NoError(t, d.Decrement(ctx, "cam1"))

	cams, err := d.CamerasWithDemand(ctx)
	require.NoError(t, err)
	assert.Empty(t, cams)
}

func TestOverlayDemandNilClientIsNoop(t *testing.T) {
	d := NewOverlayDemand(nil)
	ctx := context.Background()
	require.NoError(t, d.Increment(ctx, "cam1"))
	cams, err := d.CamerasWithDemand(ctx)
	require.NoError(t, err)
	assert.Nil(t, cams)
}
