package preview

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const overlayDemandKey = "preview:overlay_demand"

// OverlayDemand ref-counts how many viewers currently want overlays rendered
// for a camera, shared across process instances via a Redis sorted set,
// using a Redis ZIncrBy-based ref-counting pattern.
type OverlayDemand struct {
	rdb *redis.Client
}

// NewOverlayDemand wraps a redis client. rdb may be nil, in which case every
// method becomes a silent no-op (single-process deployments don't need
// cross-process overlay demand tracking).
func NewOverlayDemand(rdb *redis.Client) *OverlayDemand {
	return &OverlayDemand{rdb: rdb}
}

// Increment registers one more viewer wanting overlays for cameraID.
func (d *OverlayDemand) Increment(ctx context.Context, cameraID string) error {
	if d.rdb == nil {
		return nil
	}
	return d.rdb.ZIncrBy(ctx, overlayDemandKey, 1.0, cameraID).Err()
}

// Decrement removes one viewer's overlay demand, deleting the member
// entirely once its count reaches zero or below.
func (d *OverlayDemand) Decrement(ctx context.Context, cameraID string) error {
	if d.rdb == nil {
		return nil
	}
	score, err := d.rdb.ZIncrBy(ctx, overlayDemandKey, -1.0, cameraID).Result()
	if err != nil {
		return err
	}
	if score <= 0 {
		d.rdb.ZRem(ctx, overlayDemandKey, cameraID)
	}
	return nil
}

// CamerasWithDemand lists cameras that currently have at least one overlay
// viewer.
func (d *OverlayDemand) CamerasWithDemand(ctx context.Context) ([]string, error) {
	if d.rdb == nil {
		return nil, nil
	}
	return d.rdb.ZRange(ctx, overlayDemandKey, 0, -1).Result()
}
