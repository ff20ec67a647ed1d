package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/models"
)

func newTestSweeper(h *harness) *Sweeper {
	opts := DefaultOptions()
	opts.SweepInterval = 10 * time.Millisecond
	return NewSweeper(opts, zap.NewNop(), h.cache, h.db, h.bc, h.metrics)
}

func TestSweepFiresOncePerTransition(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))
	sw := newTestSweeper(h)

	_, err := h.svc.ProcessLocation(ctx, ping(trip, 12.9600, 77.5800, 30))
	require.NoError(t, err)

	n, err := sw.Sweep(ctx, testStart.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = sw.Sweep(ctx, testStart.Add(31*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = sw.Sweep(ctx, testStart.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	offline := h.bc.ofType(models.EventTripOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, "trip:t1", offline[0].topic)
	assert.Equal(t, "bus-t1", offline[0].event.Data.(models.TripOffline).VehicleID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TripsOffline))

	_, err = h.cache.Get(ctx, cache.LiveKey("t1"))
	assert.ErrorIs(t, err, cache.ErrMiss)

	// 再次上报后重新上线，之后还能再离线一次
	h.clock.Advance(5 * time.Minute)
	_, err = h.svc.ProcessLocation(ctx, ping(trip, 12.9600, 77.5800, 30))
	require.NoError(t, err)
	n, err = sw.Sweep(ctx, h.clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, h.bc.ofType(models.EventTripOffline), 2)
}

func TestSweepPurgesIdleRows(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))
	sw := newTestSweeper(h)

	_, err := h.svc.ProcessLocation(ctx, ping(trip, 12.9600, 77.5800, 30))
	require.NoError(t, err)

	_, err = sw.Sweep(ctx, testStart.Add(time.Minute))
	require.NoError(t, err)
	_, err = h.db.Get(ctx, "t1")
	require.NoError(t, err)

	_, err = sw.Sweep(ctx, testStart.Add(25*time.Hour))
	require.NoError(t, err)
	_, err = h.db.Get(ctx, "t1")
	assert.Error(t, err)
}

func TestSweeperStartStop(t *testing.T) {
	h := newHarness()
	h.db.live["t1"] = &models.LiveLocation{
		TripID:     "t1",
		VehicleID:  "bus-t1",
		Status:     models.LiveOnline,
		LastUpdate: time.Now().Add(-time.Hour),
	}
	sw := newTestSweeper(h)

	sw.Start(context.Background())
	sw.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(h.bc.ofType(models.EventTripOffline)) == 1
	}, time.Second, 10*time.Millisecond)

	sw.Stop()
	sw.Stop()
	assert.Len(t, h.bc.ofType(models.EventTripOffline), 1)
}
