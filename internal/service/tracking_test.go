package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/models"
)

func TestArrivalScenario(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))
	h.addRiders("S", "R1", "R2")

	// 约 250 米外
	update, err := h.svc.ProcessLocation(ctx, ping(trip, 12.9700, 77.5930, 20))
	require.NoError(t, err)
	assert.Equal(t, 0, update.NextStopIndex)
	assert.Equal(t, "Stop S", update.NextStop)
	require.NotNil(t, update.ETA)
	assert.Empty(t, h.bc.ofType(models.EventStopArrived))

	h.clock.Advance(time.Second)
	update, err = h.svc.ProcessLocation(ctx, ping(trip, 12.9718, 77.5948, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, update.NextStopIndex)
	assert.Nil(t, update.ETA)

	arrived := h.bc.ofType(models.EventStopArrived)
	require.Len(t, arrived, 1)
	assert.Equal(t, "trip:t1", arrived[0].topic)
	assert.Equal(t, "S", arrived[0].event.Data.(models.StopEvent).StopID)

	visit := h.db.visit("t1", "S")
	require.NotNil(t, visit)
	assert.Equal(t, h.clock.Now(), visit.ArrivalTime)

	marks := h.db.attendanceMarks()
	require.Len(t, marks, 1)
	assert.ElementsMatch(t, []string{"R1", "R2"}, marks[0].RiderIDs)
	assert.Equal(t, models.DirectionPickup, marks[0].Direction)
	assert.Equal(t, "2026-03-02", marks[0].Date)

	attendance := h.bc.ofType(models.EventAttendanceMarked)
	require.Len(t, attendance, 1)
	assert.Equal(t, 2, attendance[0].event.Data.(models.AttendanceMarked).RiderCount)
	assert.Equal(t, models.AttendancePicked, attendance[0].event.Data.(models.AttendanceMarked).Status)

	progress := h.bc.ofType(models.EventProgressionChanged)
	require.Len(t, progress, 1)
	change := progress[0].event.Data.(models.ProgressionChange)
	assert.Equal(t, 1, change.NextStopIndex)
	assert.Equal(t, 0, change.Remaining)
	assert.Equal(t, "S", change.LastVisitedStop)
	assert.False(t, change.Skipped)

	// 同样的定位一秒后再来一次
	h.clock.Advance(time.Second)
	_, err = h.svc.ProcessLocation(ctx, ping(trip, 12.9718, 77.5948, 10))
	require.NoError(t, err)

	assert.Len(t, h.bc.ofType(models.EventStopArrived), 1)
	assert.Len(t, h.db.attendanceMarks(), 1)
	assert.Len(t, h.bc.ofType(models.EventLocation), 9)
}

func TestLocationFansOutToAllTopics(t *testing.T) {
	h := newHarness()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))

	_, err := h.svc.ProcessLocation(context.Background(), ping(trip, 12.9700, 77.5930, 20))
	require.NoError(t, err)

	var topics []string
	for _, p := range h.bc.ofType(models.EventLocation) {
		topics = append(topics, p.topic)
	}
	assert.ElementsMatch(t, []string{"trip:t1", "vehicle:bus-t1", "admin"}, topics)
}

func TestInvalidPingWritesNothing(t *testing.T) {
	h := newHarness()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))

	_, err := h.svc.ProcessLocation(context.Background(), ping(trip, 95, 77.5948, 10))
	require.ErrorIs(t, err, ErrInvalidPing)

	_, err = h.db.Get(context.Background(), "t1")
	assert.Error(t, err)
	assert.Equal(t, 0, h.db.historyLen())
	assert.Equal(t, 0, h.bc.count())

	_, err = h.cache.Get(context.Background(), cache.LiveKey("t1"))
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Pings.WithLabelValues("invalid")))
}

func TestTripChecks(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))

	ghost := *trip
	ghost.ID = "missing"
	_, err := h.svc.ProcessLocation(ctx, ping(&ghost, 12.97, 77.59, 0))
	assert.ErrorIs(t, err, ErrTripNotFound)

	wrongDriver := ping(trip, 12.97, 77.59, 0)
	wrongDriver.DriverID = "someone-else"
	_, err = h.svc.ProcessLocation(ctx, wrongDriver)
	assert.ErrorIs(t, err, ErrUnauthorized)

	wrongVehicle := ping(trip, 12.97, 77.59, 0)
	wrongVehicle.VehicleID = "bus-x"
	_, err = h.svc.ProcessLocation(ctx, wrongVehicle)
	assert.ErrorIs(t, err, ErrUnauthorized)

	h.db.mu.Lock()
	h.db.trips["t1"].Status = models.TripEnded
	h.db.mu.Unlock()
	_, err = h.svc.ProcessLocation(ctx, ping(trip, 12.97, 77.59, 0))
	assert.ErrorIs(t, err, ErrTripNotActive)

	assert.Equal(t, 0, h.bc.count())
}

func TestGeofenceHysteresis(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	trip := h.addTrip("t1", models.DirectionDrop,
		stop("A", 0, 12.9718, 77.5948),
		stop("B", 1, 12.9898, 77.5948),
	)

	send := func(lat, lng float64) {
		h.clock.Advance(5 * time.Second)
		_, err := h.svc.ProcessLocation(ctx, ping(trip, lat, lng, 15))
		require.NoError(t, err)
	}

	send(12.9700, 77.5930) // 站外
	send(12.9718, 77.5948) // 进站
	send(12.9719, 77.5948) // 仍在站内
	assert.Len(t, h.bc.ofType(models.EventStopArrived), 1)
	assert.Empty(t, h.bc.ofType(models.EventStopDeparted))

	send(12.9700, 77.5930) // 出站
	send(12.9699, 77.5930) // 仍在站外
	assert.Len(t, h.bc.ofType(models.EventStopDeparted), 1)

	visit := h.db.visit("t1", "A")
	require.NotNil(t, visit)
	require.NotNil(t, visit.DepartureTime)
	firstDeparture := *visit.DepartureTime

	// 同一天再次进站，围栏检测到跨越但到站锁已被占用
	send(12.9718, 77.5948)
	assert.Len(t, h.bc.ofType(models.EventStopArrived), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DuplicateArrivals))

	send(12.9700, 77.5930)
	assert.Len(t, h.bc.ofType(models.EventStopDeparted), 2)
	assert.Equal(t, firstDeparture, *h.db.visit("t1", "A").DepartureTime)
}

func TestAutoSkipAndMonotonicIndex(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	trip := h.addTrip("t1", models.DirectionPickup,
		stop("A", 0, 12.9718, 77.5948),
		stop("B", 1, 12.9808, 77.5948),
		stop("C", 2, 12.9898, 77.5948),
	)

	// 直接到达 B，A 被跳过
	update, err := h.svc.ProcessLocation(ctx, ping(trip, 12.9808, 77.5948, 20))
	require.NoError(t, err)
	assert.Equal(t, 2, update.NextStopIndex)
	assert.Equal(t, "Stop C", update.NextStop)

	progress := h.bc.ofType(models.EventProgressionChanged)
	require.Len(t, progress, 2)
	skip := progress[0].event.Data.(models.ProgressionChange)
	assert.True(t, skip.Skipped)
	assert.Equal(t, "A", skip.SkippedStop)
	assert.Equal(t, 1, skip.NextStopIndex)
	visited := progress[1].event.Data.(models.ProgressionChange)
	assert.False(t, visited.Skipped)
	assert.Equal(t, "B", visited.LastVisitedStop)
	assert.Equal(t, 2, visited.NextStopIndex)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AutoSkips))

	// 回到 A：到站照常记录，但序号不回退
	h.clock.Advance(time.Minute)
	update, err = h.svc.ProcessLocation(ctx, ping(trip, 12.9718, 77.5948, 20))
	require.NoError(t, err)
	assert.Equal(t, 2, update.NextStopIndex)
	assert.NotNil(t, h.db.visit("t1", "A"))
	assert.Len(t, h.bc.ofType(models.EventProgressionChanged), 2)

	loc, err := h.db.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, loc.NextStopIndex)

	raw, err := h.cache.Get(ctx, cache.NextStopIndexKey("t1"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(raw))
}

func TestShouldAutoSkip(t *testing.T) {
	stops := []models.RouteStop{
		stop("A", 0, 12.9718, 77.5948),
		stop("B", 1, 12.9808, 77.5948),
	}

	assert.True(t, shouldAutoSkip(12.9808, 77.5948, stops, 0))
	// 更靠近下一站但还没进入下一站围栏
	assert.False(t, shouldAutoSkip(12.9790, 77.5948, stops, 0))
	// 已经是最后一站
	assert.False(t, shouldAutoSkip(12.9808, 77.5948, stops, 1))
	assert.False(t, shouldAutoSkip(12.9808, 77.5948, nil, 0))
}

func TestConcurrentArrivalsAreIdempotent(t *testing.T) {
	h := newHarness()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))
	h.addRiders("S", "R1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ProcessLocation(context.Background(), ping(trip, 12.9718, 77.5948, 5))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.bc.ofType(models.EventStopArrived), 1)
	assert.Len(t, h.db.attendanceMarks(), 1)

	loc, err := h.db.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, loc.NextStopIndex)
}

func TestHistoryThrottle(t *testing.T) {
	h := newHarness()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))

	for i := 0; i < 60; i++ {
		_, err := h.svc.ProcessLocation(context.Background(), ping(trip, 12.9600, 77.5800, 30))
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	assert.InDelta(t, 2, h.db.historyLen(), 1)
	assert.Equal(t, float64(h.db.historyLen()), testutil.ToFloat64(h.metrics.HistoryPoints))
}

func TestCacheDownFallsBackToDurableStore(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	trip := h.addTrip("t1", models.DirectionPickup,
		stop("A", 0, 12.9718, 77.5948),
		stop("B", 1, 12.9898, 77.5948),
	)
	h.addRiders("A", "R1")
	h.cache.setDown(true)

	update, err := h.svc.ProcessLocation(ctx, ping(trip, 12.9718, 77.5948, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, update.NextStopIndex)

	// 围栏状态丢失，每次都会重新检测到到站，由数据库插入结果去重
	h.clock.Advance(time.Second)
	update, err = h.svc.ProcessLocation(ctx, ping(trip, 12.9718, 77.5948, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, update.NextStopIndex)

	assert.Len(t, h.bc.ofType(models.EventStopArrived), 1)
	assert.Len(t, h.db.attendanceMarks(), 1)
	assert.Greater(t, testutil.ToFloat64(h.metrics.CacheErrors.WithLabelValues("mget")), 0.0)

	loc, err := h.db.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, loc.NextStopIndex)
}

func TestDurableFailureIsReturned(t *testing.T) {
	h := newHarness()
	trip := h.addTrip("t1", models.DirectionPickup, stop("S", 0, 12.9718, 77.5948))
	h.db.UpsertErr = errors.New("connection reset")

	_, err := h.svc.ProcessLocation(context.Background(), ping(trip, 12.9600, 77.5800, 30))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPing)
	assert.Empty(t, h.bc.ofType(models.EventLocation))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Pings.WithLabelValues("error")))
}

func TestStartAndEndTrip(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.addTrip("t1", models.DirectionPickup,
		stop("A", 0, 12.9718, 77.5948),
		stop("B", 1, 12.9898, 77.5948),
	)

	started, err := h.svc.StartTrip(ctx, "t1", &models.Fix{Lat: 12.9600, Lng: 77.5800})
	require.NoError(t, err)
	assert.Len(t, started.Stops, 2)
	assert.Equal(t, 0, started.NextStopIndex)
	require.NotNil(t, started.Location)

	_, err = h.cache.Get(ctx, cache.StopsKey("t1"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.db.historyLen())

	loc, err := h.db.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.LiveOnline, loc.Status)

	require.NoError(t, h.svc.EndTrip(ctx, "t1"))
	for _, key := range cache.TripKeys("t1") {
		_, err := h.cache.Get(ctx, key)
		assert.ErrorIs(t, err, cache.ErrMiss, key)
	}
	loc, err = h.db.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.LiveOffline, loc.Status)

	_, err = h.svc.StartTrip(ctx, "nope", nil)
	assert.ErrorIs(t, err, ErrTripNotFound)
}

func TestRestartKeepsProgress(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	trip := h.addTrip("t1", models.DirectionPickup,
		stop("A", 0, 12.9718, 77.5948),
		stop("B", 1, 12.9898, 77.5948),
	)

	_, err := h.svc.ProcessLocation(ctx, ping(trip, 12.9718, 77.5948, 10))
	require.NoError(t, err)

	started, err := h.svc.StartTrip(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, started.NextStopIndex)
}
