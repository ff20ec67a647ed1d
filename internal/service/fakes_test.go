package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/metrics"
	"github.com/langchou/tripgazer/internal/models"
	"github.com/langchou/tripgazer/internal/repository"
)

// fakeDB 内存版数据库，语义与 repository 中的 SQL 保持一致
type fakeDB struct {
	mu         sync.Mutex
	trips      map[string]*models.Trip
	stops      map[string][]models.RouteStop
	riders     map[string][]models.Rider
	live       map[string]*models.LiveLocation
	history    []models.HistoryPoint
	visits     map[string]*models.StopVisit
	attendance []models.AttendanceMark

	UpsertErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		trips:  make(map[string]*models.Trip),
		stops:  make(map[string][]models.RouteStop),
		riders: make(map[string][]models.Rider),
		live:   make(map[string]*models.LiveLocation),
		visits: make(map[string]*models.StopVisit),
	}
}

func (db *fakeDB) stores() Stores {
	return Stores{
		Trips:      db,
		Stops:      fakeStops{db},
		Riders:     db,
		Live:       db,
		Visits:     db,
		Attendance: db,
		History:    fakeHistory{db},
	}
}

func (db *fakeDB) GetByID(_ context.Context, id string) (*models.Trip, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (db *fakeDB) ListByStop(_ context.Context, stopID string) ([]models.Rider, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.Rider(nil), db.riders[stopID]...), nil
}

func (db *fakeDB) Upsert(_ context.Context, loc *models.LiveLocation) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.UpsertErr != nil {
		return db.UpsertErr
	}
	cp := *loc
	cp.Status = models.LiveOnline
	if old, ok := db.live[loc.TripID]; ok {
		cp.NextHistoryAt = old.NextHistoryAt
		if old.NextStopIndex > cp.NextStopIndex {
			cp.NextStopIndex = old.NextStopIndex
		}
	} else {
		cp.NextHistoryAt = time.Unix(0, 0)
	}
	db.live[loc.TripID] = &cp
	return nil
}

func (db *fakeDB) Get(_ context.Context, tripID string) (*models.LiveLocation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	loc, ok := db.live[tripID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *loc
	return &cp, nil
}

func (db *fakeDB) ListOnline(_ context.Context) ([]models.LiveLocation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.LiveLocation
	for _, loc := range db.live {
		if loc.Status == models.LiveOnline {
			out = append(out, *loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out, nil
}

func (db *fakeDB) AppendHistoryIfDue(_ context.Context, point *models.HistoryPoint, interval time.Duration) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	loc, ok := db.live[point.TripID]
	if !ok || loc.NextHistoryAt.After(point.RecordedAt) {
		return false, nil
	}
	loc.NextHistoryAt = point.RecordedAt.Add(interval)
	p := *point
	p.ID = int64(len(db.history) + 1)
	db.history = append(db.history, p)
	return true, nil
}

func (db *fakeDB) MarkStaleOffline(_ context.Context, cutoff time.Time) ([]models.LiveLocation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.LiveLocation
	for _, loc := range db.live {
		if loc.Status == models.LiveOnline && loc.LastUpdate.Before(cutoff) {
			loc.Status = models.LiveOffline
			out = append(out, *loc)
		}
	}
	return out, nil
}

func (db *fakeDB) MarkOffline(_ context.Context, tripID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if loc, ok := db.live[tripID]; ok {
		loc.Status = models.LiveOffline
	}
	return nil
}

func (db *fakeDB) PurgeIdle(_ context.Context, before time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for id, loc := range db.live {
		if loc.Status == models.LiveOffline && loc.LastUpdate.Before(before) {
			delete(db.live, id)
			n++
		}
	}
	return n, nil
}

func (db *fakeDB) MarkArrival(_ context.Context, visit *models.StopVisit) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := visit.TripID + "|" + visit.StopID
	if _, ok := db.visits[key]; ok {
		return false, nil
	}
	cp := *visit
	db.visits[key] = &cp
	return true, nil
}

func (db *fakeDB) MarkDeparture(_ context.Context, tripID, stopID string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if v, ok := db.visits[tripID+"|"+stopID]; ok && v.DepartureTime == nil {
		t := at
		v.DepartureTime = &t
	}
	return nil
}

func (db *fakeDB) UpsertBatch(_ context.Context, mark *models.AttendanceMark) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.attendance = append(db.attendance, *mark)
	return nil
}

func (db *fakeDB) ListByTrip(_ context.Context, tripID string) ([]models.StopVisit, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.StopVisit
	for _, v := range db.visits {
		if v.TripID == tripID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArrivalTime.Before(out[j].ArrivalTime) })
	return out, nil
}

// ListByDate 按 (rider, date) 合并，后写覆盖同方向字段
func (db *fakeDB) ListByDate(_ context.Context, date string) ([]models.AttendanceRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	byRider := make(map[string]*models.AttendanceRecord)
	for _, m := range db.attendance {
		if m.Date != date {
			continue
		}
		for _, id := range m.RiderIDs {
			rec, ok := byRider[id]
			if !ok {
				rec = &models.AttendanceRecord{RiderID: id, Date: date}
				byRider[id] = rec
			}
			at, lat, lng := m.Time, m.Lat, m.Lng
			rec.TripID = m.TripID
			rec.Status = m.Direction.AttendanceStatus()
			if m.Direction == models.DirectionDrop {
				rec.DropTime, rec.DropLat, rec.DropLng = &at, &lat, &lng
			} else {
				rec.PickupTime, rec.PickupLat, rec.PickupLng = &at, &lat, &lng
			}
		}
	}
	out := make([]models.AttendanceRecord, 0, len(byRider))
	for _, rec := range byRider {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RiderID < out[j].RiderID })
	return out, nil
}

func (db *fakeDB) historyLen() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.history)
}

func (db *fakeDB) visit(tripID, stopID string) *models.StopVisit {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.visits[tripID+"|"+stopID]
	if !ok {
		return nil
	}
	cp := *v
	return &cp
}

func (db *fakeDB) attendanceMarks() []models.AttendanceMark {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.AttendanceMark(nil), db.attendance...)
}

type fakeStops struct{ db *fakeDB }

func (f fakeStops) ListByTrip(_ context.Context, tripID string) ([]models.RouteStop, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return append([]models.RouteStop(nil), f.db.stops[tripID]...), nil
}

type fakeHistory struct{ db *fakeDB }

func (f fakeHistory) ListByTrip(_ context.Context, tripID string, limit int) ([]models.HistoryPoint, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.HistoryPoint
	for _, p := range f.db.history {
		if p.TripID == tripID {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f fakeHistory) Latest(_ context.Context, tripID string) (*models.HistoryPoint, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for i := len(f.db.history) - 1; i >= 0; i-- {
		if f.db.history[i].TripID == tripID {
			p := f.db.history[i]
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

type published struct {
	topic string
	event models.Event
}

// recordingBroadcaster 记录全部发布的事件
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []published
}

func (b *recordingBroadcaster) Publish(topic string, event models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	event.Topic = topic
	b.events = append(b.events, published{topic: topic, event: event})
}

func (b *recordingBroadcaster) ofType(t models.EventType) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.events {
		if p.event.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

var errCacheDown = errors.New("cache unavailable")

// flakyCache 可以整体切换为不可用的缓存
type flakyCache struct {
	cache.Cache
	mu   sync.Mutex
	down bool
}

func (c *flakyCache) setDown(down bool) {
	c.mu.Lock()
	c.down = down
	c.mu.Unlock()
}

func (c *flakyCache) isDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

func (c *flakyCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.isDown() {
		return nil, errCacheDown
	}
	return c.Cache.Get(ctx, key)
}

func (c *flakyCache) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if c.isDown() {
		return nil, errCacheDown
	}
	return c.Cache.MGet(ctx, keys...)
}

func (c *flakyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.isDown() {
		return errCacheDown
	}
	return c.Cache.Set(ctx, key, value, ttl)
}

func (c *flakyCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if c.isDown() {
		return false, errCacheDown
	}
	return c.Cache.SetNX(ctx, key, value, ttl)
}

func (c *flakyCache) SetMax(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	if c.isDown() {
		return 0, errCacheDown
	}
	return c.Cache.SetMax(ctx, key, value, ttl)
}

func (c *flakyCache) Del(ctx context.Context, keys ...string) error {
	if c.isDown() {
		return errCacheDown
	}
	return c.Cache.Del(ctx, keys...)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var testStart = time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)

type harness struct {
	svc     *TrackingService
	db      *fakeDB
	cache   *flakyCache
	bc      *recordingBroadcaster
	clock   *testClock
	metrics *metrics.Collector
}

func newHarness() *harness {
	db := newFakeDB()
	c := &flakyCache{Cache: cache.NewMemory(1024)}
	bc := &recordingBroadcaster{}
	clock := &testClock{t: testStart}
	m := metrics.New()

	opts := DefaultOptions()
	opts.Location = time.UTC

	svc := NewTrackingService(opts, zap.NewNop(), c, db.stores(), bc, nil, m)
	svc.SetClock(clock.Now)

	return &harness{svc: svc, db: db, cache: c, bc: bc, clock: clock, metrics: m}
}

// addTrip 添加一个进行中的行程
func (h *harness) addTrip(id string, direction models.Direction, stops ...models.RouteStop) *models.Trip {
	trip := &models.Trip{
		ID:        id,
		VehicleID: "bus-" + id,
		DriverID:  "driver-" + id,
		RouteID:   "route-" + id,
		Direction: direction,
		Status:    models.TripStarted,
	}
	h.db.mu.Lock()
	h.db.trips[id] = trip
	h.db.stops[id] = stops
	h.db.mu.Unlock()
	return trip
}

func (h *harness) addRiders(stopID string, ids ...string) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	for _, id := range ids {
		h.db.riders[stopID] = append(h.db.riders[stopID], models.Rider{ID: id, Name: id, StopID: stopID})
	}
}

func ping(trip *models.Trip, lat, lng, speed float64) *models.Ping {
	return &models.Ping{
		TripID:    trip.ID,
		VehicleID: trip.VehicleID,
		DriverID:  trip.DriverID,
		Lat:       &lat,
		Lng:       &lng,
		Speed:     &speed,
	}
}

func stop(id string, position int, lat, lng float64) models.RouteStop {
	return models.RouteStop{ID: id, Name: "Stop " + id, Position: position, Lat: lat, Lng: lng, Radius: 50}
}
