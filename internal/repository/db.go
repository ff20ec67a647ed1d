package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Querier pgxpool.Pool 的最小子集，测试时由 pgxmock 实现
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// DB 数据库连接池封装
type DB struct {
	Pool Querier
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// NewWithQuerier 使用已有连接（测试用）
func NewWithQuerier(q Querier) *DB {
	return &DB{Pool: q}
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping 健康检查
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate 执行数据库迁移
// trips / route_stops / riders 由外部系统维护，这里只保证表存在
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateTrips,
		migrationCreateRouteStops,
		migrationCreateRiders,
		migrationCreateLiveLocations,
		migrationCreateTrackingPoints,
		migrationCreateStopVisits,
		migrationCreateAttendance,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateTrips = `
CREATE TABLE IF NOT EXISTS trips (
    id TEXT PRIMARY KEY,
    vehicle_id TEXT NOT NULL,
    driver_id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    direction VARCHAR(10) NOT NULL DEFAULT 'PICKUP',
    status VARCHAR(10) NOT NULL DEFAULT 'STOPPED',
    started_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_trips_route_id ON trips(route_id);
`

const migrationCreateRouteStops = `
CREATE TABLE IF NOT EXISTS route_stops (
    id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    name VARCHAR(255) NOT NULL,
    position INTEGER NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    radius DOUBLE PRECISION NOT NULL DEFAULT 50
);
CREATE INDEX IF NOT EXISTS idx_route_stops_route_position ON route_stops(route_id, position);
`

const migrationCreateRiders = `
CREATE TABLE IF NOT EXISTS riders (
    id TEXT PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    stop_id TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_riders_stop_id ON riders(stop_id);
`

const migrationCreateLiveLocations = `
CREATE TABLE IF NOT EXISTS live_locations (
    trip_id TEXT PRIMARY KEY,
    vehicle_id TEXT NOT NULL,
    driver_id TEXT NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    speed DOUBLE PRECISION NOT NULL DEFAULT 0,
    heading DOUBLE PRECISION NOT NULL DEFAULT 0,
    status VARCHAR(10) NOT NULL DEFAULT 'ONLINE',
    last_update TIMESTAMPTZ NOT NULL,
    next_stop_index INTEGER NOT NULL DEFAULT 0,
    eta_min INTEGER,
    next_history_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
);
CREATE INDEX IF NOT EXISTS idx_live_locations_status_last_update ON live_locations(status, last_update);
`

const migrationCreateTrackingPoints = `
CREATE TABLE IF NOT EXISTS tracking_points (
    id BIGSERIAL PRIMARY KEY,
    trip_id TEXT NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    speed DOUBLE PRECISION NOT NULL DEFAULT 0,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracking_points_trip_recorded ON tracking_points(trip_id, recorded_at);
`

const migrationCreateStopVisits = `
CREATE TABLE IF NOT EXISTS stop_visits (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_name VARCHAR(255) NOT NULL,
    arrival_time TIMESTAMPTZ NOT NULL,
    departure_time TIMESTAMPTZ,
    PRIMARY KEY (trip_id, stop_id)
);
`

const migrationCreateAttendance = `
CREATE TABLE IF NOT EXISTS attendance (
    rider_id TEXT NOT NULL,
    date DATE NOT NULL,
    trip_id TEXT NOT NULL,
    status VARCHAR(10) NOT NULL,
    pickup_time TIMESTAMPTZ,
    pickup_lat DOUBLE PRECISION,
    pickup_lng DOUBLE PRECISION,
    drop_time TIMESTAMPTZ,
    drop_lat DOUBLE PRECISION,
    drop_lng DOUBLE PRECISION,
    PRIMARY KEY (rider_id, date)
);
`
