package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/tripgazer/internal/models"
)

// TripRepository 行程数据仓库（只读）
type TripRepository struct {
	db *DB
}

// NewTripRepository 创建行程仓库
func NewTripRepository(db *DB) *TripRepository {
	return &TripRepository{db: db}
}

// GetByID 根据 ID 获取行程
func (r *TripRepository) GetByID(ctx context.Context, id string) (*models.Trip, error) {
	query := `
		SELECT id, vehicle_id, driver_id, route_id, direction, status, started_at
		FROM trips WHERE id = $1
	`
	trip := &models.Trip{}
	var direction, status string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&trip.ID,
		&trip.VehicleID,
		&trip.DriverID,
		&trip.RouteID,
		&direction,
		&status,
		&trip.StartedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}

	trip.Direction = models.Direction(direction)
	trip.Status = models.TripStatus(status)
	return trip, nil
}

// RouteStopRepository 路线站点仓库（只读）
type RouteStopRepository struct {
	db *DB
}

// NewRouteStopRepository 创建站点仓库
func NewRouteStopRepository(db *DB) *RouteStopRepository {
	return &RouteStopRepository{db: db}
}

// ListByTrip 按顺序返回行程所属路线的全部站点
func (r *RouteStopRepository) ListByTrip(ctx context.Context, tripID string) ([]models.RouteStop, error) {
	query := `
		SELECT s.id, s.name, s.position, s.latitude, s.longitude, s.radius
		FROM route_stops s
		JOIN trips t ON t.route_id = s.route_id
		WHERE t.id = $1
		ORDER BY s.position
	`
	rows, err := r.db.Pool.Query(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("list route stops: %w", err)
	}
	defer rows.Close()

	var stops []models.RouteStop
	for rows.Next() {
		var s models.RouteStop
		if err := rows.Scan(&s.ID, &s.Name, &s.Position, &s.Lat, &s.Lng, &s.Radius); err != nil {
			return nil, fmt.Errorf("scan route stop: %w", err)
		}
		stops = append(stops, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list route stops: %w", err)
	}

	return stops, nil
}

// RiderRepository 乘客仓库（只读）
type RiderRepository struct {
	db *DB
}

// NewRiderRepository 创建乘客仓库
func NewRiderRepository(db *DB) *RiderRepository {
	return &RiderRepository{db: db}
}

// ListByStop 获取分配到该站点的在册乘客
func (r *RiderRepository) ListByStop(ctx context.Context, stopID string) ([]models.Rider, error) {
	query := `SELECT id, name, stop_id FROM riders WHERE stop_id = $1 AND active ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, query, stopID)
	if err != nil {
		return nil, fmt.Errorf("list riders: %w", err)
	}
	defer rows.Close()

	var riders []models.Rider
	for rows.Next() {
		var rider models.Rider
		if err := rows.Scan(&rider.ID, &rider.Name, &rider.StopID); err != nil {
			return nil, fmt.Errorf("scan rider: %w", err)
		}
		riders = append(riders, rider)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list riders: %w", err)
	}

	return riders, nil
}
