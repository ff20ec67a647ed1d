package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/tripgazer/internal/models"
)

// TrackingPointRepository 历史轨迹仓库
type TrackingPointRepository struct {
	db *DB
}

// NewTrackingPointRepository 创建轨迹仓库
func NewTrackingPointRepository(db *DB) *TrackingPointRepository {
	return &TrackingPointRepository{db: db}
}

// ListByTrip 按时间顺序获取行程轨迹，limit <= 0 表示不限制
func (r *TrackingPointRepository) ListByTrip(ctx context.Context, tripID string, limit int) ([]models.HistoryPoint, error) {
	query := `
		SELECT id, trip_id, latitude, longitude, speed, recorded_at
		FROM tracking_points WHERE trip_id = $1 ORDER BY recorded_at
	`
	args := []any{tripID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracking points: %w", err)
	}
	defer rows.Close()

	var points []models.HistoryPoint
	for rows.Next() {
		var p models.HistoryPoint
		if err := rows.Scan(&p.ID, &p.TripID, &p.Lat, &p.Lng, &p.Speed, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan tracking point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tracking points: %w", err)
	}
	return points, nil
}

// Latest 获取行程最后一个轨迹点
func (r *TrackingPointRepository) Latest(ctx context.Context, tripID string) (*models.HistoryPoint, error) {
	query := `
		SELECT id, trip_id, latitude, longitude, speed, recorded_at
		FROM tracking_points WHERE trip_id = $1 ORDER BY recorded_at DESC LIMIT 1
	`
	p := &models.HistoryPoint{}
	err := r.db.Pool.QueryRow(ctx, query, tripID).Scan(&p.ID, &p.TripID, &p.Lat, &p.Lng, &p.Speed, &p.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest tracking point: %w", err)
	}
	return p, nil
}
