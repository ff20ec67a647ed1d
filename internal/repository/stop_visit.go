package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/tripgazer/internal/models"
)

// StopVisitRepository 到离站记录仓库
type StopVisitRepository struct {
	db *DB
}

// NewStopVisitRepository 创建到离站仓库
func NewStopVisitRepository(db *DB) *StopVisitRepository {
	return &StopVisitRepository{db: db}
}

// MarkArrival 记录到站时间，已存在的到站时间不会被覆盖
// 返回本次是否新插入了记录
func (r *StopVisitRepository) MarkArrival(ctx context.Context, visit *models.StopVisit) (bool, error) {
	query := `
		INSERT INTO stop_visits (trip_id, stop_id, stop_name, arrival_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (trip_id, stop_id) DO UPDATE SET stop_name = EXCLUDED.stop_name
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err := r.db.Pool.QueryRow(ctx, query,
		visit.TripID,
		visit.StopID,
		visit.StopName,
		visit.ArrivalTime,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("mark arrival: %w", err)
	}
	return inserted, nil
}

// MarkDeparture 记录第一次离站时间
func (r *StopVisitRepository) MarkDeparture(ctx context.Context, tripID, stopID string, at time.Time) error {
	query := `
		UPDATE stop_visits SET departure_time = $3
		WHERE trip_id = $1 AND stop_id = $2 AND departure_time IS NULL
	`
	if _, err := r.db.Pool.Exec(ctx, query, tripID, stopID, at); err != nil {
		return fmt.Errorf("mark departure: %w", err)
	}
	return nil
}

// ListByTrip 获取行程全部到离站记录
func (r *StopVisitRepository) ListByTrip(ctx context.Context, tripID string) ([]models.StopVisit, error) {
	query := `
		SELECT trip_id, stop_id, stop_name, arrival_time, departure_time
		FROM stop_visits WHERE trip_id = $1 ORDER BY arrival_time
	`
	rows, err := r.db.Pool.Query(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("list stop visits: %w", err)
	}
	defer rows.Close()

	var visits []models.StopVisit
	for rows.Next() {
		var v models.StopVisit
		if err := rows.Scan(&v.TripID, &v.StopID, &v.StopName, &v.ArrivalTime, &v.DepartureTime); err != nil {
			return nil, fmt.Errorf("scan stop visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stop visits: %w", err)
	}
	return visits, nil
}
