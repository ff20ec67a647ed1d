package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/tripgazer/internal/models"
)

// LiveLocationRepository 实时位置仓库
// 并发写入依赖 upsert 的最后写入者胜出，next_stop_index 用 GREATEST 保证只增不减
type LiveLocationRepository struct {
	db *DB
}

// NewLiveLocationRepository 创建实时位置仓库
func NewLiveLocationRepository(db *DB) *LiveLocationRepository {
	return &LiveLocationRepository{db: db}
}

const liveLocationColumns = `trip_id, vehicle_id, driver_id, latitude, longitude, speed, heading, status, last_update, next_stop_index, eta_min, next_history_at`

// Upsert 写入当前位置并置为 ONLINE
func (r *LiveLocationRepository) Upsert(ctx context.Context, loc *models.LiveLocation) error {
	query := `
		INSERT INTO live_locations (trip_id, vehicle_id, driver_id, latitude, longitude, speed, heading, status, last_update, next_stop_index, eta_min)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'ONLINE', $8, $9, $10)
		ON CONFLICT (trip_id) DO UPDATE SET
			vehicle_id = EXCLUDED.vehicle_id,
			driver_id = EXCLUDED.driver_id,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			speed = EXCLUDED.speed,
			heading = EXCLUDED.heading,
			status = 'ONLINE',
			last_update = EXCLUDED.last_update,
			next_stop_index = GREATEST(live_locations.next_stop_index, EXCLUDED.next_stop_index),
			eta_min = EXCLUDED.eta_min
	`
	_, err := r.db.Pool.Exec(ctx, query,
		loc.TripID,
		loc.VehicleID,
		loc.DriverID,
		loc.Lat,
		loc.Lng,
		loc.Speed,
		loc.Heading,
		loc.LastUpdate,
		loc.NextStopIndex,
		loc.ETA,
	)
	if err != nil {
		return fmt.Errorf("upsert live location: %w", err)
	}
	loc.Status = models.LiveOnline
	return nil
}

// Get 获取行程当前位置
func (r *LiveLocationRepository) Get(ctx context.Context, tripID string) (*models.LiveLocation, error) {
	query := `SELECT ` + liveLocationColumns + ` FROM live_locations WHERE trip_id = $1`
	loc, err := scanLiveLocation(r.db.Pool.QueryRow(ctx, query, tripID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live location: %w", err)
	}
	return loc, nil
}

// ListOnline 获取全部在线行程
func (r *LiveLocationRepository) ListOnline(ctx context.Context) ([]models.LiveLocation, error) {
	query := `SELECT ` + liveLocationColumns + ` FROM live_locations WHERE status = 'ONLINE' ORDER BY trip_id`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list online locations: %w", err)
	}
	defer rows.Close()

	var locs []models.LiveLocation
	for rows.Next() {
		loc, err := scanLiveLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan live location: %w", err)
		}
		locs = append(locs, *loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list online locations: %w", err)
	}
	return locs, nil
}

// AppendHistoryIfDue 到达写入间隔时追加一个历史点
// 先以条件更新抢占 next_history_at，抢到的那次请求才写入，返回是否写入
func (r *LiveLocationRepository) AppendHistoryIfDue(ctx context.Context, point *models.HistoryPoint, interval time.Duration) (bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE live_locations SET next_history_at = $2 WHERE trip_id = $1 AND next_history_at <= $3`,
		point.TripID, point.RecordedAt.Add(interval), point.RecordedAt,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, fmt.Errorf("claim history slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO tracking_points (trip_id, latitude, longitude, speed, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		point.TripID, point.Lat, point.Lng, point.Speed, point.RecordedAt,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, fmt.Errorf("insert tracking point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit history: %w", err)
	}
	return true, nil
}

// MarkStaleOffline 把超过 cutoff 未更新的在线行程置为 OFFLINE，返回本次被置为离线的行
// 已经是 OFFLINE 的行不会再次被选中，因此每次转换只返回一次
func (r *LiveLocationRepository) MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]models.LiveLocation, error) {
	query := `
		UPDATE live_locations SET status = 'OFFLINE'
		WHERE status = 'ONLINE' AND last_update < $1
		RETURNING trip_id, vehicle_id, last_update
	`
	rows, err := r.db.Pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark stale offline: %w", err)
	}
	defer rows.Close()

	var stale []models.LiveLocation
	for rows.Next() {
		loc := models.LiveLocation{Status: models.LiveOffline}
		if err := rows.Scan(&loc.TripID, &loc.VehicleID, &loc.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan stale location: %w", err)
		}
		stale = append(stale, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mark stale offline: %w", err)
	}
	return stale, nil
}

// MarkOffline 行程结束时置为 OFFLINE
func (r *LiveLocationRepository) MarkOffline(ctx context.Context, tripID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE live_locations SET status = 'OFFLINE' WHERE trip_id = $1`, tripID)
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

// PurgeIdle 删除长时间未更新的离线行
func (r *LiveLocationRepository) PurgeIdle(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM live_locations WHERE status = 'OFFLINE' AND last_update < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge idle locations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanLiveLocation(row pgx.Row) (*models.LiveLocation, error) {
	loc := &models.LiveLocation{}
	var status string
	err := row.Scan(
		&loc.TripID,
		&loc.VehicleID,
		&loc.DriverID,
		&loc.Lat,
		&loc.Lng,
		&loc.Speed,
		&loc.Heading,
		&status,
		&loc.LastUpdate,
		&loc.NextStopIndex,
		&loc.ETA,
		&loc.NextHistoryAt,
	)
	if err != nil {
		return nil, err
	}
	loc.Status = models.LiveStatus(status)
	return loc, nil
}
