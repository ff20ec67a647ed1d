package repository

import (
	"context"
	"fmt"

	"github.com/langchou/tripgazer/internal/models"
)

// AttendanceRepository 乘客考勤仓库
type AttendanceRepository struct {
	db *DB
}

// NewAttendanceRepository 创建考勤仓库
func NewAttendanceRepository(db *DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// 上车记录只写 pickup 字段
const upsertPickupQuery = `
	INSERT INTO attendance (rider_id, date, trip_id, status, pickup_time, pickup_lat, pickup_lng)
	SELECT rider_id, $2::date, $3, $4, $5, $6, $7 FROM unnest($1::text[]) AS rider_id
	ON CONFLICT (rider_id, date) DO UPDATE SET
		trip_id = EXCLUDED.trip_id,
		status = EXCLUDED.status,
		pickup_time = EXCLUDED.pickup_time,
		pickup_lat = EXCLUDED.pickup_lat,
		pickup_lng = EXCLUDED.pickup_lng
`

// 下车记录只写 drop 字段
const upsertDropQuery = `
	INSERT INTO attendance (rider_id, date, trip_id, status, drop_time, drop_lat, drop_lng)
	SELECT rider_id, $2::date, $3, $4, $5, $6, $7 FROM unnest($1::text[]) AS rider_id
	ON CONFLICT (rider_id, date) DO UPDATE SET
		trip_id = EXCLUDED.trip_id,
		status = EXCLUDED.status,
		drop_time = EXCLUDED.drop_time,
		drop_lat = EXCLUDED.drop_lat,
		drop_lng = EXCLUDED.drop_lng
`

// UpsertBatch 一条语句写入一个站点全部乘客的考勤，按 (rider, date) 覆盖
func (r *AttendanceRepository) UpsertBatch(ctx context.Context, mark *models.AttendanceMark) error {
	if len(mark.RiderIDs) == 0 {
		return nil
	}

	query := upsertDropQuery
	if mark.Direction == models.DirectionPickup {
		query = upsertPickupQuery
	}

	_, err := r.db.Pool.Exec(ctx, query,
		mark.RiderIDs,
		mark.Date,
		mark.TripID,
		string(mark.Direction.AttendanceStatus()),
		mark.Time,
		mark.Lat,
		mark.Lng,
	)
	if err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// ListByDate 获取某天的全部考勤
func (r *AttendanceRepository) ListByDate(ctx context.Context, date string) ([]models.AttendanceRecord, error) {
	query := `
		SELECT rider_id, to_char(date, 'YYYY-MM-DD'), trip_id, status,
			pickup_time, pickup_lat, pickup_lng, drop_time, drop_lat, drop_lng
		FROM attendance WHERE date = $1::date ORDER BY rider_id
	`
	rows, err := r.db.Pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var rec models.AttendanceRecord
		var status string
		err := rows.Scan(
			&rec.RiderID,
			&rec.Date,
			&rec.TripID,
			&status,
			&rec.PickupTime,
			&rec.PickupLat,
			&rec.PickupLng,
			&rec.DropTime,
			&rec.DropLat,
			&rec.DropLng,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		rec.Status = models.AttendanceStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}
