package geofence

import (
	"github.com/langchou/tripgazer/internal/models"
	"github.com/langchou/tripgazer/internal/state"
)

// Result 一次围栏检查的结果
type Result struct {
	Arrived  []models.RouteStop
	Departed []models.RouteStop
	State    models.GeofenceState
}

// Changed 是否有站点发生跨越
func (r Result) Changed() bool {
	return len(r.Arrived) > 0 || len(r.Departed) > 0
}

// Check 对全部站点做围栏检查
// 距离 <= 半径且之前在外 => 到站；距离 > 半径且之前在内 => 离站；其余保持不变
func Check(lat, lng float64, stops []models.RouteStop, previous models.GeofenceState) (Result, error) {
	machines := state.NewSet(previous, nil)
	res := Result{}

	for _, stop := range stops {
		inside := Distance(lat, lng, stop.Lat, stop.Lng) <= stop.EffectiveRadius()

		crossed, err := machines.GetOrCreate(stop.ID).Observe(inside)
		if err != nil {
			return Result{}, err
		}
		if !crossed {
			continue
		}

		if inside {
			res.Arrived = append(res.Arrived, stop)
		} else {
			res.Departed = append(res.Departed, stop)
		}
	}

	res.State = machines.Snapshot()
	return res, nil
}
