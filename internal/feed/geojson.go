package feed

import (
	geojson "github.com/paulmach/go.geojson"

	"github.com/langchou/tripgazer/internal/models"
)

// HistoryCollection 历史轨迹转成 GeoJSON：一条 LineString 加起终点
// 坐标顺序为 [lng, lat]
func HistoryCollection(tripID string, points []models.HistoryPoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if len(points) == 0 {
		return fc
	}

	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Lng, p.Lat})
	}

	first, last := points[0], points[len(points)-1]

	if len(coords) > 1 {
		line := geojson.NewLineStringFeature(coords)
		line.SetProperty("tripId", tripID)
		line.SetProperty("points", len(points))
		line.SetProperty("startedAt", first.RecordedAt)
		line.SetProperty("endedAt", last.RecordedAt)
		fc.AddFeature(line)
	}

	start := geojson.NewPointFeature([]float64{first.Lng, first.Lat})
	start.SetProperty("kind", "start")
	start.SetProperty("recordedAt", first.RecordedAt)
	fc.AddFeature(start)

	end := geojson.NewPointFeature([]float64{last.Lng, last.Lat})
	end.SetProperty("kind", "latest")
	end.SetProperty("recordedAt", last.RecordedAt)
	end.SetProperty("speed", last.Speed)
	fc.AddFeature(end)

	return fc
}
