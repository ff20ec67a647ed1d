package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/tripgazer/internal/models"
)

func TestDistance(t *testing.T) {
	assert.Zero(t, Distance(12.9718, 77.5948, 12.9718, 77.5948))

	// 一度纬度约 111.195 km
	d := Distance(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 1)

	// 对称
	assert.InDelta(t, Distance(12.97, 77.59, 13.01, 77.62), Distance(13.01, 77.62, 12.97, 77.59), 1e-6)
}

func TestCheckHysteresis(t *testing.T) {
	stops := []models.RouteStop{
		{ID: "s", Name: "School", Lat: 12.9718, Lng: 77.5948},
	}

	path := [][2]float64{
		{12.9700, 77.5930}, // 约 280m 外
		{12.9718, 77.5948}, // 站点中心
		{12.9719, 77.5949},
		{12.9717, 77.5947},
		{12.9730, 77.5960}, // 约 180m 外
		{12.9740, 77.5970},
	}

	var arrived, departed int
	prev := models.GeofenceState{}
	for _, p := range path {
		res, err := Check(p[0], p[1], stops, prev)
		require.NoError(t, err)
		arrived += len(res.Arrived)
		departed += len(res.Departed)
		prev = res.State
	}

	assert.Equal(t, 1, arrived)
	assert.Equal(t, 1, departed)
	assert.Equal(t, models.PresenceOutside, prev["s"])
}

func TestCheckDefaultRadius(t *testing.T) {
	stops := []models.RouteStop{{ID: "s", Lat: 0, Lng: 0, Radius: 0}}

	// 约 44m，在默认 50m 内
	res, err := Check(0.0004, 0, stops, nil)
	require.NoError(t, err)
	require.Len(t, res.Arrived, 1)

	// 约 67m
	res, err = Check(0.0006, 0, stops, nil)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, models.PresenceOutside, res.State["s"])
}

func TestCheckNoDepartureWithoutPriorInside(t *testing.T) {
	stops := []models.RouteStop{{ID: "s", Lat: 0, Lng: 0, Radius: 30}}

	res, err := Check(1, 1, stops, models.GeofenceState{"s": models.PresenceOutside})
	require.NoError(t, err)
	assert.Empty(t, res.Departed)
	assert.Empty(t, res.Arrived)
}

func TestCheckMultipleStops(t *testing.T) {
	stops := []models.RouteStop{
		{ID: "a", Lat: 0, Lng: 0, Radius: 100},
		{ID: "b", Lat: 0, Lng: 0.0005, Radius: 100},
	}

	res, err := Check(0, 0.00025, stops, models.GeofenceState{"a": models.PresenceInside})
	require.NoError(t, err)
	require.Len(t, res.Arrived, 1)
	assert.Equal(t, "b", res.Arrived[0].ID)
	assert.Empty(t, res.Departed)
}
