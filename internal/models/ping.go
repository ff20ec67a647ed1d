package models

// Ping 设备上报的一次定位，字段名与设备端协议保持一致
type Ping struct {
	TripID    string   `json:"tripId" validate:"required"`
	VehicleID string   `json:"vehicleId" validate:"required"`
	DriverID  string   `json:"driverId" validate:"required"`
	Lat       *float64 `json:"lat" validate:"required,finite,min=-90,max=90"`
	Lng       *float64 `json:"lng" validate:"required,finite,min=-180,max=180"`
	Speed     *float64 `json:"speed,omitempty" validate:"omitempty,finite,min=0"`
	Heading   *float64 `json:"heading,omitempty" validate:"omitempty,finite"`
}

// Fix 已校验的坐标
type Fix struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Speed   float64 `json:"speed"`
	Heading float64 `json:"heading"`
}

// Fix 取出坐标，缺省的速度和航向按 0 处理
func (p *Ping) Fix() Fix {
	f := Fix{}
	if p.Lat != nil {
		f.Lat = *p.Lat
	}
	if p.Lng != nil {
		f.Lng = *p.Lng
	}
	if p.Speed != nil {
		f.Speed = *p.Speed
	}
	if p.Heading != nil {
		f.Heading = *p.Heading
	}
	return f
}
