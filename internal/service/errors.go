package service

import "errors"

// 业务错误，传输层用 errors.Is 映射为响应码
var (
	ErrInvalidPing    = errors.New("invalid ping")
	ErrTripNotFound   = errors.New("trip not found")
	ErrTripNotActive  = errors.New("trip not active")
	ErrUnauthorized   = errors.New("not authorized for trip")
	ErrInvalidDate    = errors.New("invalid date")
)

// resultLabel 指标中的处理结果
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrInvalidPing):
		return "invalid"
	case errors.Is(err, ErrTripNotFound):
		return "not_found"
	case errors.Is(err, ErrTripNotActive):
		return "inactive"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
