package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/langchou/tripgazer/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.Float32, reflect.Float64:
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0)
		}
		return true
	})
	return v
}

// ParsePing 严格解码一条定位：未知字段、缺失字段、越界值都会被拒绝
func ParsePing(data []byte) (*models.Ping, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p models.Ping
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPing, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidPing)
	}
	if err := ValidatePing(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ValidatePing 校验字段取值
func ValidatePing(p *models.Ping) error {
	if p == nil {
		return fmt.Errorf("%w: empty ping", ErrInvalidPing)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPing, err)
	}
	return nil
}
