// internal/app/services/ingest/sample.go
package ingest

import (
	"errors"
	"fmt"

	"github.com/josefm09/tracker/internal/app/system/validation"
	"github.com/josefm09/tracker/internal/domain/geo"
	"github.com/josefm09/tracker/internal/domain/models"
)

// RawCoordinates is the coordinate pair as sent by a client.
type RawCoordinates struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
}

// RawBattery is the battery state as sent by a client.
type RawBattery struct {
	Level      *float64 `json:"level" validate:"required,gte=0,lte=100"`
	IsCharging bool     `json:"isCharging"`
}

// RawDeviceInfo describes the reporting device as sent by a client.
type RawDeviceInfo struct {
	Platform   string `json:"platform" validate:"max=64"`
	Model      string `json:"model" validate:"max=128"`
	OSVersion  string `json:"osVersion" validate:"max=64"`
	AppVersion string `json:"appVersion" validate:"max=64"`
}

// RawSample is an unvalidated location report. Optional numeric fields
// are pointers so "absent" and "zero" stay distinct.
type RawSample struct {
	Coordinates      *RawCoordinates `json:"coordinates" validate:"required"`
	Accuracy         *float64        `json:"accuracy" validate:"omitempty,gte=0"`
	Altitude         *float64        `json:"altitude"`
	AltitudeAccuracy *float64        `json:"altitudeAccuracy" validate:"omitempty,gte=0"`
	Heading          *float64        `json:"heading" validate:"omitempty,gte=0,lte=360"`
	Speed            *float64        `json:"speed" validate:"omitempty,gte=0"`
	Timestamp        string          `json:"timestamp"`
	Battery          *RawBattery     `json:"battery"`
	DeviceInfo       *RawDeviceInfo  `json:"deviceInfo"`
	LocationMethod   string          `json:"locationMethod" validate:"omitempty,oneof=gps network passive fused"`
	IsManual         bool            `json:"isManual"`
}

// Validate checks raw and returns a caller-facing description of the
// first problem found.
func (raw *RawSample) Validate() error {
	if raw == nil {
		return errors.New("sample is required")
	}
	if err := validation.Struct(raw); err != nil {
		return err
	}

	optional := []struct {
		name string
		v    *float64
	}{
		{"accuracy", raw.Accuracy},
		{"altitude", raw.Altitude},
		{"altitudeAccuracy", raw.AltitudeAccuracy},
		{"heading", raw.Heading},
		{"speed", raw.Speed},
	}
	for _, o := range optional {
		if o.v != nil && !geo.IsFinite(*o.v) {
			return fmt.Errorf("%s must be a finite number", o.name)
		}
	}
	if raw.Battery != nil && !geo.IsFinite(*raw.Battery.Level) {
		return errors.New("battery.level must be a finite number")
	}
	return geo.ValidateCoordinates(raw.coordinates())
}

func (raw *RawSample) coordinates() models.Coordinates {
	return models.Coordinates{Latitude: *raw.Coordinates.Latitude, Longitude: *raw.Coordinates.Longitude}
}
