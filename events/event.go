// Package events keeps a camera's event state current by polling an ONVIF
// pull-point subscription and fanning updates out to listeners.
package events

import "time"

// Platforms group events by the kind of value they carry
const (
	PlatformBinarySensor = "binary_sensor"
	PlatformSensor       = "sensor"
)

// Entity categories
const (
	CategoryDiagnostic = "diagnostic"
	CategoryConfig     = "config"
)

// Event is the last known state of one event source on the camera
type Event struct {
	UID            string    `json:"uid"`
	Name           string    `json:"name"`
	Platform       string    `json:"platform"`
	DeviceClass    string    `json:"device_class,omitempty"`
	Unit           string    `json:"unit,omitempty"`
	Value          any       `json:"value"`
	EntityCategory string    `json:"entity_category,omitempty"`
	EntityEnabled  bool      `json:"entity_enabled"`
	Topic          string    `json:"topic"`
	UtcTime        time.Time `json:"utc_time,omitempty"`
}
