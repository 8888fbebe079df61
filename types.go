// Package onvif provides a Go client for the ONVIF device and event services
package onvif

import (
	"time"

	"github.com/rs/zerolog"
)

// Camera represents an ONVIF-compliant camera with all its properties
type Camera struct {
	// Device service address, as configured or discovered
	Address string

	// From WS-Discovery scopes and types
	Name     string
	Location string
	Profiles []string

	// From GetDeviceInformation
	Manufacturer    string
	DeviceModel     string
	FirmwareVersion string
	SerialNumber    string
	HardwareId      string

	// From GetCapabilities
	EventsSupport    bool
	PullPointSupport bool

	// Service URLs discovered from GetCapabilities
	EventsURL string
}

// Client represents an ONVIF client with authentication
type Client struct {
	Username    string
	Password    string
	Timeout     time.Duration
	InsecureTLS bool // Skip TLS certificate verification

	// Logger receives debug records for each SOAP exchange; nil disables them
	Logger *zerolog.Logger
}

// SimpleItem is a name/value pair carried in the Source, Key or Data part
// of a notification message
type SimpleItem struct {
	Name  string
	Value string
}

// NotificationMessage is a raw event notification pulled from a camera
type NotificationMessage struct {
	Topic               string
	SubscriptionAddress string
	UtcTime             time.Time
	PropertyOperation   string // "Initialized", "Changed" or "Deleted"

	Source []SimpleItem
	Key    []SimpleItem
	Data   []SimpleItem
}

// PullPointSubscription is the handle of an active pull-point subscription
type PullPointSubscription struct {
	// Address of the subscription manager / pull point
	Address string

	// ReferenceParameters is the raw XML of the endpoint reference parameters
	// returned by the camera. It is echoed in the header of every request
	// addressed to the subscription.
	ReferenceParameters string

	CurrentTime     time.Time
	TerminationTime time.Time
}

// PullMessagesResult is the outcome of a PullMessages call
type PullMessagesResult struct {
	CurrentTime     time.Time
	TerminationTime time.Time
	Messages        []NotificationMessage
}

// Default configuration
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMessageLimit = 100
)
