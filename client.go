package onvif

import (
	"fmt"
	"strings"
	"time"
)

// NewClient creates a new ONVIF client with credentials
func NewClient(username, password string) *Client {
	return &Client{
		Username: username,
		Password: password,
		Timeout:  DefaultTimeout,
	}
}

// NewClientWithTimeout creates a new ONVIF client with custom timeout
func NewClientWithTimeout(username, password string, timeout time.Duration) *Client {
	return &Client{
		Username: username,
		Password: password,
		Timeout:  timeout,
	}
}

// GetDisplayName returns the best available name for the camera
func (camera *Camera) GetDisplayName() string {
	if camera.Manufacturer != "" && camera.DeviceModel != "" {
		return fmt.Sprintf("%s %s", camera.Manufacturer, camera.DeviceModel)
	}

	if camera.Name != "" {
		return camera.Name
	}

	if camera.DeviceModel != "" {
		return camera.DeviceModel
	}

	return getFirstAddress(camera.Address)
}

// SourceID returns a stable identifier for the camera, used to prefix the
// ids of the events it produces
func (camera *Camera) SourceID() string {
	if camera.SerialNumber != "" {
		return camera.SerialNumber
	}
	if camera.HardwareId != "" {
		return camera.HardwareId
	}
	return getFirstAddress(camera.Address)
}

// PullPoint returns a pull-point event client bound to the camera
func (c *Client) PullPoint(camera *Camera) *PullPointClient {
	return &PullPointClient{client: c, camera: camera}
}

// getFirstAddress extracts the first address if multiple are provided
func getFirstAddress(address string) string {
	addresses := strings.Fields(address)
	if len(addresses) > 0 {
		return addresses[0]
	}
	return address
}
