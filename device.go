package onvif

import (
	"context"
	"strings"

	"github.com/juju/errors"
)

const (
	actionGetDeviceInformation = "http://www.onvif.org/ver10/device/wsdl/GetDeviceInformation"
	actionGetCapabilities      = "http://www.onvif.org/ver10/device/wsdl/GetCapabilities"
)

// GetDeviceInformation fetches manufacturer, model, firmware and serial number
func (c *Client) GetDeviceInformation(ctx context.Context, camera *Camera) error {
	address := getFirstAddress(camera.Address)

	resp, err := c.sendSOAPRequest(ctx, address,
		soapHeader{Action: actionGetDeviceInformation}, `<tds:GetDeviceInformation/>`)
	if err != nil {
		return errors.Annotatef(err, "failed to get device information from %s", address)
	}

	doc, err := parseDocument(resp)
	if err != nil {
		return errors.Trace(err)
	}

	info := doc.FindElement("//GetDeviceInformationResponse")
	if info == nil {
		return malformedf(nil, "no GetDeviceInformationResponse in reply from %s", address)
	}

	camera.Manufacturer = elementText(info, "Manufacturer")
	camera.DeviceModel = elementText(info, "Model")
	camera.FirmwareVersion = elementText(info, "FirmwareVersion")
	camera.SerialNumber = elementText(info, "SerialNumber")
	camera.HardwareId = elementText(info, "HardwareId")

	return nil
}

// GetCapabilities fetches device capabilities and caches the event service URL
func (c *Client) GetCapabilities(ctx context.Context, camera *Camera) error {
	address := getFirstAddress(camera.Address)

	body := `<tds:GetCapabilities><tds:Category>All</tds:Category></tds:GetCapabilities>`
	resp, err := c.sendSOAPRequest(ctx, address, soapHeader{Action: actionGetCapabilities}, body)
	if err != nil {
		return errors.Annotatef(err, "failed to get capabilities from %s", address)
	}

	doc, err := parseDocument(resp)
	if err != nil {
		return errors.Trace(err)
	}

	eventsCaps := doc.FindElement("//Capabilities/Events")
	if eventsCaps == nil {
		camera.EventsSupport = false
		return nil
	}

	camera.EventsURL = elementText(eventsCaps, "XAddr")
	camera.EventsSupport = camera.EventsURL != ""
	camera.PullPointSupport = strings.EqualFold(elementText(eventsCaps, "WSPullPointSupport"), "true")

	return nil
}

// resolveEventsURL returns the event service URL for a camera.
// Uses the discovered URL from GetCapabilities if available, otherwise
// falls back to path replacement on the device service address.
func resolveEventsURL(camera *Camera) string {
	if camera.EventsURL != "" {
		return camera.EventsURL
	}
	address := getFirstAddress(camera.Address)
	return strings.Replace(address, "/device_service", "/event_service", 1)
}
