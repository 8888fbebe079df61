package onvif

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/juju/errors"
)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"
          xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
          xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
          xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
    <Header>
        <a:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
        <a:MessageID>uuid:%s</a:MessageID>
        <a:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
    </Header>
    <Body>
        <d:Probe>
            <d:Types>dn:NetworkVideoTransmitter</d:Types>
        </d:Probe>
    </Body>
</Envelope>`

// DefaultMulticastAddr is the WS-Discovery multicast group
const DefaultMulticastAddr = "239.255.255.250:3702"

// DiscoveryOptions provides options for camera discovery
type DiscoveryOptions struct {
	// Timeout is how long replies are collected
	Timeout       time.Duration
	MulticastAddr string
}

// DiscoverCameras sends a WS-Discovery probe and collects the cameras that
// answer until the timeout elapses or ctx is done. Each camera is reported
// once, keyed by its first device service address.
func DiscoverCameras(ctx context.Context, options *DiscoveryOptions) ([]Camera, error) {
	opts := DiscoveryOptions{Timeout: DefaultTimeout, MulticastAddr: DefaultMulticastAddr}
	if options != nil {
		if options.Timeout > 0 {
			opts.Timeout = options.Timeout
		}
		if options.MulticastAddr != "" {
			opts.MulticastAddr = options.MulticastAddr
		}
	}

	addr, err := net.ResolveUDPAddr("udp4", opts.MulticastAddr)
	if err != nil {
		return nil, errors.Annotate(err, "failed to resolve multicast address")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, errors.Annotate(err, "failed to create UDP connection")
	}
	defer conn.Close()

	deadline := time.Now().Add(opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Annotate(err, "failed to set read deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	messageID, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Annotate(err, "generating message id")
	}
	if _, err := conn.WriteToUDP([]byte(fmt.Sprintf(probeTemplate, messageID)), addr); err != nil {
		return nil, errors.Annotate(err, "failed to send probe message")
	}

	var cameras []Camera
	buffer := make([]byte, 65536)

	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			continue
		}
		cameras = append(cameras, parseProbeMatches(buffer[:n])...)
	}

	if err := ctx.Err(); err != nil && len(cameras) == 0 {
		return nil, err
	}
	return deduplicateCameras(cameras), nil
}

// parseProbeMatches decodes the cameras announced in a ProbeMatches reply.
// Anything that is not a well-formed reply yields no cameras.
func parseProbeMatches(resp []byte) []Camera {
	doc, err := parseDocument(resp)
	if err != nil {
		return nil
	}

	var cameras []Camera
	for _, match := range doc.FindElements("//ProbeMatches/ProbeMatch") {
		address := elementText(match, "XAddrs")
		if address == "" {
			continue
		}
		name, location, model := parseScopes(elementText(match, "Scopes"))
		cameras = append(cameras, Camera{
			Address:     address,
			Name:        name,
			Location:    location,
			DeviceModel: model,
			Profiles:    parseProfiles(elementText(match, "Types")),
		})
	}
	return cameras
}

func parseScopes(scopes string) (name, location, model string) {
	for _, scope := range strings.Fields(scopes) {
		switch {
		case strings.HasPrefix(scope, "onvif://www.onvif.org/name/"):
			name = scopeValue(scope, "onvif://www.onvif.org/name/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/location/"):
			location = scopeValue(scope, "onvif://www.onvif.org/location/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/hardware/"):
			model = scopeValue(scope, "onvif://www.onvif.org/hardware/")
		}
	}
	return
}

func scopeValue(scope, prefix string) string {
	return strings.ReplaceAll(strings.TrimPrefix(scope, prefix), "_", " ")
}

var profileNames = []struct {
	marker, name string
}{
	{"NetworkVideoTransmitter", "Network Video Transmitter"},
	{"Device", "Device"},
	{"Media", "Media"},
	{"PTZ", "PTZ"},
	{"Analytics", "Analytics"},
	{"Events", "Events"},
	{"Imaging", "Imaging"},
	{"Recording", "Recording"},
	{"Replay", "Replay"},
}

func parseProfiles(types string) []string {
	var profiles []string
	for _, t := range strings.Fields(types) {
		for _, p := range profileNames {
			if strings.Contains(t, p.marker) {
				profiles = append(profiles, p.name)
				break
			}
		}
	}
	return profiles
}

// deduplicateCameras keeps the first reply per device address, ordered by address
func deduplicateCameras(cameras []Camera) []Camera {
	seen := make(map[string]bool)
	var unique []Camera
	for _, camera := range cameras {
		key := getFirstAddress(camera.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, camera)
	}
	sort.Slice(unique, func(i, j int) bool {
		return getFirstAddress(unique[i].Address) < getFirstAddress(unique[j].Address)
	})
	return unique
}
