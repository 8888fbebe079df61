package onvif

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDeviceInformation(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionGetDeviceInformation, `<tds:GetDeviceInformationResponse xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:Manufacturer>Acme</tds:Manufacturer>
		<tds:Model>Dome 4K</tds:Model>
		<tds:FirmwareVersion>2.1.0</tds:FirmwareVersion>
		<tds:SerialNumber> SN-0042 </tds:SerialNumber>
		<tds:HardwareId>HW1</tds:HardwareId>
	</tds:GetDeviceInformationResponse>`)

	camera := &Camera{Address: cam.server.URL + "/onvif/device_service"}
	require.NoError(t, NewClient("admin", "secret").GetDeviceInformation(context.Background(), camera))

	assert.Equal(t, "Acme", camera.Manufacturer)
	assert.Equal(t, "Dome 4K", camera.DeviceModel)
	assert.Equal(t, "2.1.0", camera.FirmwareVersion)
	assert.Equal(t, "SN-0042", camera.SerialNumber)
	assert.Equal(t, "SN-0042", camera.SourceID())
	assert.Equal(t, "Acme Dome 4K", camera.GetDisplayName())
	assert.Contains(t, cam.request(actionGetDeviceInformation), "<tds:GetDeviceInformation/>")
}

func TestGetCapabilities(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionGetCapabilities, `<tds:GetCapabilitiesResponse xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:Capabilities>
			<tt:Device><tt:XAddr>`+cam.server.URL+`/onvif/device_service</tt:XAddr></tt:Device>
			<tt:Events>
				<tt:XAddr>`+cam.server.URL+`/onvif/Events</tt:XAddr>
				<tt:WSSubscriptionPolicySupport>false</tt:WSSubscriptionPolicySupport>
				<tt:WSPullPointSupport>true</tt:WSPullPointSupport>
			</tt:Events>
		</tds:Capabilities>
	</tds:GetCapabilitiesResponse>`)
	cam.reply(actionCreatePullPointSubscription, cam.subscriptionReply())

	camera := &Camera{Address: cam.server.URL + "/onvif/device_service"}
	client := NewClient("admin", "secret")
	require.NoError(t, client.GetCapabilities(context.Background(), camera))

	assert.True(t, camera.EventsSupport)
	assert.True(t, camera.PullPointSupport)
	assert.Equal(t, cam.server.URL+"/onvif/Events", camera.EventsURL)

	_, err := client.PullPoint(camera).CreateSubscription(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "/onvif/Events", cam.path(actionCreatePullPointSubscription))
}

func TestGetCapabilitiesWithoutEvents(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionGetCapabilities, `<tds:GetCapabilitiesResponse xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:Capabilities><tt:Device/></tds:Capabilities>
	</tds:GetCapabilitiesResponse>`)

	camera := &Camera{Address: cam.server.URL + "/onvif/device_service"}
	require.NoError(t, NewClient("", "").GetCapabilities(context.Background(), camera))
	assert.False(t, camera.EventsSupport)
	assert.Empty(t, camera.EventsURL)
}

func TestNotAuthorizedFault(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionGetDeviceInformation, `<env:Fault>
		<env:Code><env:Value>env:Sender</env:Value>
			<env:Subcode><env:Value>ter:NotAuthorized</env:Value></env:Subcode>
		</env:Code>
		<env:Reason><env:Text xml:lang="en">Sender not Authorized</env:Text></env:Reason>
	</env:Fault>`)

	camera := &Camera{Address: cam.server.URL + "/onvif/device_service"}
	err := NewClient("admin", "wrong").GetDeviceInformation(context.Background(), camera)
	require.Error(t, err)

	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.True(t, fault.NotAuthorized())
	assert.Equal(t, "SOAP fault: Sender not Authorized (ter:NotAuthorized)", fault.Error())
}

func TestParseSOAPFault(t *testing.T) {
	assert.NoError(t, parseSOAPFault(nil))
	assert.NoError(t, parseSOAPFault([]byte(envelopeOpen+`<tev:PullMessagesResponse/>`+envelopeClose)))

	soap11 := `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/"><SOAP-ENV:Body>
		<SOAP-ENV:Fault><faultcode>SOAP-ENV:Client</faultcode><faultstring>Bad request</faultstring></SOAP-ENV:Fault>
	</SOAP-ENV:Body></SOAP-ENV:Envelope>`
	var fault *FaultError
	require.ErrorAs(t, parseSOAPFault([]byte(soap11)), &fault)
	assert.Equal(t, "SOAP-ENV:Client", fault.Code)
	assert.Equal(t, "Bad request", fault.Reason)

	truncated := `<s:Envelope><s:Body><s:Fault><s:Reason><s:Text xml:lang="en">Action failed</s:Text></s:Reason>`
	require.ErrorAs(t, parseSOAPFault([]byte(truncated)), &fault)
	assert.Equal(t, "Action failed", fault.Reason)
}

func TestFaultMarkerInPayloadIsNotAFault(t *testing.T) {
	payload := `<tev:PullMessagesResponse>
		<tev:CurrentTime>2024-05-01T12:00:05Z</tev:CurrentTime>
		<tev:TerminationTime>2024-05-01T13:00:05Z</tev:TerminationTime>
		<wsnt:NotificationMessage>
			<wsnt:Topic>tns1:Device/HardwareFailure/PowerSupplyFailure</wsnt:Topic>
			<wsnt:Message><tt:Message UtcTime="2024-05-01T12:00:04Z">
				<tt:Source><tt:SimpleItem Name="Token" Value="psu"/></tt:Source>
				<tt:Data><tt:SimpleItem Name="Status" Value="Power:Fault detected"/></tt:Data>
			</tt:Message></wsnt:Message>
		</wsnt:NotificationMessage>
	</tev:PullMessagesResponse>`
	assert.NoError(t, parseSOAPFault([]byte(envelopeOpen+payload+envelopeClose)))

	cam := newFakeCamera(t)
	cam.reply(actionPullMessages, payload)
	sub := &PullPointSubscription{Address: cam.server.URL + "/onvif/Subscription"}
	result, err := cam.pullPoint().PullMessages(context.Background(), sub, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	status, ok := result.Messages[0].DataItem("Status")
	require.True(t, ok)
	assert.Equal(t, "Power:Fault detected", status)
}

func TestExtractBetweenTags(t *testing.T) {
	assert.Equal(t, "x", extractBetweenTags("<a>x</a>", "a"))
	assert.Equal(t, "y", extractBetweenTags(`<ns:a attr="1">y</ns:a>`, "a"))
	assert.Equal(t, "", extractBetweenTags("<b>x</b>", "a"))
}

func TestBuildEnvelope(t *testing.T) {
	client := NewClient("ad<min", "secret")
	env, err := client.buildEnvelope(soapHeader{
		Action:              actionRenew,
		To:                  "http://cam/sub?a=1&b=2",
		ReferenceParameters: `<x:Id xmlns:x="urn:x">1</x:Id>`,
	}, `<wsnt:Renew/>`)
	require.NoError(t, err)

	assert.Contains(t, env, "<Username>ad&lt;min</Username>")
	assert.Contains(t, env, "http://cam/sub?a=1&amp;b=2</wsa:To>")
	assert.Contains(t, env, `<x:Id xmlns:x="urn:x">1</x:Id>`)
	assert.Contains(t, env, "<s:Body><wsnt:Renew/></s:Body>")

	doc, err := parseDocument([]byte(env))
	require.NoError(t, err, "envelope must be well-formed")
	assert.Equal(t, actionRenew, elementText(doc.Root(), "Header/Action"))
	assert.True(t, strings.HasPrefix(elementText(doc.Root(), "Header/MessageID"), "urn:uuid:"))

	anonymous, err := NewClient("", "").buildEnvelope(soapHeader{Action: actionRenew}, "")
	require.NoError(t, err)
	assert.NotContains(t, anonymous, "UsernameToken")
}

func TestPasswordDigestVaries(t *testing.T) {
	d1, n1, _, err := generatePasswordDigest("secret")
	require.NoError(t, err)
	d2, n2, _, err := generatePasswordDigest("secret")
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
	assert.NotEqual(t, d1, d2)
}
