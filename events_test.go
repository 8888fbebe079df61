package onvif

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const envelopeOpen = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"
	xmlns:tt="http://www.onvif.org/ver10/schema"
	xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"
	xmlns:tev="http://www.onvif.org/ver10/events/wsdl"
	xmlns:wsa5="http://www.w3.org/2005/08/addressing"
	xmlns:dom0="http://www.axis.com/2009/event"
	xmlns:tns1="http://www.onvif.org/ver10/topics"
	xmlns:ns9="http://www.onvif.org/ver10/topics">
<env:Body>`

const envelopeClose = `</env:Body></env:Envelope>`

// fakeCamera answers event service requests by SOAP action
type fakeCamera struct {
	t       *testing.T
	mu      sync.Mutex
	server  *httptest.Server
	replies map[string]string
	status  map[string]int
	bodies  map[string]string
	paths   map[string]string
}

func newFakeCamera(t *testing.T) *fakeCamera {
	cam := &fakeCamera{
		t:       t,
		replies: map[string]string{},
		status:  map[string]int{},
		bodies:  map[string]string{},
		paths:   map[string]string{},
	}
	cam.server = httptest.NewServer(http.HandlerFunc(cam.handle))
	t.Cleanup(cam.server.Close)
	return cam
}

func (c *fakeCamera) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(c.t, err)
	action := r.Header.Get("SOAPAction")

	c.mu.Lock()
	c.bodies[action] = string(body)
	c.paths[action] = r.URL.Path
	reply, ok := c.replies[action]
	status := c.status[action]
	c.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}

func (c *fakeCamera) reply(action, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[action] = envelopeOpen + body + envelopeClose
}

func (c *fakeCamera) request(action string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[action]
}

func (c *fakeCamera) path(action string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paths[action]
}

func (c *fakeCamera) pullPoint() *PullPointClient {
	client := NewClient("admin", "secret")
	return client.PullPoint(&Camera{
		Address:   c.server.URL + "/onvif/device_service",
		EventsURL: c.server.URL + "/onvif/event_service",
	})
}

func (c *fakeCamera) subscriptionReply() string {
	return `<tev:CreatePullPointSubscriptionResponse>
		<tev:SubscriptionReference>
			<wsa5:Address>` + c.server.URL + `/onvif/Subscription?Idx=3</wsa5:Address>
			<wsa5:ReferenceParameters><dom0:SubscriptionId>42</dom0:SubscriptionId></wsa5:ReferenceParameters>
		</tev:SubscriptionReference>
		<wsnt:CurrentTime>2024-05-01T12:00:00Z</wsnt:CurrentTime>
		<wsnt:TerminationTime>2024-05-02T12:00:00Z</wsnt:TerminationTime>
	</tev:CreatePullPointSubscriptionResponse>`
}

func TestPullPoint_CreateSubscription(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionCreatePullPointSubscription, cam.subscriptionReply())

	sub, err := cam.pullPoint().CreateSubscription(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, cam.server.URL+"/onvif/Subscription?Idx=3", sub.Address)
	assert.Contains(t, sub.ReferenceParameters, "<dom0:SubscriptionId")
	assert.Contains(t, sub.ReferenceParameters, `xmlns:dom0="http://www.axis.com/2009/event"`)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), sub.CurrentTime)
	assert.Equal(t, time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC), sub.TerminationTime)

	req := cam.request(actionCreatePullPointSubscription)
	assert.Contains(t, req, "<tev:InitialTerminationTime>PT24H</tev:InitialTerminationTime>")
	assert.Contains(t, req, "<Username>admin</Username>")
	assert.Contains(t, req, "#PasswordDigest")
	assert.Contains(t, req, "<wsa:MessageID>urn:uuid:")
	assert.NotContains(t, req, "<wsa:To")
	assert.Equal(t, "/onvif/event_service", cam.path(actionCreatePullPointSubscription))
}

func TestPullPoint_CreateSubscriptionWithoutAddress(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionCreatePullPointSubscription,
		`<tev:CreatePullPointSubscriptionResponse><tev:SubscriptionReference/></tev:CreatePullPointSubscriptionResponse>`)

	_, err := cam.pullPoint().CreateSubscription(context.Background(), time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.False(t, IsTransient(err))
}

func TestPullPoint_PullMessages(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionPullMessages, `<tev:PullMessagesResponse>
		<tev:CurrentTime>2024-05-01T12:00:05Z</tev:CurrentTime>
		<tev:TerminationTime>2024-05-01T13:00:05Z</tev:TerminationTime>
		<wsnt:NotificationMessage>
			<wsnt:Topic Dialect="http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet">tns1:VideoSource/MotionAlarm</wsnt:Topic>
			<wsnt:Message>
				<tt:Message UtcTime="2024-05-01T12:00:04Z" PropertyOperation="Changed">
					<tt:Source><tt:SimpleItem Name="Source" Value="VideoSource_1"/></tt:Source>
					<tt:Data><tt:SimpleItem Name="State" Value="true"/></tt:Data>
				</tt:Message>
			</wsnt:Message>
		</wsnt:NotificationMessage>
		<wsnt:NotificationMessage>
			<wsnt:Topic Dialect="http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet">ns9:RuleEngine/TamperDetector/Tamper/</wsnt:Topic>
			<wsnt:Message>
				<tt:Message UtcTime="2024-05-01T12:00:04.500Z">
					<tt:Source><tt:SimpleItem Name="VideoSourceConfigurationToken" Value="vsc"/></tt:Source>
					<tt:Key><tt:SimpleItem Name="Id" Value="7"/></tt:Key>
					<tt:Data><tt:SimpleItem Name="IsTamper" Value="false"/></tt:Data>
				</tt:Message>
			</wsnt:Message>
		</wsnt:NotificationMessage>
		<wsnt:NotificationMessage>
			<wsnt:Message><tt:Message/></wsnt:Message>
		</wsnt:NotificationMessage>
	</tev:PullMessagesResponse>`)

	sub := &PullPointSubscription{
		Address:             cam.server.URL + "/onvif/Subscription?Idx=3",
		ReferenceParameters: `<dom0:SubscriptionId xmlns:dom0="http://www.axis.com/2009/event">42</dom0:SubscriptionId>`,
	}
	result, err := cam.pullPoint().PullMessages(context.Background(), sub, 50, time.Minute)
	require.NoError(t, err)

	require.Len(t, result.Messages, 3)
	motion := result.Messages[0]
	assert.Equal(t, "tns1:VideoSource/MotionAlarm", motion.Topic)
	assert.Equal(t, "Changed", motion.PropertyOperation)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 4, 0, time.UTC), motion.UtcTime)
	assert.Equal(t, "VideoSource_1", motion.SourceToken())
	state, ok := motion.DataItem("State")
	require.True(t, ok)
	assert.Equal(t, "true", state)

	tamper := result.Messages[1]
	assert.Equal(t, "tns1:RuleEngine/TamperDetector/Tamper", tamper.Topic, "prefix mapped and trailing slash trimmed")
	id, ok := tamper.Item("Id")
	require.True(t, ok)
	assert.Equal(t, "7", id)

	assert.Empty(t, result.Messages[2].Topic)

	assert.Equal(t, time.Date(2024, 5, 1, 13, 0, 5, 0, time.UTC), result.TerminationTime)
	assert.Equal(t, result.TerminationTime, sub.TerminationTime)

	req := cam.request(actionPullMessages)
	assert.Contains(t, req, "<tev:Timeout>PT1M</tev:Timeout>")
	assert.Contains(t, req, "<tev:MessageLimit>50</tev:MessageLimit>")
	assert.Contains(t, req, `<wsa:To s:mustUnderstand="1">`+cam.server.URL+`/onvif/Subscription?Idx=3</wsa:To>`)
	assert.Contains(t, req, ">42</dom0:SubscriptionId>")
	assert.Equal(t, "/onvif/Subscription", cam.path(actionPullMessages))
}

func TestPullPoint_RenewAndUnsubscribe(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionRenew, `<wsnt:RenewResponse>
		<wsnt:TerminationTime>2024-05-02T13:00:00Z</wsnt:TerminationTime>
		<wsnt:CurrentTime>2024-05-01T13:00:00Z</wsnt:CurrentTime>
	</wsnt:RenewResponse>`)
	cam.reply(actionUnsubscribe, `<wsnt:UnsubscribeResponse/>`)
	cam.reply(actionSetSynchronizationPoint, `<tev:SetSynchronizationPointResponse/>`)

	pp := cam.pullPoint()
	sub := &PullPointSubscription{Address: cam.server.URL + "/onvif/Subscription?Idx=3"}

	termination, err := pp.Renew(context.Background(), sub, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 2, 13, 0, 0, 0, time.UTC), termination)
	assert.Equal(t, termination, sub.TerminationTime)
	assert.Contains(t, cam.request(actionRenew), "<wsnt:TerminationTime>PT24H</wsnt:TerminationTime>")

	require.NoError(t, pp.SetSynchronizationPoint(context.Background(), sub))
	require.NoError(t, pp.Unsubscribe(context.Background(), sub))
	assert.Contains(t, cam.request(actionUnsubscribe), "<wsnt:Unsubscribe/>")
}

func TestPullPoint_FaultIsTransient(t *testing.T) {
	cam := newFakeCamera(t)
	cam.reply(actionPullMessages, `<env:Fault>
		<env:Code><env:Value>env:Receiver</env:Value>
			<env:Subcode><env:Value>ter:Action</env:Value></env:Subcode>
		</env:Code>
		<env:Reason><env:Text xml:lang="en">Subscription not found</env:Text></env:Reason>
	</env:Fault>`)
	cam.mu.Lock()
	cam.status[actionPullMessages] = http.StatusBadRequest
	cam.mu.Unlock()

	sub := &PullPointSubscription{Address: cam.server.URL + "/onvif/Subscription?Idx=3"}
	_, err := cam.pullPoint().PullMessages(context.Background(), sub, 10, time.Second)
	require.Error(t, err)

	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "env:Receiver", fault.Code)
	assert.Equal(t, "ter:Action", fault.Subcode)
	assert.Equal(t, "Subscription not found", fault.Reason)
	assert.True(t, IsTransient(err))
}

func TestPullPoint_HTTPErrorIsTransient(t *testing.T) {
	cam := newFakeCamera(t)
	sub := &PullPointSubscription{Address: cam.server.URL + "/onvif/Subscription?Idx=3"}

	// No reply registered: the camera answers 404 with an empty body
	_, err := cam.pullPoint().PullMessages(context.Background(), sub, 10, time.Second)
	require.Error(t, err)

	var status *HTTPStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.StatusCode)
	assert.True(t, IsTransient(err))
}

func TestPullPoint_ConnectionFailureIsTransient(t *testing.T) {
	cam := newFakeCamera(t)
	pp := cam.pullPoint()
	sub := &PullPointSubscription{Address: cam.server.URL + "/onvif/Subscription"}
	cam.server.Close()

	_, err := pp.PullMessages(context.Background(), sub, 10, time.Second)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestPullPoint_MalformedReplyIsFatal(t *testing.T) {
	cam := newFakeCamera(t)
	cam.mu.Lock()
	cam.replies[actionPullMessages] = "camera firmware error"
	cam.mu.Unlock()

	sub := &PullPointSubscription{Address: cam.server.URL + "/onvif/Subscription"}
	_, err := cam.pullPoint().PullMessages(context.Background(), sub, 10, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.False(t, IsTransient(err))
}

func TestPullPoint_ContextDeadline(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	pp := NewClient("", "").PullPoint(&Camera{Address: server.URL + "/onvif/device_service"})
	sub := &PullPointSubscription{Address: server.URL + "/onvif/Subscription"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pp.PullMessages(ctx, sub, 10, time.Second)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = pp.PullMessages(ctx, sub, 10, time.Second)
	require.Error(t, err)
	assert.False(t, IsTransient(err), "cancellation is not a camera failure")
}

func TestResolveEventsURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.2/onvif/event_service",
		resolveEventsURL(&Camera{Address: "http://10.0.0.2/onvif/device_service http://[fe80::1]/onvif/device_service"}))
	assert.Equal(t, "http://10.0.0.2:8080/events",
		resolveEventsURL(&Camera{Address: "http://10.0.0.2/onvif/device_service", EventsURL: "http://10.0.0.2:8080/events"}))
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                "PT0S",
		5 * time.Second:  "PT5S",
		60 * time.Second: "PT1M",
		24 * time.Hour:   "PT24H",
		time.Hour + 2*time.Minute + 3*time.Second: "PT1H2M3S",
	}
	for d, want := range cases {
		assert.Equal(t, want, formatDuration(d), d.String())
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-05-01T12:00:00Z", "2024-05-01T14:00:00+02:00", "2024-05-01T12:00:00", " 2024-05-01T12:00:00.000Z "} {
		got, err := parseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}

	_, err := parseTime("yesterday")
	assert.Error(t, err)
}

func TestSourceID(t *testing.T) {
	assert.Equal(t, "SN123", (&Camera{SerialNumber: "SN123", HardwareId: "hw"}).SourceID())
	assert.Equal(t, "hw", (&Camera{HardwareId: "hw"}).SourceID())
	assert.Equal(t, "http://cam/onvif/device_service",
		(&Camera{Address: "http://cam/onvif/device_service http://cam2"}).SourceID())
	assert.True(t, strings.HasPrefix((&Camera{Address: "http://cam"}).GetDisplayName(), "http://cam"))
}
