package onvif

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const (
	actionCreatePullPointSubscription = "http://www.onvif.org/ver10/events/wsdl/EventPortType/CreatePullPointSubscriptionRequest"
	actionPullMessages                = "http://www.onvif.org/ver10/events/wsdl/PullPointSubscription/PullMessagesRequest"
	actionSetSynchronizationPoint     = "http://www.onvif.org/ver10/events/wsdl/PullPointSubscription/SetSynchronizationPointRequest"
	actionRenew                       = "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/RenewRequest"
	actionUnsubscribe                 = "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/UnsubscribeRequest"
)

// PullPointClient performs the pull-point event service operations against
// one camera
type PullPointClient struct {
	client *Client
	camera *Camera
}

// CreateSubscription creates a pull-point subscription that expires after
// lifetime unless renewed
func (p *PullPointClient) CreateSubscription(ctx context.Context, lifetime time.Duration) (*PullPointSubscription, error) {
	eventsURL := resolveEventsURL(p.camera)

	body := fmt.Sprintf(`<tev:CreatePullPointSubscription>
		<tev:InitialTerminationTime>%s</tev:InitialTerminationTime>
	</tev:CreatePullPointSubscription>`, formatDuration(lifetime))

	resp, err := p.client.sendSOAPRequest(ctx, eventsURL, soapHeader{Action: actionCreatePullPointSubscription}, body)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to create pull-point subscription on %s", eventsURL)
	}

	doc, err := parseDocument(resp)
	if err != nil {
		return nil, errors.Trace(err)
	}

	created := doc.FindElement("//CreatePullPointSubscriptionResponse")
	if created == nil {
		return nil, malformedf(nil, "no CreatePullPointSubscriptionResponse from %s", eventsURL)
	}

	sub := &PullPointSubscription{
		Address: elementText(created, "SubscriptionReference/Address"),
	}
	if sub.Address == "" {
		return nil, malformedf(nil, "subscription reference without address from %s", eventsURL)
	}
	if params := created.FindElement("SubscriptionReference/ReferenceParameters"); params != nil {
		sub.ReferenceParameters = serializeChildren(params)
	}
	sub.CurrentTime, sub.TerminationTime = readTimes(created)

	return sub, nil
}

// SetSynchronizationPoint asks the camera to re-send the current state of
// every property event on the next pull
func (p *PullPointClient) SetSynchronizationPoint(ctx context.Context, sub *PullPointSubscription) error {
	_, err := p.client.sendSOAPRequest(ctx, sub.Address, subscriptionHeader(actionSetSynchronizationPoint, sub),
		`<tev:SetSynchronizationPoint/>`)
	if err != nil {
		return errors.Annotate(err, "failed to set synchronization point")
	}
	return nil
}

// PullMessages retrieves up to limit buffered notifications. The camera holds
// the request for at most timeout when nothing is buffered, so ctx must allow
// for longer than timeout.
func (p *PullPointClient) PullMessages(ctx context.Context, sub *PullPointSubscription, limit int, timeout time.Duration) (*PullMessagesResult, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	body := fmt.Sprintf(`<tev:PullMessages>
		<tev:Timeout>%s</tev:Timeout>
		<tev:MessageLimit>%d</tev:MessageLimit>
	</tev:PullMessages>`, formatDuration(timeout), limit)

	resp, err := p.client.sendSOAPRequest(ctx, sub.Address, subscriptionHeader(actionPullMessages, sub), body)
	if err != nil {
		return nil, errors.Annotate(err, "failed to pull messages")
	}

	doc, err := parseDocument(resp)
	if err != nil {
		return nil, errors.Trace(err)
	}

	pulled := doc.FindElement("//PullMessagesResponse")
	if pulled == nil {
		return nil, malformedf(nil, "no PullMessagesResponse from %s", sub.Address)
	}

	result := &PullMessagesResult{Messages: parseNotifications(pulled)}
	result.CurrentTime, result.TerminationTime = readTimes(pulled)
	if !result.TerminationTime.IsZero() {
		sub.CurrentTime, sub.TerminationTime = result.CurrentTime, result.TerminationTime
	}

	return result, nil
}

// Renew extends the subscription to expire lifetime from now and returns the
// termination time granted by the camera
func (p *PullPointClient) Renew(ctx context.Context, sub *PullPointSubscription, lifetime time.Duration) (time.Time, error) {
	body := fmt.Sprintf(`<wsnt:Renew>
		<wsnt:TerminationTime>%s</wsnt:TerminationTime>
	</wsnt:Renew>`, formatDuration(lifetime))

	resp, err := p.client.sendSOAPRequest(ctx, sub.Address, subscriptionHeader(actionRenew, sub), body)
	if err != nil {
		return time.Time{}, errors.Annotate(err, "failed to renew subscription")
	}

	doc, err := parseDocument(resp)
	if err != nil {
		return time.Time{}, errors.Trace(err)
	}

	renewed := doc.FindElement("//RenewResponse")
	if renewed == nil {
		return time.Time{}, malformedf(nil, "no RenewResponse from %s", sub.Address)
	}

	current, termination := readTimes(renewed)
	if !termination.IsZero() {
		sub.CurrentTime, sub.TerminationTime = current, termination
	}
	return termination, nil
}

// Unsubscribe terminates the subscription on the camera
func (p *PullPointClient) Unsubscribe(ctx context.Context, sub *PullPointSubscription) error {
	_, err := p.client.sendSOAPRequest(ctx, sub.Address, subscriptionHeader(actionUnsubscribe, sub),
		`<wsnt:Unsubscribe/>`)
	if err != nil {
		return errors.Annotate(err, "failed to unsubscribe")
	}
	return nil
}

func subscriptionHeader(action string, sub *PullPointSubscription) soapHeader {
	return soapHeader{
		Action:              action,
		To:                  sub.Address,
		ReferenceParameters: sub.ReferenceParameters,
	}
}

// readTimes returns the CurrentTime and TerminationTime children of e.
// Missing or unparsable values are left zero.
func readTimes(e *etree.Element) (current, termination time.Time) {
	if s := elementText(e, "CurrentTime"); s != "" {
		current, _ = parseTime(s)
	}
	if s := elementText(e, "TerminationTime"); s != "" {
		termination, _ = parseTime(s)
	}
	return current, termination
}

// serializeChildren renders the child elements of e as standalone XML,
// declaring on each the namespaces its subtree relies on
func serializeChildren(e *etree.Element) string {
	var out string
	for _, child := range e.ChildElements() {
		cp := child.Copy()
		declared := map[string]bool{}
		for _, a := range cp.Attr {
			if a.Space == "xmlns" {
				declared[a.Key] = true
			}
		}
		declareNamespaces(child, cp, declared)

		doc := etree.NewDocument()
		doc.SetRoot(cp)
		doc.WriteSettings.CanonicalEndTags = true
		s, err := doc.WriteToString()
		if err != nil {
			continue
		}
		out += s
	}
	return out
}

func declareNamespaces(orig, root *etree.Element, declared map[string]bool) {
	if orig.Space != "" && orig.Space != "xmlns" && !declared[orig.Space] {
		if uri := lookupNamespace(orig, orig.Space); uri != "" {
			root.CreateAttr("xmlns:"+orig.Space, uri)
			declared[orig.Space] = true
		}
	}
	for _, c := range orig.ChildElements() {
		declareNamespaces(c, root, declared)
	}
}
