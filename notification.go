package onvif

import (
	"strings"

	"github.com/beevik/etree"
)

// onvifTopicNamespace is the namespace of the standard topic set. Cameras
// bind it to arbitrary prefixes; topics are rewritten to the tns1 prefix.
const onvifTopicNamespace = "http://www.onvif.org/ver10/topics"

// parseNotifications decodes every NotificationMessage below e, in document order
func parseNotifications(e *etree.Element) []NotificationMessage {
	elements := e.SelectElements("NotificationMessage")
	messages := make([]NotificationMessage, 0, len(elements))
	for _, el := range elements {
		messages = append(messages, parseNotification(el))
	}
	return messages
}

func parseNotification(e *etree.Element) NotificationMessage {
	msg := NotificationMessage{
		SubscriptionAddress: elementText(e, "SubscriptionReference/Address"),
	}

	if topic := e.SelectElement("Topic"); topic != nil {
		msg.Topic = normalizeTopic(topic, topic.Text())
	}

	payload := e.FindElement("Message/Message")
	if payload == nil {
		// Some cameras put Source/Data directly below wsnt:Message
		payload = e.SelectElement("Message")
	}
	if payload == nil {
		return msg
	}

	if utc := payload.SelectAttrValue("UtcTime", ""); utc != "" {
		if t, err := parseTime(utc); err == nil {
			msg.UtcTime = t
		}
	}
	msg.PropertyOperation = payload.SelectAttrValue("PropertyOperation", "")
	msg.Source = simpleItems(payload.SelectElement("Source"))
	msg.Key = simpleItems(payload.SelectElement("Key"))
	msg.Data = simpleItems(payload.SelectElement("Data"))

	return msg
}

func simpleItems(parent *etree.Element) []SimpleItem {
	if parent == nil {
		return nil
	}
	var items []SimpleItem
	for _, item := range parent.SelectElements("SimpleItem") {
		items = append(items, SimpleItem{
			Name:  item.SelectAttrValue("Name", ""),
			Value: item.SelectAttrValue("Value", ""),
		})
	}
	return items
}

// normalizeTopic trims the topic expression and maps the prefix bound to
// the ONVIF topic namespace onto tns1
func normalizeTopic(el *etree.Element, topic string) string {
	topic = strings.TrimSpace(topic)
	topic = strings.TrimRight(topic, "/.")
	if topic == "" {
		return ""
	}

	prefix, rest, ok := strings.Cut(topic, ":")
	if !ok || prefix == "tns1" {
		return topic
	}
	if lookupNamespace(el, prefix) == onvifTopicNamespace {
		return "tns1:" + rest
	}
	return topic
}

// lookupNamespace resolves a prefix against the xmlns declarations in scope at el
func lookupNamespace(el *etree.Element, prefix string) string {
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if a.Space == "xmlns" && a.Key == prefix {
				return a.Value
			}
		}
	}
	return ""
}

// Item returns the value of the named item, looking at Data, then Source, then Key
func (m *NotificationMessage) Item(name string) (string, bool) {
	for _, items := range [][]SimpleItem{m.Data, m.Source, m.Key} {
		for _, item := range items {
			if item.Name == name {
				return item.Value, true
			}
		}
	}
	return "", false
}

// DataItem returns the value of the named Data item
func (m *NotificationMessage) DataItem(name string) (string, bool) {
	for _, item := range m.Data {
		if item.Name == name {
			return item.Value, true
		}
	}
	return "", false
}

// SourceToken returns the value of the first Source item, usually the
// token of the video source, input or rule that raised the event
func (m *NotificationMessage) SourceToken() string {
	if len(m.Source) == 0 {
		return ""
	}
	return m.Source[0].Value
}
