package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvif-events"
)

// DefaultRegistry returns a registry loaded with decoders for the topics
// commonly raised by ONVIF cameras
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("tns1:VideoSource/MotionAlarm",
		binaryDecoder("Motion Alarm", "motion", "", "State", "true"))
	r.Register("tns1:RuleEngine/CellMotionDetector/Motion",
		binaryDecoder("Cell Motion Detection", "motion", "", "IsMotion", "true"))
	r.Register("tns1:RuleEngine/MotionRegionDetector/Motion",
		binaryDecoder("Motion Region Detection", "motion", "", "State", "true"))
	r.Register("tns1:RuleEngine/TamperDetector/Tamper",
		binaryDecoder("Tamper Detection", "problem", CategoryDiagnostic, "IsTamper", "true"))
	r.Register("tns1:RuleEngine/FieldDetector/ObjectsInside",
		binaryDecoder("Field Detection", "motion", "", "IsInside", "true"))
	r.Register("tns1:AudioAnalytics/Audio/DetectedSound",
		binaryDecoder("Detected Sound", "sound", "", "IsSoundDetected", "true"))

	for _, service := range []string{"AnalyticsService", "ImagingService", "RecordingService"} {
		r.Register("tns1:VideoSource/ImageTooBlurry/"+service,
			binaryDecoder("Image Too Blurry", "problem", CategoryDiagnostic, "State", "true"))
		r.Register("tns1:VideoSource/ImageTooDark/"+service,
			binaryDecoder("Image Too Dark", "problem", CategoryDiagnostic, "State", "true"))
		r.Register("tns1:VideoSource/ImageTooBright/"+service,
			binaryDecoder("Image Too Bright", "problem", CategoryDiagnostic, "State", "true"))
		r.Register("tns1:VideoSource/GlobalSceneChange/"+service,
			binaryDecoder("Global Scene Change", "problem", CategoryDiagnostic, "State", "true"))
	}

	r.Register("tns1:RuleEngine/MyRuleDetector/PeopleDetect",
		binaryDecoder("Person Detection", "motion", "", "State", "true"))
	r.Register("tns1:RuleEngine/MyRuleDetector/VehicleDetect",
		binaryDecoder("Vehicle Detection", "motion", "", "State", "true"))
	r.Register("tns1:RuleEngine/MyRuleDetector/FaceDetect",
		binaryDecoder("Face Detection", "motion", "", "State", "true"))
	r.Register("tns1:RuleEngine/MyRuleDetector/Visitor",
		binaryDecoder("Visitor", "occupancy", "", "State", "true"))

	r.Register("tns1:Device/Trigger/DigitalInput",
		binaryDecoder("Digital Input", "", "", "LogicalState", "true"))
	r.Register("tns1:Device/Trigger/Relay",
		binaryDecoder("Relay Triggered", "", "", "LogicalState", "active"))
	r.Register("tns1:RecordingConfig/JobState",
		binaryDecoder("Recording Job State", "", CategoryDiagnostic, "State", "Active"))

	r.Register("tns1:Monitoring/ProcessorUsage", decodeProcessorUsage)
	r.Register("tns1:Monitoring/OperatingTime/LastReboot",
		timestampDecoder("Last Reboot", "Status"))
	r.Register("tns1:Monitoring/OperatingTime/LastReset",
		timestampDecoder("Last Reset", "Status"))
	r.Register("tns1:Monitoring/OperatingTime/LastClockSynchronization",
		timestampDecoder("Last Clock Synchronization", "Status"))
	r.Register("tns1:RuleEngine/LineDetector/Crossed", decodeLineCrossed)

	return r
}

// eventUID builds "<source>_<topic>_<source token>"
func eventUID(sourceID string, msg *onvif.NotificationMessage) string {
	return fmt.Sprintf("%s_%s_%s", sourceID, msg.Topic, msg.SourceToken())
}

// eventName prefixes name with the analytics rule that raised the event, if any
func eventName(name string, msg *onvif.NotificationMessage) string {
	for _, item := range msg.Source {
		if item.Name == "Rule" && item.Value != "" {
			return item.Value + " " + name
		}
	}
	return name
}

func requireData(msg *onvif.NotificationMessage, item string) (string, error) {
	value, ok := msg.DataItem(item)
	if !ok {
		return "", errors.NotFoundf("data item %q in %s", item, msg.Topic)
	}
	return value, nil
}

// binaryDecoder decodes events whose Data item equals active while the
// condition holds
func binaryDecoder(name, deviceClass, category, item, active string) Decoder {
	return func(sourceID string, msg *onvif.NotificationMessage) (*Event, error) {
		value, err := requireData(msg, item)
		if err != nil {
			return nil, err
		}
		return &Event{
			UID:            eventUID(sourceID, msg),
			Name:           eventName(name, msg),
			Platform:       PlatformBinarySensor,
			DeviceClass:    deviceClass,
			Value:          strings.EqualFold(value, active),
			EntityCategory: category,
			EntityEnabled:  category == "",
			Topic:          msg.Topic,
			UtcTime:        msg.UtcTime,
		}, nil
	}
}

func decodeProcessorUsage(sourceID string, msg *onvif.NotificationMessage) (*Event, error) {
	raw, err := requireData(msg, "Value")
	if err != nil {
		return nil, err
	}
	usage, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.NotValidf("processor usage %q", raw)
	}
	// Some cameras report a fraction, others a percentage
	if usage <= 1 {
		usage *= 100
	}
	return &Event{
		UID:            eventUID(sourceID, msg),
		Name:           "Processor Usage",
		Platform:       PlatformSensor,
		Unit:           "%",
		Value:          usage,
		EntityCategory: CategoryDiagnostic,
		EntityEnabled:  false,
		Topic:          msg.Topic,
		UtcTime:        msg.UtcTime,
	}, nil
}

func timestampDecoder(name, item string) Decoder {
	return func(sourceID string, msg *onvif.NotificationMessage) (*Event, error) {
		raw, err := requireData(msg, item)
		if err != nil {
			return nil, err
		}
		var value any
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			value = t.UTC()
		} else {
			value = raw
		}
		return &Event{
			UID:            eventUID(sourceID, msg),
			Name:           name,
			Platform:       PlatformSensor,
			DeviceClass:    "timestamp",
			Value:          value,
			EntityCategory: CategoryDiagnostic,
			EntityEnabled:  false,
			Topic:          msg.Topic,
			UtcTime:        msg.UtcTime,
		}, nil
	}
}

func decodeLineCrossed(sourceID string, msg *onvif.NotificationMessage) (*Event, error) {
	objectID, err := requireData(msg, "ObjectId")
	if err != nil {
		return nil, err
	}
	return &Event{
		UID:           eventUID(sourceID, msg),
		Name:          eventName("Line Detector Crossed", msg),
		Platform:      PlatformSensor,
		Value:         objectID,
		EntityEnabled: true,
		Topic:         msg.Topic,
		UtcTime:       msg.UtcTime,
	}, nil
}
