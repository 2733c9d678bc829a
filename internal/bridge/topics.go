package bridge

import (
	"fmt"
	"strings"
)

// Topic layout, with namespace ns (default "ble"):
//
//	ns/+/commands                    — inbound subscription filter
//	ns/scan/commands                 — inbound scan request (integer seconds)
//	ns/<alias>/commands              — inbound device command batch (JSON)
//	ns/<address>/rssi                — signal strength at discovery
//	ns/<address>/advertisement/<id>  — one advertised field, id in hex
//	ns/<address>/advertisement/json  — all advertised fields as a JSON map
//	ns/<alias>/data/<key>            — command result, retained
//	ns/<path>/error                  — error descriptions
//
// scanSegment is the reserved command-topic segment that triggers a scan
// instead of a device batch; everything else is treated as a device alias.
const scanSegment = "scan"

// CommandFilter returns the wildcard subscription filter for all inbound
// command topics.
//
// Example: ble/+/commands
func CommandFilter(namespace string) string {
	return fmt.Sprintf("%s/+/commands", namespace)
}

// ScanCommandTopic returns the topic a scan request is published to.
//
// Example: ble/scan/commands
func ScanCommandTopic(namespace string) string {
	return fmt.Sprintf("%s/%s/commands", namespace, scanSegment)
}

// CommandTopic returns the topic a device command batch is published to.
//
// Example: ble/livingroom_sensor/commands
func CommandTopic(namespace, alias string) string {
	return fmt.Sprintf("%s/%s/commands", namespace, alias)
}

// DataTopic returns the retained result topic for one result key.
//
// Example: ble/livingroom_sensor/data/battery
func DataTopic(namespace, alias, key string) string {
	return fmt.Sprintf("%s/%s/data/%s", namespace, alias, key)
}

// RSSITopic returns the signal-strength topic for a discovered device.
//
// Example: ble/aa:bb:cc:dd:ee:ff/rssi
func RSSITopic(namespace, address string) string {
	return fmt.Sprintf("%s/%s/rssi", namespace, address)
}

// AdvertisementTopic returns the topic for one advertised field, keyed by
// the field's advertising data type in hex.
//
// Example: ble/aa:bb:cc:dd:ee:ff/advertisement/09
func AdvertisementTopic(namespace, address string, fieldID uint8) string {
	return fmt.Sprintf("%s/%s/advertisement/%02x", namespace, address, fieldID)
}

// AdvertisementJSONTopic returns the combined advertisement topic carrying
// every advertised field as one JSON map.
//
// Example: ble/aa:bb:cc:dd:ee:ff/advertisement/json
func AdvertisementJSONTopic(namespace, address string) string {
	return fmt.Sprintf("%s/%s/advertisement/json", namespace, address)
}

// ErrorTopic returns the error topic for a device or path segment.
//
// Example: ble/livingroom_sensor/error
func ErrorTopic(namespace, path string) string {
	return fmt.Sprintf("%s/%s/error", namespace, path)
}

// ScanErrorTopic returns the error topic for scan failures.
func ScanErrorTopic(namespace string) string {
	return ErrorTopic(namespace, "scanning")
}

// ProcessErrorTopic returns the error topic for inbound messages that fail
// before a device or scan path is even reached.
func ProcessErrorTopic(namespace string) string {
	return ErrorTopic(namespace, "process_commands")
}

// ParseCommandTopic extracts the middle segment from an inbound command
// topic of the form <namespace>/<segment>/commands. Returns false for any
// other shape.
func ParseCommandTopic(namespace, topic string) (segment string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return "", false
	}
	if parts[0] != namespace || parts[2] != "commands" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// IsScanSegment reports whether a command-topic segment addresses the
// scan path rather than a device.
func IsScanSegment(segment string) bool {
	return segment == scanSegment
}
