package mqtt

import "fmt"

// Topic builders for the bridge's own lifecycle topics.
//
// All bridge traffic lives under a single configurable namespace segment
// (default "ble"):
//
//	<namespace>/bridge/status — online/offline status, retained (also the LWT topic)
//	<namespace>/bridge/health — periodic health reports, retained
//
// Command and data topics belong to the bridge core, not this package; see
// the bridge package's topic builders.

// StatusTopic returns the retained online/offline status topic.
//
// Example: ble/bridge/status
func StatusTopic(namespace string) string {
	return fmt.Sprintf("%s/bridge/status", namespace)
}

// HealthTopic returns the retained health report topic.
//
// Example: ble/bridge/health
func HealthTopic(namespace string) string {
	return fmt.Sprintf("%s/bridge/health", namespace)
}
